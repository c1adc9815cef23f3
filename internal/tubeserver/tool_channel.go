package tubeserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// ChannelInput is the input of youtube_channel.
type ChannelInput struct {
	Channel      string `json:"channel" jsonschema:"Channel id (UC...), @handle or channel URL"`
	Tab          string `json:"tab,omitempty" jsonschema:"videos (default), shorts, streams, playlists, featured or search"`
	Query        string `json:"query,omitempty" jsonschema:"Search query inside the channel (tab=search)"`
	PaginationID string `json:"pagination_id,omitempty" jsonschema:"Cursor id from a previous call; omit to start a new listing"`
	Page         int    `json:"page,omitempty" jsonschema:"First page of a new listing (default 1)"`
	PerPage      int    `json:"per_page,omitempty" jsonschema:"Items per page (default 12, max 100)"`
}

var channelTabs = map[string]bool{
	"": true, "videos": true, "shorts": true, "streams": true,
	"playlists": true, "featured": true, "search": true,
}

func (s *Server) channel(ctx context.Context, in ChannelInput) (ListOutput, error) {
	if strings.TrimSpace(in.Channel) == "" {
		return ListOutput{}, fmt.Errorf("channel is required")
	}
	tab := strings.ToLower(strings.TrimSpace(in.Tab))
	if !channelTabs[tab] {
		return ListOutput{}, fmt.Errorf("unknown tab %q", in.Tab)
	}
	if tab == "search" && strings.TrimSpace(in.Query) == "" {
		return ListOutput{}, fmt.Errorf("query is required for tab=search")
	}

	var info *engine.ChannelResult
	p := pageParams{id: in.PaginationID, page: in.Page, perPage: in.PerPage}
	out, _, err := s.page(ctx, s.channels, p, func(ctx context.Context, w engine.Window) (*engine.Listing, error) {
		res, err := s.src.Channel(ctx, in.Channel, tab, in.Query, w)
		if err != nil {
			return nil, err
		}
		info = res
		return &res.Listing, nil
	})
	if err != nil {
		return ListOutput{}, err
	}

	if info != nil {
		out.Channel = &ChannelInfo{
			ID:          info.ChannelID,
			Name:        info.Title,
			Handle:      info.Handle,
			URL:         info.URL,
			Description: info.Description,
			Subscribers: info.Subscribers,
		}
	}
	return out, nil
}

func (s *Server) registerChannel(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "youtube_channel",
		Description: "List a YouTube channel tab (videos, shorts, streams, playlists, featured) or search inside a channel. Paginated with pagination_id.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input ChannelInput) (*mcp.CallToolResult, ListOutput, error) {
		out, err := s.channel(ctx, input)
		return nil, out, err
	})
}
