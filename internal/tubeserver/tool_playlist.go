package tubeserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/toolutil"
)

// PlaylistInput is the input of youtube_playlist.
type PlaylistInput struct {
	List         string `json:"list" jsonschema:"Playlist id (PL..., UU..., RD...) or a URL with list="`
	Find         string `json:"find,omitempty" jsonschema:"attr:value of an item to locate, e.g. id:dQw4w9WgXcQ; reported in found with its nth position"`
	PaginationID string `json:"pagination_id,omitempty" jsonschema:"Cursor id from a previous call; omit to start a new listing"`
	Page         int    `json:"page,omitempty" jsonschema:"First page of a new listing (default 1)"`
	PerPage      int    `json:"per_page,omitempty" jsonschema:"Items per page (default 12, max 100)"`
}

func (s *Server) playlist(ctx context.Context, in PlaylistInput) (ListOutput, error) {
	if strings.TrimSpace(in.List) == "" {
		return ListOutput{}, fmt.Errorf("list is required")
	}
	find, err := toolutil.ParseFind(in.Find)
	if err != nil {
		return ListOutput{}, err
	}

	p := pageParams{id: in.PaginationID, page: in.Page, perPage: in.PerPage, find: find}
	var owner *engine.PlaylistResult
	out, _, err := s.page(ctx, s.playlists, p, func(ctx context.Context, w engine.Window) (*engine.Listing, error) {
		res, err := s.src.Playlist(ctx, in.List, w)
		if err != nil {
			return nil, err
		}
		owner = res
		return &res.Listing, nil
	})
	if err != nil {
		return ListOutput{}, err
	}
	if owner != nil && owner.ChannelName != "" {
		out.Channel = &ChannelInfo{Name: owner.ChannelName, URL: owner.ChannelURL}
	}
	return out, nil
}

func (s *Server) registerPlaylist(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "youtube_playlist",
		Description: "List the videos of a YouTube playlist in order; each item carries its nth position. Optional find locates a known item (e.g. id:VIDEO_ID) among the fetched pages. Paginated with pagination_id.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input PlaylistInput) (*mcp.CallToolResult, ListOutput, error) {
		out, err := s.playlist(ctx, input)
		return nil, out, err
	})
}
