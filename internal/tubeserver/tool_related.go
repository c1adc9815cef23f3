package tubeserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_tube/internal/engine/related"
)

// RelatedInput is the input of youtube_related.
type RelatedInput struct {
	VideoID      string `json:"video_id" jsonschema:"Id of the watched video"`
	VideoName    string `json:"video_name" jsonschema:"Title of the watched video"`
	UploaderID   string `json:"uploader_id,omitempty" jsonschema:"Uploader handle, e.g. @name"`
	ChannelName  string `json:"channel_name,omitempty" jsonschema:"Channel display name"`
	ChannelURL   string `json:"channel_url,omitempty" jsonschema:"Channel URL; enables the channel-scoped search"`
	ChannelID    string `json:"channel_id,omitempty" jsonschema:"Channel id (UC...), used when channel_url is empty"`
	PaginationID string `json:"pagination_id,omitempty" jsonschema:"Cursor id from a previous call; omit to start"`
	PerPage      int    `json:"per_page,omitempty" jsonschema:"Maximum items per page (default 12, max 100)"`
}

func (in RelatedInput) target() related.Target {
	t := related.Target{
		VideoID:     strings.TrimSpace(in.VideoID),
		VideoName:   in.VideoName,
		UploaderID:  in.UploaderID,
		ChannelName: in.ChannelName,
		ChannelURL:  strings.TrimSpace(in.ChannelURL),
	}
	if t.ChannelURL == "" && in.ChannelID != "" {
		t.ChannelURL = "https://www.youtube.com/channel/" + url.PathEscape(in.ChannelID)
	}
	return t
}

func (s *Server) relatedVideos(ctx context.Context, in RelatedInput) (ListOutput, error) {
	if strings.TrimSpace(in.VideoID) == "" || strings.TrimSpace(in.VideoName) == "" {
		return ListOutput{}, fmt.Errorf("video_id and video_name are required")
	}
	p := pageParams{id: in.PaginationID, perPage: in.PerPage}
	c := s.related.GetOrCreate(in.PaginationID, func(id string) *related.Cursor {
		return related.NewCursor(p.cursorParams(id), in.target())
	})
	c.Advance()

	var warning string
	if err := s.finder.Find(ctx, c); err != nil {
		if !errors.Is(err, related.ErrAllStrategiesFailed) {
			return ListOutput{}, err
		}
		slog.Warn("related: no strategy succeeded",
			slog.String("video_id", in.VideoID), slog.Any("error", err))
		warning = "upstream unavailable, no related videos could be fetched; retry later"
	}

	out := s.render(c.Cursor, c.Items())
	out.Warning = warning
	for i := range out.Items {
		out.Items[i].URL = stripPlaylistParams(out.Items[i].URL)
	}
	return out, nil
}

// stripPlaylistParams drops list and index so related items open as plain videos.
func stripPlaylistParams(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	q.Del("list")
	q.Del("index")
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Server) registerRelated(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "youtube_related",
		Description: "Find videos related to a watched video without YouTube's recommendation feed: combines a channel-scoped search, a title search and playlists containing similar videos, ranked by signal strength. Paginated with pagination_id; ids already returned are never repeated.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input RelatedInput) (*mcp.CallToolResult, ListOutput, error) {
		out, err := s.relatedVideos(ctx, input)
		return nil, out, err
	})
}
