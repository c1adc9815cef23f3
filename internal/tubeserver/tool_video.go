package tubeserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/toolutil"
)

// VideoInput is the input of youtube_video.
type VideoInput struct {
	VideoID string `json:"video_id" jsonschema:"Video id"`
	Refresh bool   `json:"refresh,omitempty" jsonschema:"Bypass cached metadata, e.g. to renew stream URLs that expired (about 6h lifetime)"`
}

// VideoOutput is the metadata of one video. Format and manifest URLs are
// routed through the proxy prefix.
type VideoOutput struct {
	Video           toolutil.EntryView `json:"video"`
	ChannelID       string             `json:"channel_id,omitempty"`
	UploaderID      string             `json:"uploader_id,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
	HLSManifestURL  string             `json:"hls_manifest_url,omitempty"`
	DASHManifestURL string             `json:"dash_manifest_url,omitempty"`
	Formats         []engine.Format    `json:"formats"`
}

func (s *Server) video(ctx context.Context, in VideoInput) (VideoOutput, error) {
	id := strings.TrimSpace(in.VideoID)
	if id == "" {
		return VideoOutput{}, fmt.Errorf("video_id is required")
	}
	v, err := s.src.Video(ctx, id, in.Refresh)
	if err != nil {
		return VideoOutput{}, err
	}

	view := toolutil.NewEntryView(v.VideoEntry, s.proxyPrefix)
	view.Description = v.Description
	out := VideoOutput{
		Video:           view,
		ChannelID:       v.ChannelID,
		UploaderID:      v.UploaderID,
		Tags:            v.Tags,
		HLSManifestURL:  toolutil.ProxyURL(s.proxyPrefix, v.HLSManifestURL),
		DASHManifestURL: toolutil.ProxyURL(s.proxyPrefix, v.DASHManifestURL),
		Formats:         make([]engine.Format, len(v.Formats)),
	}
	for i, f := range v.Formats {
		f.URL = toolutil.ProxyURL(s.proxyPrefix, f.URL)
		f.ManifestURL = toolutil.ProxyURL(s.proxyPrefix, f.ManifestURL)
		out.Formats[i] = f
	}
	return out, nil
}

func (s *Server) registerVideo(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "youtube_video",
		Description: "Get a YouTube video's metadata and its downloadable formats (codecs, resolution, bitrate, proxied URLs). Set refresh to bypass the cache when stream URLs expired.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input VideoInput) (*mcp.CallToolResult, VideoOutput, error) {
		out, err := s.video(ctx, input)
		return nil, out, err
	})
}
