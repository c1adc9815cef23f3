package tubeserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/engine/streaming"
)

const maxManifestBytes = 2 * 1024 * 1024

// HLSMasterInput is the input of hls_master.
type HLSMasterInput struct {
	VideoID    string  `json:"video_id" jsonschema:"Video id"`
	VariantAPI string  `json:"variant_api,omitempty" jsonschema:"URL prefix each rendition's format id is appended to (default: hls_variant?video_id=<id>&format_id=)"`
	Height     int     `json:"height,omitempty" jsonschema:"Keep only streams of this height"`
	FPS        float64 `json:"fps,omitempty" jsonschema:"Frame rate paired with height (default 30)"`
}

// HLSVariantInput is the input of hls_variant.
type HLSVariantInput struct {
	VideoID  string `json:"video_id" jsonschema:"Video id"`
	FormatID string `json:"format_id" jsonschema:"Format id from the master playlist or youtube_video"`
	ProxyAPI string `json:"proxy_api,omitempty" jsonschema:"URL template whose %s is replaced by the escaped media URL (default: the server proxy prefix)"`
}

// PlaylistOutput is one HLS playlist.
type PlaylistOutput struct {
	MimeType string `json:"mime_type"`
	Source   string `json:"source" jsonschema:"synthesized from formats, or upstream (patched live manifest)"`
	Playlist string `json:"playlist"`
}

func (s *Server) hlsMaster(ctx context.Context, in HLSMasterInput) (out PlaylistOutput, err error) {
	id := strings.TrimSpace(in.VideoID)
	if id == "" {
		return PlaylistOutput{}, fmt.Errorf("video_id is required")
	}
	defer func() { countManifest(err) }()

	v, err := s.src.Video(ctx, id, false)
	if err != nil {
		return PlaylistOutput{}, err
	}

	out = PlaylistOutput{MimeType: streaming.HLSMime}
	if v.HLSManifestURL != "" {
		out.Source = "upstream"
		out.Playlist, err = s.upstreamManifest(ctx, v.HLSManifestURL)
		if err != nil {
			return PlaylistOutput{}, err
		}
	} else {
		api := in.VariantAPI
		if api == "" {
			api = "hls_variant?video_id=" + url.QueryEscape(id) + "&format_id="
		}
		out.Source = "synthesized"
		out.Playlist = streaming.MasterPlaylist(api, v.Formats)
	}

	if in.Height > 0 {
		fps := in.FPS
		if fps == 0 {
			fps = 30
		}
		out.Playlist = streaming.FilterMasterPlaylist(out.Playlist, in.Height, fps)
	}
	return out, nil
}

// upstreamManifest fetches a live master playlist and proxies its URLs.
func (s *Server) upstreamManifest(ctx context.Context, manifestURL string) (string, error) {
	resp, err := s.src.OpenStream(ctx, manifestURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "" && !streaming.IsHLSMime(ct) {
		slog.Warn("hls: upstream manifest has unexpected type",
			slog.String("content_type", ct))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	return streaming.PatchManifest(string(body), s.proxyPrefix), nil
}

func (s *Server) hlsVariant(ctx context.Context, in HLSVariantInput) (out PlaylistOutput, err error) {
	id := strings.TrimSpace(in.VideoID)
	if id == "" || in.FormatID == "" {
		return PlaylistOutput{}, fmt.Errorf("video_id and format_id are required")
	}
	defer func() { countManifest(err) }()

	v, err := s.src.Video(ctx, id, false)
	if err != nil {
		return PlaylistOutput{}, err
	}
	i := slices.IndexFunc(v.Formats, func(f engine.Format) bool { return f.ID == in.FormatID })
	if i < 0 {
		return PlaylistOutput{}, fmt.Errorf("video %s has no format %s", id, in.FormatID)
	}
	f := v.Formats[i]

	api := in.ProxyAPI
	if api == "" {
		api = s.proxyPrefix + "%s"
	}
	out = PlaylistOutput{MimeType: streaming.HLSMime, Source: "synthesized"}

	if f.HasDash() {
		out.Playlist, err = streaming.DashVariantPlaylist(api, f)
		return out, err
	}

	resp, err := s.src.OpenStream(ctx, f.URL)
	if err != nil {
		return PlaylistOutput{}, err
	}
	defer resp.Body.Close()
	out.Playlist, err = streaming.VariantPlaylist(streaming.ProxyURL(api, f.URL), resp.Body)
	if err != nil {
		return PlaylistOutput{}, fmt.Errorf("format %s: %w", f.ID, err)
	}
	return out, nil
}

func countManifest(err error) {
	if err != nil {
		engine.IncrManifestFailures()
		return
	}
	engine.IncrManifests()
}

func (s *Server) registerHLSMaster(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "hls_master",
		Description: "Build an HLS master playlist (application/x-mpegURL) for a video from its DASH formats, or return the proxied upstream manifest of a live stream. Optional height/fps keeps a single quality.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input HLSMasterInput) (*mcp.CallToolResult, PlaylistOutput, error) {
		out, err := s.hlsMaster(ctx, input)
		return nil, out, err
	})
}

func (s *Server) registerHLSVariant(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "hls_variant",
		Description: "Build the HLS media playlist of one format: byte ranges read from the mp4 segment index, or the fragment list of DASH-segmented formats.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input HLSVariantInput) (*mcp.CallToolResult, PlaylistOutput, error) {
		out, err := s.hlsVariant(ctx, input)
		return nil, out, err
	})
}
