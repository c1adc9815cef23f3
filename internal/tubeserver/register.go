// Package tubeserver exposes the video engine as MCP tools: listings
// (search, channel, playlist, related), video metadata, captions and HLS
// playlists.
package tubeserver

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/engine/pagination"
	"github.com/anatolykoptev/go_tube/internal/engine/related"
)

// Source is the upstream the tools read from.
type Source interface {
	engine.VideoSource
	// OpenStream starts an uncached GET of a media or manifest URL.
	OpenStream(ctx context.Context, rawURL string) (*http.Response, error)
	// Transcript returns the caption track best matching langs.
	Transcript(ctx context.Context, id string, langs []string) (*engine.Transcript, error)
}

type listCursor = pagination.Cursor[engine.Entry]

// Server holds the cursor registries shared by all tool calls.
type Server struct {
	src         Source
	finder      *related.Finder
	proxyPrefix string

	searches  *pagination.Registry[*listCursor]
	channels  *pagination.Registry[*listCursor]
	playlists *pagination.Registry[*listCursor]
	related   *pagination.Registry[*related.Cursor]
}

// New builds a Server over src. proxyPrefix is prepended to escaped media
// and thumbnail URLs in tool output.
func New(src Source, proxyPrefix string) *Server {
	return &Server{
		src:         src,
		finder:      related.NewFinder(src),
		proxyPrefix: proxyPrefix,
		searches:    pagination.NewRegistry[*listCursor](),
		channels:    pagination.NewRegistry[*listCursor](),
		playlists:   pagination.NewRegistry[*listCursor](),
		related:     pagination.NewRegistry[*related.Cursor](),
	}
}

// ToolCount is the number of tools RegisterTools adds.
const ToolCount = 8

// RegisterTools registers every tool on server.
func (s *Server) RegisterTools(server *mcp.Server) {
	s.registerSearch(server)
	s.registerChannel(server)
	s.registerPlaylist(server)
	s.registerRelated(server)
	s.registerVideo(server)
	s.registerTranscript(server)
	s.registerHLSMaster(server)
	s.registerHLSVariant(server)
}
