package tubeserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/toolutil"
)

// TranscriptInput is the input of youtube_transcript.
type TranscriptInput struct {
	VideoID  string `json:"video_id" jsonschema:"Video id"`
	Lang     string `json:"lang,omitempty" jsonschema:"Preferred caption languages, comma separated (default en)"`
	Segments bool   `json:"segments,omitempty" jsonschema:"Return timed caption lines instead of plain text"`
}

// CaptionLine is one timed caption.
type CaptionLine struct {
	Start    string  `json:"start"`
	Seconds  float64 `json:"seconds"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
}

// TranscriptOutput is a caption track.
type TranscriptOutput struct {
	VideoID   string        `json:"video_id"`
	Language  string        `json:"language,omitempty"`
	Name      string        `json:"name,omitempty"`
	Generated bool          `json:"generated,omitempty"`
	Text      string        `json:"text,omitempty"`
	Captions  []CaptionLine `json:"captions,omitempty"`
}

func parseLangs(s string) []string {
	var out []string
	for l := range strings.SplitSeq(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return []string{"en"}
	}
	return out
}

func (s *Server) transcript(ctx context.Context, in TranscriptInput) (TranscriptOutput, error) {
	id := strings.TrimSpace(in.VideoID)
	if id == "" {
		return TranscriptOutput{}, fmt.Errorf("video_id is required")
	}
	t, err := s.src.Transcript(ctx, id, parseLangs(in.Lang))
	if err != nil {
		return TranscriptOutput{}, err
	}

	out := TranscriptOutput{
		VideoID:   t.VideoID,
		Language:  t.Language,
		Name:      t.Name,
		Generated: t.Generated,
	}
	if !in.Segments {
		out.Text = t.Text()
		return out, nil
	}
	out.Captions = make([]CaptionLine, len(t.Captions))
	for i, c := range t.Captions {
		out.Captions[i] = captionLine(c)
	}
	return out, nil
}

func captionLine(c engine.Caption) CaptionLine {
	start := toolutil.FormatDuration(c.Start)
	if start == "" {
		start = "0:00"
	}
	return CaptionLine{
		Start:    start,
		Seconds:  c.Start.Seconds(),
		Duration: c.Duration.Seconds(),
		Text:     c.Text,
	}
}

func (s *Server) registerTranscript(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "youtube_transcript",
		Description: "Get the captions of a YouTube video as plain text or timed lines. Manual tracks in the preferred language win over auto-generated ones.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input TranscriptInput) (*mcp.CallToolResult, TranscriptOutput, error) {
		out, err := s.transcript(ctx, input)
		return nil, out, err
	})
}
