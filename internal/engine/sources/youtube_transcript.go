package sources

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// YouTube captions.
// Primary:  watch page ytInitialPlayerResponse → captionTracks → timedtext XML
// Fallback: kkdai/youtube transcript panel (works when the page hides tracks)

// ErrNoCaptions is returned when a video has no usable caption track.
var ErrNoCaptions = errors.New("no usable caption track")

const maxTimedTextBytes = 2 * 1024 * 1024

type captionTrack struct {
	BaseURL      string          `json:"baseUrl"`
	LanguageCode string          `json:"languageCode"`
	Kind         string          `json:"kind"` // "asr" for generated tracks
	Name         json.RawMessage `json:"name"`
}

type playerCaptions struct {
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

// needsPoToken reports whether a caption track URL requires a PoToken (browser-only).
// Tracks with exp=xpe cannot be fetched server-side.
func needsPoToken(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil {
		return strings.Contains(baseURL, "exp=xpe")
	}
	return u.Query().Get("exp") == "xpe"
}

// pickBestTrack selects the caption track for the language preferences:
// a manual track in a preferred language, then a generated one, then any
// English track, then the first usable one.
func pickBestTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return usable[0], true
}

// Transcript returns the caption track of video id best matching langs.
func (y *YouTube) Transcript(ctx context.Context, id string, langs []string) (*engine.Transcript, error) {
	engine.IncrTranscript()
	return engine.Submit(ctx, y.pool, func(ctx context.Context) (*engine.Transcript, error) {
		t, err := y.transcriptFromWatchPage(ctx, id, langs)
		if err == nil {
			return t, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("youtube: watch page captions failed, trying transcript panel",
			slog.String("id", id), slog.Any("error", err))

		t, perr := y.transcriptFromPlayer(ctx, id, langs)
		if perr != nil {
			return nil, fmt.Errorf("transcript %s: %w", id, errors.Join(err, perr))
		}
		return t, nil
	})
}

func (y *YouTube) transcriptFromWatchPage(ctx context.Context, id string, langs []string) (*engine.Transcript, error) {
	data, err := y.fetchPageJSON(ctx, y.baseURL+"/watch?v="+url.QueryEscape(id),
		"ytInitialPlayerResponse", ytPlayerResponseMarkers)
	if err != nil {
		return nil, err
	}
	var pr playerCaptions
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("decode player response: %w", err)
	}
	if pr.Captions == nil {
		if pr.PlayabilityStatus != nil && pr.PlayabilityStatus.Reason != "" {
			return nil, fmt.Errorf("%w: %s", ErrNoCaptions, pr.PlayabilityStatus.Reason)
		}
		return nil, ErrNoCaptions
	}
	track, ok := pickBestTrack(pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks, langs)
	if !ok {
		return nil, fmt.Errorf("%w: all tracks require a PoToken", ErrNoCaptions)
	}

	captions, err := y.fetchTimedText(ctx, track.BaseURL)
	if err != nil {
		return nil, err
	}
	return &engine.Transcript{
		VideoID:   id,
		Language:  track.LanguageCode,
		Name:      text(rawValue(track.Name)),
		Generated: track.Kind == "asr",
		Captions:  captions,
	}, nil
}

func (y *YouTube) transcriptFromPlayer(ctx context.Context, id string, langs []string) (*engine.Transcript, error) {
	lang := "en"
	if len(langs) > 0 {
		lang = langs[0]
	}
	segs, err := y.player.GetTranscriptCtx(ctx, &youtube.Video{ID: id}, lang)
	if err != nil {
		if errors.Is(err, youtube.ErrTranscriptDisabled) {
			return nil, fmt.Errorf("%w: %w", ErrNoCaptions, err)
		}
		return nil, err
	}
	t := &engine.Transcript{VideoID: id, Language: lang}
	for _, s := range segs {
		if txt := cleanCaption(s.Text); txt != "" {
			t.Captions = append(t.Captions, engine.Caption{
				Start:    time.Duration(s.StartMs) * time.Millisecond,
				Duration: time.Duration(s.Duration) * time.Millisecond,
				Text:     txt,
			})
		}
	}
	if len(t.Captions) == 0 {
		return nil, ErrNoCaptions
	}
	return t, nil
}

// timedText covers both timedtext layouts: srv1 <text start dur> in seconds
// and srv3 <body><p t d> in milliseconds.
type timedText struct {
	Lines []struct {
		Start float64 `xml:"start,attr"`
		Dur   float64 `xml:"dur,attr"`
		Text  string  `xml:",chardata"`
	} `xml:"text"`
	Paragraphs []struct {
		T     int64  `xml:"t,attr"`
		D     int64  `xml:"d,attr"`
		Text  string `xml:",chardata"`
		Words []struct {
			Text string `xml:",chardata"`
		} `xml:"s"`
	} `xml:"body>p"`
}

func (y *YouTube) fetchTimedText(ctx context.Context, baseURL string) ([]engine.Caption, error) {
	engine.IncrUpstreamRequests()
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.UserAgentChrome)
		return y.client.Do(req)
	})
	if err != nil {
		engine.IncrUpstreamErrors()
		return nil, fmt.Errorf("fetch timedtext: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		engine.IncrUpstreamErrors()
		return nil, fmt.Errorf("fetch timedtext: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTimedTextBytes))
	if err != nil {
		return nil, fmt.Errorf("read timedtext: %w", err)
	}
	return parseTimedText(body)
}

func parseTimedText(body []byte) ([]engine.Caption, error) {
	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return nil, fmt.Errorf("parse timedtext XML: %w", err)
	}

	var out []engine.Caption
	add := func(start, dur time.Duration, raw string) {
		if txt := cleanCaption(raw); txt != "" {
			out = append(out, engine.Caption{Start: start, Duration: dur, Text: txt})
		}
	}
	for _, l := range tt.Lines {
		add(secondsDuration(l.Start), secondsDuration(l.Dur), l.Text)
	}
	for _, p := range tt.Paragraphs {
		raw := p.Text
		if len(p.Words) > 0 {
			var sb strings.Builder
			for _, w := range p.Words {
				sb.WriteString(w.Text)
			}
			raw = sb.String()
		}
		add(time.Duration(p.T)*time.Millisecond, time.Duration(p.D)*time.Millisecond, raw)
	}
	if len(out) == 0 {
		return nil, ErrNoCaptions
	}
	return out, nil
}

func secondsDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Millisecond)
}

// cleanCaption decodes the entities timedtext escapes twice and collapses
// whitespace.
func cleanCaption(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// rawValue decodes a JSON fragment into a generic value; invalid input is nil.
func rawValue(raw json.RawMessage) any {
	var v any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}
