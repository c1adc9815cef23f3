package engine

import (
	"context"
	"strings"
	"time"
)

// Window is the slice of an upstream listing one extraction call covers.
// Page is 1-based.
type Window struct {
	Page    int
	PerPage int
}

// DefaultPerPage is the page size used when a caller does not pick one.
const DefaultPerPage = 12

// Normalize fills in defaults for a zero window.
func (w Window) Normalize() Window {
	if w.Page < 1 {
		w.Page = 1
	}
	if w.PerPage < 1 {
		w.PerPage = DefaultPerPage
	}
	return w
}

// Offset is the number of upstream items preceding the window.
func (w Window) Offset() int {
	w = w.Normalize()
	return w.PerPage * (w.Page - 1)
}

// Start and End are the 1-based inclusive bounds of the window.
func (w Window) Start() int { return w.Offset() + 1 }
func (w Window) End() int   { return w.Offset() + w.Normalize().PerPage }

// Fragment is one DASH segment of a format.
type Fragment struct {
	URL      string  `json:"url,omitempty"`
	Path     string  `json:"path,omitempty"`
	Duration float64 `json:"duration,omitempty"` // seconds, 0 = unknown
}

// Format is one downloadable rendition of a video.
type Format struct {
	ID              string     `json:"format_id"`
	Name            string     `json:"format_note,omitempty"`
	Protocol        string     `json:"protocol,omitempty"`
	URL             string     `json:"url,omitempty"`
	ManifestURL     string     `json:"manifest_url,omitempty"`
	FragmentBaseURL string     `json:"fragment_base_url,omitempty"`
	Fragments       []Fragment `json:"fragments,omitempty"`
	Container       string     `json:"container,omitempty"`
	VideoCodec      string     `json:"vcodec,omitempty"`
	AudioCodec      string     `json:"acodec,omitempty"`
	Bitrate         float64    `json:"tbr,omitempty"` // kbit/s
	Width           int        `json:"width,omitempty"`
	Height          int        `json:"height,omitempty"`
	FPS             float64    `json:"fps,omitempty"`
	DynamicRange    string     `json:"dynamic_range,omitempty"`
	AudioChannels   int        `json:"audio_channels,omitempty"`
	Language        string     `json:"language,omitempty"`
	Filesize        int64      `json:"filesize,omitempty"`
}

// DashProtocol is the protocol value of segmented DASH formats.
const DashProtocol = "http_dash_segments"

// HasDash reports whether the format is delivered as DASH segments.
func (f Format) HasDash() bool { return f.Protocol == DashProtocol }

// VCodec returns the video codec, or "" when the format has no video.
func (f Format) VCodec() string { return normCodec(f.VideoCodec) }

// ACodec returns the audio codec, or "" when the format has no audio.
func (f Format) ACodec() string { return normCodec(f.AudioCodec) }

func normCodec(c string) string {
	if strings.EqualFold(c, "none") {
		return ""
	}
	return c
}

// Video is the full metadata of a single video.
type Video struct {
	VideoEntry
	Tags            []string `json:"tags,omitempty"`
	Formats         []Format `json:"formats,omitempty"`
	HLSManifestURL  string   `json:"hls_manifest_url,omitempty"`
	DASHManifestURL string   `json:"dash_manifest_url,omitempty"`
}

// Caption is one timed line of a subtitle track.
type Caption struct {
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration"`
	Text     string        `json:"text"`
}

// Transcript is one caption track of a video.
type Transcript struct {
	VideoID   string    `json:"video_id"`
	Language  string    `json:"language,omitempty"`
	Name      string    `json:"name,omitempty"`
	Generated bool      `json:"generated,omitempty"` // automatic speech recognition
	Captions  []Caption `json:"captions"`
}

// Text joins the caption lines with single spaces.
func (t *Transcript) Text() string {
	parts := make([]string, 0, len(t.Captions))
	for _, c := range t.Captions {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Listing is a page of entries from a search, channel tab or playlist.
type Listing struct {
	ID      string  `json:"id,omitempty"`
	Title   string  `json:"title,omitempty"`
	URL     string  `json:"url,omitempty"`
	Entries []Entry `json:"-"`
}

// Len returns the number of entries on the page.
func (l *Listing) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Entries)
}

// ChannelResult is a page of a channel tab plus channel identity.
type ChannelResult struct {
	Listing
	ChannelID   string `json:"channel_id,omitempty"`
	Handle      string `json:"handle,omitempty"`
	Description string `json:"description,omitempty"`
	Subscribers string `json:"subscribers,omitempty"`
}

// PlaylistResult is a page of a playlist.
type PlaylistResult struct {
	Listing
	ChannelName string `json:"channel_name,omitempty"`
	ChannelURL  string `json:"channel_url,omitempty"`
}

// VideoSource performs single logical fetches against the upstream platform.
// Implementations route their HTTP through a CacheStore.
type VideoSource interface {
	Search(ctx context.Context, query string, filter SearchFilter, w Window) (*Listing, error)
	// Channel fetches a tab ("videos", "shorts", "streams", "playlists", "featured" or
	// "search" with a query) of a channel given by id, @handle or URL.
	Channel(ctx context.Context, ref, tab, query string, w Window) (*ChannelResult, error)
	Playlist(ctx context.Context, id string, w Window) (*PlaylistResult, error)
	Video(ctx context.Context, id string, skipCache bool) (*Video, error)
}
