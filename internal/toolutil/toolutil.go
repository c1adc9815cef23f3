// Package toolutil provides shared helpers for go_tube MCP tools: input
// normalization and the flat entry view rendered in tool output.
package toolutil

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/engine/pagination"
)

// MaxPerPage caps per_page on every paginated tool.
const MaxPerPage = 100

const maxDescription = 300

// ClampPerPage applies the default page size and the upper bound.
func ClampPerPage(n int) int {
	if n <= 0 {
		return engine.DefaultPerPage
	}
	return min(n, MaxPerPage)
}

// ParseFind reads an optional "attr:value" find target. Empty input means none.
func ParseFind(s string) (*pagination.FindTarget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, ok := pagination.ParseFindTarget(s)
	if !ok {
		return nil, fmt.Errorf("find must look like attr:value, got %q", s)
	}
	return &t, nil
}

// EntryView is the flat JSON shape of one listing entry.
type EntryView struct {
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Description string `json:"description,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ChannelURL  string `json:"channel_url,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Views       int64  `json:"views,omitempty"`
	Watching    int64  `json:"watching,omitempty"`
	Live        string `json:"live_status,omitempty"`
	Released    string `json:"released,omitempty"`
	Nth         int    `json:"nth,omitempty"`
	VideoCount  int    `json:"video_count,omitempty"`
	Subscribers string `json:"subscribers,omitempty"`
}

// NewEntryView flattens e. When proxyPrefix is set the thumbnail URL is
// routed through it.
func NewEntryView(e engine.Entry, proxyPrefix string) EntryView {
	v := EntryView{
		Kind:  string(e.Kind()),
		ID:    e.EntryID(),
		Title: e.EntryTitle(),
		URL:   e.EntryURL(),
	}
	if t, ok := engine.BestThumbnail(engine.EntryThumbnails(e)); ok {
		v.Thumbnail = ProxyURL(proxyPrefix, t.URL)
	}

	switch e := e.(type) {
	case engine.ShortEntry:
		v.Views = e.Views
	case engine.VideoEntry:
		v.Description = engine.TruncateAtWord(e.Description, maxDescription)
		v.Channel, v.ChannelURL = e.ChannelName, e.ChannelURL
		v.Duration = FormatDuration(e.Duration)
		v.Views = e.Views
		v.Live = string(e.Live)
		v.Nth = e.Nth
		if !e.Released.IsZero() {
			v.Released = e.Released.UTC().Format(time.RFC3339)
		}
	case engine.PartialEntry:
		v.Channel, v.ChannelURL = e.ChannelName, e.ChannelURL
		v.Watching = e.Watching
		v.Live = string(engine.LiveNow)
	case engine.PlaylistEntry:
		v.Channel, v.ChannelURL = e.ChannelName, e.ChannelURL
		v.VideoCount = e.VideoCount
	case engine.ChannelEntry:
		v.Subscribers = e.Subscribers
	case engine.SearchLink:
	}
	return v
}

// EntryViews flattens a page of entries.
func EntryViews(entries []engine.Entry, proxyPrefix string) []EntryView {
	out := make([]EntryView, len(entries))
	for i, e := range entries {
		out[i] = NewEntryView(e, proxyPrefix)
	}
	return out
}

// ProxyURL prepends prefix to the query-escaped u. An empty prefix or URL
// returns u unchanged.
func ProxyURL(prefix, u string) string {
	if prefix == "" || u == "" {
		return u
	}
	return prefix + url.QueryEscape(u)
}

// FormatDuration renders d as "m:ss" or "h:mm:ss". Zero renders empty.
func FormatDuration(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs <= 0 {
		return ""
	}
	h, m, s := secs/3600, secs%3600/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
