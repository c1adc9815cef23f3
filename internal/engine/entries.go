package engine

import (
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EntryKind tags the concrete type behind an Entry.
type EntryKind string

const (
	KindShort    EntryKind = "short"
	KindVideo    EntryKind = "video"
	KindPartial  EntryKind = "partial"
	KindPlaylist EntryKind = "playlist"
	KindChannel  EntryKind = "channel"
	KindLink     EntryKind = "search_link"
)

// Entry is one item of a flat listing (search results, channel tab, playlist).
// The set of implementations is closed: ShortEntry, VideoEntry, PartialEntry,
// PlaylistEntry, ChannelEntry and SearchLink.
type Entry interface {
	Kind() EntryKind
	EntryID() string
	EntryTitle() string
	EntryURL() string
	// Attr returns a named attribute used for find targets ("id", "url", "title", "nth").
	Attr(name string) (string, bool)
	isEntry()
}

// Thumbnail is one rendition of an entry preview image.
type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// BestThumbnail picks the widest thumbnail, preferring webp images with a known width.
func BestThumbnail(thumbs []Thumbnail) (Thumbnail, bool) {
	webp := func(t Thumbnail) bool {
		u, err := url.Parse(t.URL)
		if err != nil {
			return false
		}
		return strings.HasSuffix(u.Path, ".webp")
	}
	pick := func(keep func(Thumbnail) bool) []Thumbnail {
		var out []Thumbnail
		for _, t := range thumbs {
			if keep(t) {
				out = append(out, t)
			}
		}
		return out
	}

	candidates := pick(func(t Thumbnail) bool { return webp(t) && t.Width > 0 })
	if len(candidates) == 0 {
		candidates = pick(func(t Thumbnail) bool { return t.Width > 0 })
	}
	if len(candidates) == 0 {
		candidates = pick(webp)
	}
	if len(candidates) == 0 {
		candidates = thumbs
	}
	if len(candidates) == 0 {
		return Thumbnail{}, false
	}
	sorted := append([]Thumbnail(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Width > sorted[j].Width })
	return sorted[0], true
}

// LiveStatus mirrors the upstream live state of a video.
type LiveStatus string

const (
	LiveUpcoming LiveStatus = "is_upcoming"
	LiveNow      LiveStatus = "is_live"
	LivePost     LiveStatus = "post_live"
	LiveWas      LiveStatus = "was_live"
	LiveNot      LiveStatus = "not_live"
)

// baseEntry carries fields shared by every entry kind.
type baseEntry struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	URL        string      `json:"url"`
	Thumbnails []Thumbnail `json:"thumbnails,omitempty"`
}

func (b baseEntry) EntryID() string    { return b.ID }
func (b baseEntry) EntryTitle() string { return b.Title }
func (b baseEntry) EntryURL() string   { return b.URL }

func (b baseEntry) attr(name string) (string, bool) {
	switch name {
	case "id":
		return b.ID, true
	case "title":
		return b.Title, true
	case "url":
		return b.URL, true
	}
	return "", false
}

// ShortEntry is a vertical short-form video.
type ShortEntry struct {
	baseEntry
	Views int64 `json:"views,omitempty"`
}

func (ShortEntry) Kind() EntryKind                   { return KindShort }
func (e ShortEntry) Attr(name string) (string, bool) { return e.attr(name) }
func (ShortEntry) isEntry()                          {}

// VideoEntry is a regular video listed in a flat result set.
type VideoEntry struct {
	baseEntry
	Description string        `json:"description,omitempty"`
	ChannelID   string        `json:"channel_id,omitempty"`
	ChannelName string        `json:"channel_name,omitempty"`
	ChannelURL  string        `json:"channel_url,omitempty"`
	UploaderID  string        `json:"uploader_id,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Views       int64         `json:"views,omitempty"`
	Released    time.Time     `json:"released,omitzero"`
	Live        LiveStatus    `json:"live_status,omitempty"`
	Nth         int           `json:"nth,omitempty"` // 1-based position inside a playlist
}

func (VideoEntry) Kind() EntryKind { return KindVideo }
func (VideoEntry) isEntry()        {}

func (e VideoEntry) Attr(name string) (string, bool) {
	switch name {
	case "channel_id":
		return e.ChannelID, true
	case "channel_url":
		return e.ChannelURL, true
	case "uploader_id":
		return e.UploaderID, true
	case "nth":
		if e.Nth == 0 {
			return "", false
		}
		return strconv.Itoa(e.Nth), true
	}
	return e.attr(name)
}

// MetadataReloadTime reports how long metadata for this video stays fresh.
// Videos released more than three days ago (or with no release time) report false.
func (e VideoEntry) MetadataReloadTime(now time.Time) (time.Duration, bool) {
	if e.Released.IsZero() {
		return 0, false
	}
	age := now.Sub(e.Released)
	if age > 72*time.Hour {
		return 0, false
	}
	secs := math.Ceil(math.Abs(age.Seconds()) / (60 * 12))
	return time.Duration(max(60, secs)) * time.Second, true
}

// PartialEntry is a video still being streamed: it carries a live viewer count
// instead of a view count.
type PartialEntry struct {
	baseEntry
	ChannelName string `json:"channel_name,omitempty"`
	ChannelURL  string `json:"channel_url,omitempty"`
	Watching    int64  `json:"watching,omitempty"`
}

func (PartialEntry) Kind() EntryKind                   { return KindPartial }
func (e PartialEntry) Attr(name string) (string, bool) { return e.attr(name) }
func (PartialEntry) isEntry()                          {}

// PlaylistEntry is a playlist listed in search results, or a video listed inside a playlist.
type PlaylistEntry struct {
	baseEntry
	ChannelName string `json:"channel_name,omitempty"`
	ChannelURL  string `json:"channel_url,omitempty"`
	VideoCount  int    `json:"video_count,omitempty"`
}

func (PlaylistEntry) Kind() EntryKind                   { return KindPlaylist }
func (e PlaylistEntry) Attr(name string) (string, bool) { return e.attr(name) }
func (PlaylistEntry) isEntry()                          {}

// ChannelEntry is a channel result or a channel tab preview.
type ChannelEntry struct {
	baseEntry
	Subscribers string `json:"subscribers,omitempty"`
	Handle      string `json:"handle,omitempty"`
}

func (ChannelEntry) Kind() EntryKind                   { return KindChannel }
func (e ChannelEntry) Attr(name string) (string, bool) { return e.attr(name) }
func (ChannelEntry) isEntry()                          {}

// SearchLink is a placeholder pointing to another listing (channel tab, shelf).
type SearchLink struct {
	baseEntry
}

func (SearchLink) Kind() EntryKind                   { return KindLink }
func (e SearchLink) Attr(name string) (string, bool) { return e.attr(name) }
func (SearchLink) isEntry()                          {}

// NewShort, NewVideo and friends build entries with the shared fields set.
func NewShort(id, title, rawURL string, thumbs []Thumbnail) ShortEntry {
	return ShortEntry{baseEntry: baseEntry{ID: id, Title: title, URL: rawURL, Thumbnails: thumbs}}
}

func NewVideo(id, title, rawURL string, thumbs []Thumbnail) VideoEntry {
	return VideoEntry{baseEntry: baseEntry{ID: id, Title: title, URL: rawURL, Thumbnails: thumbs}}
}

func NewPartial(id, title, rawURL string, thumbs []Thumbnail) PartialEntry {
	return PartialEntry{baseEntry: baseEntry{ID: id, Title: title, URL: rawURL, Thumbnails: thumbs}}
}

func NewPlaylist(id, title, rawURL string, thumbs []Thumbnail) PlaylistEntry {
	return PlaylistEntry{baseEntry: baseEntry{ID: id, Title: title, URL: rawURL, Thumbnails: thumbs}}
}

func NewChannel(id, title, rawURL string, thumbs []Thumbnail) ChannelEntry {
	return ChannelEntry{baseEntry: baseEntry{ID: id, Title: title, URL: rawURL, Thumbnails: thumbs}}
}

func NewSearchLink(title, rawURL string) SearchLink {
	return SearchLink{baseEntry: baseEntry{ID: rawURL, Title: title, URL: rawURL}}
}

// EntryThumbnails returns the thumbnails of any entry kind.
func EntryThumbnails(e Entry) []Thumbnail {
	switch e := e.(type) {
	case ShortEntry:
		return e.Thumbnails
	case VideoEntry:
		return e.Thumbnails
	case PartialEntry:
		return e.Thumbnails
	case PlaylistEntry:
		return e.Thumbnails
	case ChannelEntry:
		return e.Thumbnails
	case SearchLink:
		return e.Thumbnails
	}
	return nil
}

// IsWatchable reports whether the entry is a concrete video (short or regular).
func IsWatchable(e Entry) bool {
	switch e.(type) {
	case ShortEntry, VideoEntry:
		return true
	case PartialEntry, PlaylistEntry, ChannelEntry, SearchLink:
		return false
	}
	return false
}

// PlaylistItemURL builds the watch URL of the nth item of a playlist.
func PlaylistItemURL(watchURL, listID string, nth int) string {
	u, err := url.Parse(watchURL)
	if err != nil {
		return watchURL
	}
	q := u.Query()
	q.Set("list", listID)
	q.Set("index", strconv.Itoa(nth))
	u.RawQuery = q.Encode()
	return u.String()
}
