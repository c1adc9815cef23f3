package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// ytInitialData scraping: page fetch, JSON extraction and renderer walking.

var ytInitialDataMarkers = [][]byte{
	[]byte("var ytInitialData = "),
	[]byte(`window["ytInitialData"] = `),
}

var ytPlayerResponseMarkers = [][]byte{
	[]byte("var ytInitialPlayerResponse = "),
	[]byte("ytInitialPlayerResponse = "),
}

// fetchInitialData GETs a YouTube page and returns its ytInitialData JSON.
// A page without it reports engine.ErrNoData.
func (y *YouTube) fetchInitialData(ctx context.Context, pageURL string) ([]byte, error) {
	return y.fetchPageJSON(ctx, pageURL, "ytInitialData", ytInitialDataMarkers)
}

// fetchPageJSON GETs a YouTube page and returns the JSON object following
// the first marker found.
func (y *YouTube) fetchPageJSON(ctx context.Context, pageURL, what string, markers [][]byte) ([]byte, error) {
	engine.IncrUpstreamRequests()
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", engine.UserAgentChrome)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Cookie", "CONSENT=YES+cb; SOCS=CAI")
		return y.client.Do(req)
	})
	if err != nil {
		engine.IncrUpstreamErrors()
		return nil, fmt.Errorf("youtube page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		engine.IncrUpstreamErrors()
		return nil, fmt.Errorf("youtube page: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, ytMaxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read youtube page: %w", err)
	}
	for _, marker := range markers {
		if idx := bytes.Index(body, marker); idx >= 0 {
			if data := extractJSON(body[idx+len(marker):]); data != nil {
				return data, nil
			}
		}
	}
	return nil, fmt.Errorf("%s not found in %s: %w", what, pageURL, engine.ErrNoData)
}

// extractJSON extracts a complete JSON object starting at b[0] == '{' by tracking brace depth.
func extractJSON(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr := false
	escaped := false
	for i, c := range b {
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}

// page is the flat result of walking one ytInitialData or continuation document.
type page struct {
	entries      []engine.Entry
	continuation string
}

// walker collects entries in document order.
type walker struct {
	base string
	page page
}

func parsePage(base string, data []byte) page {
	w := walker{base: base}
	w.walk(data)
	return w.page
}

// walk descends objects key by key in document order, so entries keep the
// order in which YouTube lists them.
func (w *walker) walk(raw json.RawMessage) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return
	}
	switch raw[0] {
	case '{':
		dec := json.NewDecoder(bytes.NewReader(raw))
		if _, err := dec.Token(); err != nil {
			return
		}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return
			}
			key, _ := tok.(string)
			var child json.RawMessage
			if err := dec.Decode(&child); err != nil {
				return
			}
			if !w.renderer(key, child) {
				w.walk(child)
			}
		}
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return
		}
		for _, item := range arr {
			w.walk(item)
		}
	}
}

// renderer converts a known renderer into an entry. It reports whether the
// subtree was consumed.
func (w *walker) renderer(key string, raw json.RawMessage) bool {
	switch key {
	case "videoRenderer", "gridVideoRenderer", "compactVideoRenderer", "playlistVideoRenderer",
		"reelItemRenderer", "shortsLockupViewModel", "playlistRenderer", "gridPlaylistRenderer",
		"lockupViewModel", "channelRenderer", "gridChannelRenderer", "shelfRenderer",
		"continuationItemRenderer":
	default:
		return false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return true
	}

	switch key {
	case "videoRenderer", "gridVideoRenderer", "compactVideoRenderer", "playlistVideoRenderer":
		if e := w.video(obj); e != nil {
			w.page.entries = append(w.page.entries, e)
		}
	case "reelItemRenderer", "shortsLockupViewModel":
		if e := w.short(obj); e != nil {
			w.page.entries = append(w.page.entries, e)
		}
	case "playlistRenderer", "gridPlaylistRenderer":
		if e := w.playlist(obj); e != nil {
			w.page.entries = append(w.page.entries, e)
		}
	case "lockupViewModel":
		if e := w.lockup(obj); e != nil {
			w.page.entries = append(w.page.entries, e)
		}
	case "channelRenderer", "gridChannelRenderer":
		if e := w.channel(obj); e != nil {
			w.page.entries = append(w.page.entries, e)
		}
	case "shelfRenderer":
		if link := str(dig(obj, "endpoint", "commandMetadata", "webCommandMetadata", "url")); link != "" {
			abs := w.abs(link)
			if classifyURL(abs) == engine.KindLink {
				w.page.entries = append(w.page.entries, engine.NewSearchLink(text(obj["title"]), abs))
			}
		}
		w.walk(raw)
		return true
	case "continuationItemRenderer":
		if tok := str(dig(obj, "continuationEndpoint", "continuationCommand", "token")); tok != "" {
			w.page.continuation = tok
		}
	}
	return true
}

func (w *walker) abs(link string) string {
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return w.base + link
}

func (w *walker) watchURL(id string) string { return w.base + "/watch?v=" + id }

func (w *walker) video(obj map[string]any) engine.Entry {
	id := str(obj["videoId"])
	if id == "" {
		return nil
	}
	title := text(obj["title"])
	thumbs := thumbnails(obj["thumbnail"])
	if str(dig(obj, "navigationEndpoint", "reelWatchEndpoint", "videoId")) != "" {
		s := engine.NewShort(id, title, w.base+"/shorts/"+id, thumbs)
		s.Views = engine.ParseCount(text(obj["viewCountText"]))
		return s
	}

	owner := dig(obj, "ownerText", "runs", 0)
	if owner == nil {
		owner = dig(obj, "shortBylineText", "runs", 0)
	}
	channelName := str(dig(owner, "text"))
	channelURL := ""
	if base := str(dig(owner, "navigationEndpoint", "browseEndpoint", "canonicalBaseUrl")); base != "" {
		channelURL = w.abs(base)
	} else if cid := str(dig(owner, "navigationEndpoint", "browseEndpoint", "browseId")); cid != "" {
		channelURL = w.base + "/channel/" + cid
	}

	views := text(obj["viewCountText"])
	if strings.Contains(views, "watching") || hasLiveBadge(obj) {
		p := engine.NewPartial(id, title, w.watchURL(id), thumbs)
		p.ChannelName, p.ChannelURL = channelName, channelURL
		p.Watching = engine.ParseCount(views)
		return p
	}

	v := engine.NewVideo(id, title, w.watchURL(id), thumbs)
	v.ChannelName, v.ChannelURL = channelName, channelURL
	v.ChannelID = str(dig(owner, "navigationEndpoint", "browseEndpoint", "browseId"))
	if handle, ok := strings.CutPrefix(strings.TrimPrefix(channelURL, w.base), "/@"); ok {
		v.UploaderID = "@" + handle
	}
	v.Description = text(obj["descriptionSnippet"])
	v.Views = engine.ParseCount(views)
	if secs, err := strconv.Atoi(str(obj["lengthSeconds"])); err == nil {
		v.Duration = time.Duration(secs) * time.Second
	} else {
		v.Duration = engine.ParseClock(text(obj["lengthText"]))
	}
	if n, err := strconv.Atoi(text(obj["index"])); err == nil {
		v.Nth = n
	}
	if upcoming := str(dig(obj, "upcomingEventData", "startTime")); upcoming != "" {
		v.Live = engine.LiveUpcoming
		if ts, err := strconv.ParseInt(upcoming, 10, 64); err == nil {
			v.Released = time.Unix(ts, 0).UTC()
		}
	}
	return v
}

func hasLiveBadge(obj map[string]any) bool {
	badges, _ := obj["badges"].([]any)
	for _, b := range badges {
		if str(dig(b, "metadataBadgeRenderer", "style")) == "BADGE_STYLE_TYPE_LIVE_NOW" {
			return true
		}
	}
	return false
}

func (w *walker) short(obj map[string]any) engine.Entry {
	id := str(obj["videoId"])
	if id == "" {
		id = str(dig(obj, "onTap", "innertubeCommand", "reelWatchEndpoint", "videoId"))
	}
	if id == "" {
		return nil
	}
	title := text(obj["headline"])
	if title == "" {
		title = text(dig(obj, "overlayMetadata", "primaryText"))
	}
	thumbs := thumbnails(obj["thumbnail"])
	if len(thumbs) == 0 {
		thumbs = thumbnails(dig(obj, "thumbnail", "sources"))
	}
	s := engine.NewShort(id, title, w.base+"/shorts/"+id, thumbs)
	views := text(obj["viewCountText"])
	if views == "" {
		views = text(dig(obj, "overlayMetadata", "secondaryText"))
	}
	s.Views = engine.ParseCount(views)
	return s
}

func (w *walker) playlist(obj map[string]any) engine.Entry {
	id := str(obj["playlistId"])
	if id == "" {
		return nil
	}
	thumbs := thumbnails(dig(obj, "thumbnails", 0))
	if len(thumbs) == 0 {
		thumbs = thumbnails(obj["thumbnail"])
	}
	p := engine.NewPlaylist(id, text(obj["title"]), w.base+"/playlist?list="+id, thumbs)
	owner := dig(obj, "shortBylineText", "runs", 0)
	p.ChannelName = str(dig(owner, "text"))
	if base := str(dig(owner, "navigationEndpoint", "browseEndpoint", "canonicalBaseUrl")); base != "" {
		p.ChannelURL = w.abs(base)
	}
	count := str(obj["videoCount"])
	if count == "" {
		count = text(obj["videoCountText"])
	}
	p.VideoCount = int(engine.ParseCount(count))
	return p
}

// lockup handles the view-model layout YouTube uses for playlists and mixes.
func (w *walker) lockup(obj map[string]any) engine.Entry {
	id := str(obj["contentId"])
	if id == "" {
		return nil
	}
	title := text(dig(obj, "metadata", "lockupMetadataViewModel", "title"))
	switch str(obj["contentType"]) {
	case "LOCKUP_CONTENT_TYPE_PLAYLIST", "LOCKUP_CONTENT_TYPE_PODCAST":
		return engine.NewPlaylist(id, title, w.base+"/playlist?list="+id, nil)
	case "LOCKUP_CONTENT_TYPE_VIDEO":
		return engine.NewVideo(id, title, w.watchURL(id), nil)
	}
	return nil
}

func (w *walker) channel(obj map[string]any) engine.Entry {
	id := str(obj["channelId"])
	if id == "" {
		return nil
	}
	link := w.base + "/channel/" + id
	if base := str(dig(obj, "navigationEndpoint", "browseEndpoint", "canonicalBaseUrl")); base != "" {
		link = w.abs(base)
	}
	c := engine.NewChannel(id, text(obj["title"]), link, thumbnails(obj["thumbnail"]))
	c.Subscribers = text(obj["subscriberCountText"])
	if handle := text(obj["subscriberCountText"]); strings.HasPrefix(handle, "@") {
		// Search results put the handle where the subscriber count used to be.
		c.Handle = handle
		c.Subscribers = text(obj["videoCountText"])
	}
	return c
}

var channelTabRe = regexp.MustCompile(`/(?:featured|videos|shorts|streams|playlists)/?$`)

// classifyURL decides the entry kind of a flat result by its URL.
func classifyURL(raw string) engine.EntryKind {
	u, err := url.Parse(raw)
	if err != nil {
		return engine.KindVideo
	}
	switch p := u.Path; {
	case strings.HasPrefix(p, "/shorts/"):
		return engine.KindShort
	case channelTabRe.MatchString(p):
		return engine.KindLink
	case p == "/playlist" && u.Query().Get("list") != "":
		return engine.KindPlaylist
	case strings.HasPrefix(p, "/channel/"), strings.HasPrefix(p, "/@"), strings.HasPrefix(p, "/c/"):
		return engine.KindChannel
	case p == "/watch":
		return engine.KindVideo
	}
	return engine.KindLink
}

// --- generic JSON helpers ---

// dig walks nested maps (string keys) and arrays (int indexes).
func dig(v any, path ...any) any {
	for _, p := range path {
		switch k := p.(type) {
		case string:
			m, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			v = m[k]
		case int:
			a, ok := v.([]any)
			if !ok || k < 0 || k >= len(a) {
				return nil
			}
			v = a[k]
		}
	}
	return v
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return ""
}

// text flattens the text shapes YouTube uses: simpleText, runs and content.
func text(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	if s := str(m["simpleText"]); s != "" {
		return s
	}
	if s := str(m["content"]); s != "" {
		return s
	}
	runs, _ := m["runs"].([]any)
	var sb strings.Builder
	for _, r := range runs {
		sb.WriteString(str(dig(r, "text")))
	}
	return sb.String()
}

// thumbnails reads {"thumbnails": [...]} or a bare list of {url, width, height}.
func thumbnails(v any) []engine.Thumbnail {
	list, ok := v.([]any)
	if !ok {
		list, _ = dig(v, "thumbnails").([]any)
	}
	out := make([]engine.Thumbnail, 0, len(list))
	for _, t := range list {
		u := str(dig(t, "url"))
		if u == "" {
			continue
		}
		if strings.HasPrefix(u, "//") {
			u = "https:" + u
		}
		w, _ := dig(t, "width").(float64)
		h, _ := dig(t, "height").(float64)
		out = append(out, engine.Thumbnail{URL: u, Width: int(w), Height: int(h)})
	}
	return out
}
