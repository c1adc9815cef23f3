package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// extractor holds the per-window state of continuation requests.
type extractor struct {
	mu          sync.Mutex
	visitorData string
}

func (e *extractor) visitor() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visitorData
}

func (e *extractor) setVisitor(v string) {
	if v == "" {
		return
	}
	e.mu.Lock()
	e.visitorData = v
	e.mu.Unlock()
}

// extractorPool keeps one extractor per page window, created on first use.
type extractorPool struct {
	mu sync.Mutex
	m  map[engine.Window]*extractor
}

func newExtractorPool() *extractorPool {
	return &extractorPool{m: make(map[engine.Window]*extractor)}
}

func (p *extractorPool) get(w engine.Window) *extractor {
	w = w.Normalize()
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[w]
	if !ok {
		e = &extractor{visitorData: generateVisitorData()}
		p.m[w] = e
	}
	return e
}

// Len returns the number of windows seen so far.
func (p *extractorPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// listingPage is a window of entries plus the decoded first page for metadata.
type listingPage struct {
	root    map[string]any
	entries []engine.Entry
}

// collect fetches pageURL and follows continuations through endpoint until
// the window end is covered or upstream runs out of pages.
func (y *YouTube) collect(ctx context.Context, w engine.Window, pageURL, endpoint string) (*listingPage, error) {
	w = w.Normalize()
	ex := y.extractors.get(w)

	data, err := y.fetchInitialData(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode ytInitialData: %w", engine.ErrNoData)
	}
	ex.setVisitor(str(dig(root, "responseContext", "visitorData")))

	first := parsePage(y.baseURL, data)
	entries := first.entries
	token := first.continuation
	pages := 1
	for len(entries) < w.End() && token != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := y.postInnerTube(ctx, endpoint, token, ex.visitor())
		if err != nil {
			return nil, err
		}
		next := parsePage(y.baseURL, raw)
		pages++
		if next.continuation == token {
			break
		}
		entries = append(entries, next.entries...)
		token = next.continuation
	}
	slog.Debug("youtube: listing collected",
		slog.String("url", pageURL), slog.Int("pages", pages),
		slog.Int("entries", len(entries)), slog.Int("window_end", w.End()))

	return &listingPage{root: root, entries: windowSlice(entries, w)}, nil
}

// windowSlice returns the entries at positions [Offset, End) of w.
func windowSlice(entries []engine.Entry, w engine.Window) []engine.Entry {
	off := w.Offset()
	if off >= len(entries) {
		return nil
	}
	return entries[off:min(w.End(), len(entries))]
}

// Search lists search results. An empty or failed first page of an
// unfiltered query falls back to the secondary backend.
func (y *YouTube) Search(ctx context.Context, query string, filter engine.SearchFilter, w engine.Window) (*engine.Listing, error) {
	engine.IncrSearch()
	w = w.Normalize()

	pageURL := y.baseURL + "/results?search_query=" + url.QueryEscape(query)
	if !filter.IsZero() {
		pageURL += "&sp=" + filter.URLParameter()
	}

	page, err := retryNoData(ctx, y, "search", func(ctx context.Context) (*listingPage, error) {
		return y.collect(ctx, w, pageURL, endpointSearch)
	})
	listing := &engine.Listing{ID: query, Title: query, URL: pageURL}
	if err == nil {
		listing.Entries = page.entries
	}

	if (err != nil || len(listing.Entries) == 0) && w.Page == 1 && filter.IsZero() && y.fallback != nil && ctx.Err() == nil {
		entries, ferr := y.fallback(ctx, query)
		if ferr == nil && len(entries) > 0 {
			engine.IncrSearchFallback()
			if err != nil {
				slog.Warn("youtube: search failed, using fallback",
					slog.String("query", query), slog.Any("error", err))
			}
			listing.Entries = windowSlice(entries, w)
			return listing, nil
		}
		if ferr != nil {
			slog.Warn("youtube: search fallback failed",
				slog.String("query", query), slog.Any("error", ferr))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return listing, nil
}

// channelBase resolves a channel id, @handle or URL to the channel root URL
// on the configured origin.
func (y *YouTube) channelBase(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", fmt.Errorf("empty channel reference")
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("channel url: %w", err)
		}
		p := strings.TrimRight(channelTabRe.ReplaceAllString(u.Path, ""), "/")
		p = strings.TrimSuffix(p, "/search")
		if p == "" {
			return "", fmt.Errorf("channel url without path: %s", ref)
		}
		return y.baseURL + p, nil
	case strings.HasPrefix(ref, "@"):
		return y.baseURL + "/" + url.PathEscape(ref), nil
	case strings.HasPrefix(ref, "UC") && len(ref) == 24:
		return y.baseURL + "/channel/" + ref, nil
	}
	return y.baseURL + "/@" + url.PathEscape(ref), nil
}

// Channel lists a channel tab, or the channel's own search when tab is "search".
func (y *YouTube) Channel(ctx context.Context, ref, tab, query string, w engine.Window) (*engine.ChannelResult, error) {
	engine.IncrChannel()
	w = w.Normalize()
	base, err := y.channelBase(ref)
	if err != nil {
		return nil, err
	}

	var pageURL string
	switch tab {
	case "search":
		pageURL = base + "/search?query=" + url.QueryEscape(query)
	case "":
		pageURL = base + "/videos"
	default:
		pageURL = base + "/" + tab
	}

	page, err := retryNoData(ctx, y, "channel", func(ctx context.Context) (*listingPage, error) {
		return y.collect(ctx, w, pageURL, endpointBrowse)
	})
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", ref, err)
	}

	meta, _ := dig(page.root, "metadata", "channelMetadataRenderer").(map[string]any)
	res := &engine.ChannelResult{
		Listing: engine.Listing{
			ID:      str(meta["externalId"]),
			Title:   str(meta["title"]),
			URL:     base,
			Entries: page.entries,
		},
		ChannelID:   str(meta["externalId"]),
		Description: str(meta["description"]),
		Subscribers: text(dig(page.root, "header", "c4TabbedHeaderRenderer", "subscriberCountText")),
	}
	if vanity := str(meta["vanityChannelUrl"]); vanity != "" {
		if i := strings.LastIndex(vanity, "/@"); i >= 0 {
			res.Handle = vanity[i+1:]
		}
	}
	return res, nil
}

// playlistID accepts a bare list id or any URL carrying list=.
func playlistID(ref string) string {
	ref = strings.TrimSpace(ref)
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		if id := u.Query().Get("list"); id != "" {
			return id
		}
	}
	return ref
}

// Playlist lists a playlist's videos. Videos carry their 1-based position
// and a watch URL inside the playlist.
func (y *YouTube) Playlist(ctx context.Context, id string, w engine.Window) (*engine.PlaylistResult, error) {
	engine.IncrPlaylist()
	w = w.Normalize()
	id = playlistID(id)
	if id == "" {
		return nil, fmt.Errorf("empty playlist id")
	}
	pageURL := y.baseURL + "/playlist?list=" + url.QueryEscape(id)

	page, err := retryNoData(ctx, y, "playlist", func(ctx context.Context) (*listingPage, error) {
		return y.collect(ctx, w, pageURL, endpointBrowse)
	})
	if err != nil {
		return nil, fmt.Errorf("playlist %s: %w", id, err)
	}

	entries := make([]engine.Entry, len(page.entries))
	for i, e := range page.entries {
		if v, ok := e.(engine.VideoEntry); ok {
			v.Nth = w.Offset() + i + 1
			v.URL = engine.PlaylistItemURL(v.URL, id, v.Nth)
			e = v
		}
		entries[i] = e
	}

	res := &engine.PlaylistResult{
		Listing: engine.Listing{
			ID:      id,
			Title:   str(dig(page.root, "metadata", "playlistMetadataRenderer", "title")),
			URL:     pageURL,
			Entries: entries,
		},
	}
	owner := dig(page.root, "header", "playlistHeaderRenderer", "ownerText", "runs", 0)
	if owner == nil {
		owner = dig(page.root, "sidebar", "playlistSidebarRenderer", "items", 1,
			"playlistSidebarSecondaryInfoRenderer", "videoOwner", "videoOwnerRenderer", "title", "runs", 0)
	}
	res.ChannelName = str(dig(owner, "text"))
	if base := str(dig(owner, "navigationEndpoint", "browseEndpoint", "canonicalBaseUrl")); base != "" {
		res.ChannelURL = y.baseURL + base
	}
	return res, nil
}
