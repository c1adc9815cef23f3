package related

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/engine/pagination"
)

// Result-set weights of each discovery strategy.
const (
	weightChannelSearch  = 3
	weightBasicSearch    = 0.5
	weightPlaylistPlain  = 1
	weightPlaylistWithID = 2
	weightHasWatched     = 4
	weightHasSameChannel = 3

	playlistSearchPerPage = 3
	playlistFetchPerPage  = 100
	singleChannelShare    = 0.7
)

// ErrAllStrategiesFailed is returned when every sub-fetch of a page failed.
var ErrAllStrategiesFailed = errors.New("related: all discovery strategies failed")

// Target identifies the watched video.
type Target struct {
	VideoID     string
	VideoName   string
	UploaderID  string
	ChannelName string
	ChannelURL  string
}

// CleanedName is the title with punctuation collapsed, used for queries.
func (t Target) CleanedName() string { return engine.CleanTitle(t.VideoName) }

// additions returns the distinct query suffixes for playlist discovery:
// channel name, uploader id without "@", and none.
func (t Target) additions() []string {
	channel := strings.TrimSpace(t.ChannelName)
	uploader := strings.TrimSpace(strings.TrimPrefix(t.UploaderID, "@"))
	if strings.EqualFold(channel, uploader) {
		uploader = channel
	}
	seen := map[string]bool{}
	var out []string
	for _, a := range []string{channel, uploader, ""} {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

type foundPlaylist struct {
	entry  engine.PlaylistEntry
	weight float64
}

// Cursor is a pagination cursor carrying related-discovery state.
type Cursor struct {
	*pagination.Cursor[engine.Entry]
	Target Target

	vague    bool
	returned map[string]struct{}

	mu        sync.Mutex
	batch     map[string]*Candidate
	playlists map[string]foundPlaylist
}

// NewCursor builds an unregistered related cursor.
func NewCursor(p pagination.Params, t Target) *Cursor {
	return &Cursor{
		Cursor:    pagination.NewCursor[engine.Entry](p),
		Target:    t,
		returned:  make(map[string]struct{}),
		batch:     make(map[string]*Candidate),
		playlists: make(map[string]foundPlaylist),
	}
}

// Vague reports whether the cursor fell back to broader queries.
func (c *Cursor) Vague() bool { return c.vague }

// Returned reports whether id was emitted on an earlier page.
func (c *Cursor) Returned(id string) bool {
	_, ok := c.returned[id]
	return ok
}

// Candidates returns a snapshot of the current batch.
func (c *Cursor) Candidates() []*Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Candidate, 0, len(c.batch))
	for _, cand := range c.batch {
		cp := *cand
		out = append(out, &cp)
	}
	return out
}

// OnVideos scores one fetched result set. The first entry gets weight+1, the
// rest weight. The watched video and ids returned on earlier pages are skipped.
func (c *Cursor) OnVideos(title string, entries []engine.Entry, weight float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var exclude, bump, add, ignore int
	weight++
	n := float64(len(entries))
	for i, e := range entries {
		pos := float64(i) / n
		switch e := e.(type) {
		case engine.ShortEntry, engine.VideoEntry:
			id := e.EntryID()
			_, seen := c.returned[id]
			switch cand, inBatch := c.batch[id]; {
			case id == c.Target.VideoID || seen:
				exclude++
			case inBatch:
				bump++
				cand.FoundTimes++
				cand.Weight = max(cand.Weight, weight)
				cand.EarliestPosition = min(cand.EarliestPosition, pos)
			default:
				add++
				c.batch[id] = &Candidate{Entry: e, FoundTimes: 1, Weight: weight, EarliestPosition: pos}
			}
		default:
			ignore++
		}
		if i == 0 {
			weight--
		}
	}

	slog.Info("related: scored result set",
		slog.String("from", title),
		slog.Int("exclude", exclude), slog.Int("bump", bump),
		slog.Int("add", add), slog.Int("ignore", ignore))
}

// addPlaylist records a discovered playlist; rediscovery keeps the highest weight.
func (c *Cursor) addPlaylist(p engine.PlaylistEntry, weight float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := p.URL
	if key == "" {
		key = p.ID
	}
	if prev, ok := c.playlists[key]; ok && prev.weight >= weight {
		return
	}
	c.playlists[key] = foundPlaylist{entry: p, weight: weight}
}

func (c *Cursor) discovered() []foundPlaylist {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]foundPlaylist, 0, len(c.playlists))
	for _, p := range c.playlists {
		out = append(out, p)
	}
	return out
}

func (c *Cursor) batchLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batch)
}

func (c *Cursor) clearBatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.batch)
	clear(c.playlists)
}

// FinishBatch ranks the batch, appends it best first and clears it.
// An empty batch marks the cursor done.
func (c *Cursor) FinishBatch(tiebreak func() float64) int {
	c.mu.Lock()
	cands := make([]*Candidate, 0, len(c.batch))
	for _, cand := range c.batch {
		cand.Tiebreak = tiebreak()
		cands = append(cands, cand)
	}
	clear(c.batch)
	clear(c.playlists)
	c.mu.Unlock()

	entries := Rank(cands)
	for _, e := range entries {
		c.returned[e.EntryID()] = struct{}{}
	}
	slog.Info("related: batch finished",
		slog.String("video", c.Target.VideoName),
		slog.Int("results", len(entries)), slog.Int("page", c.Page))
	c.Add(entries)
	return len(entries)
}

// Finder runs related-video discovery against a VideoSource.
type Finder struct {
	src      engine.VideoSource
	tiebreak func() float64
}

// NewFinder creates a finder over src.
func NewFinder(src engine.VideoSource) *Finder {
	return &Finder{src: src, tiebreak: rand.Float64}
}

// pass counts the sub-fetches of one discovery pass.
type pass struct {
	attempts atomic.Int32
	failures atomic.Int32
}

func (p *pass) allFailed() bool {
	return p.attempts.Load() > 0 && p.attempts.Load() == p.failures.Load()
}

// Find fills the cursor with the next page of related videos when it needs more data.
// Sub-fetch failures are logged and skipped. A cancelled ctx leaves the cursor untouched.
func (f *Finder) Find(ctx context.Context, c *Cursor) error {
	if !c.NeedsMoreData() {
		return nil
	}
	engine.IncrRelatedPages()
	slog.Info("related: getting page", slog.Int("page", c.Page), slog.String("video", c.Target.VideoName))

	return engine.TrackOperation(ctx, "related:"+c.Target.VideoID, func(ctx context.Context) error {
		var p pass
		if c.vague {
			f.vaguePass(ctx, c, &p)
		} else {
			f.firstPass(ctx, c, &p)
			if err := ctx.Err(); err != nil {
				c.clearBatch()
				return err
			}
			if c.batchLen() == 0 && !p.allFailed() {
				slog.Info("related: now using vague search", slog.String("video", c.Target.VideoName))
				c.Reset()
				c.vague = true
				p = pass{}
				f.vaguePass(ctx, c, &p)
			}
		}

		if err := ctx.Err(); err != nil {
			c.clearBatch()
			return err
		}
		if c.batchLen() == 0 && p.allFailed() {
			c.clearBatch()
			return ErrAllStrategiesFailed
		}
		c.FinishBatch(f.tiebreak)
		return nil
	})
}

// firstPass runs the channel search and basic search alongside playlist
// discovery; discovered playlists are expanded only once every discovery
// search has returned.
func (f *Finder) firstPass(ctx context.Context, c *Cursor, p *pass) {
	name := c.Target.CleanedName()
	var g errgroup.Group
	g.Go(func() error {
		f.findChannelVideos(ctx, c, p)
		return nil
	})
	g.Go(func() error {
		f.searchVideos(ctx, c, p, name, weightBasicSearch)
		return nil
	})
	g.Go(func() error {
		var discovery errgroup.Group
		for _, addition := range c.Target.additions() {
			discovery.Go(func() error {
				query, weight := name, float64(weightPlaylistPlain)
				if addition != "" {
					query, weight = name+" "+addition, weightPlaylistWithID
				}
				f.findPlaylists(ctx, c, p, query, weight)
				return nil
			})
		}
		discovery.Wait() //nolint:errcheck // sub-fetches never return errors
		f.processPlaylists(ctx, c, p)
		return nil
	})
	g.Wait() //nolint:errcheck // sub-fetches never return errors
}

// vaguePass broadens the queries to the first half of the title with no additions.
func (f *Finder) vaguePass(ctx context.Context, c *Cursor, p *pass) {
	query := engine.HalfTitle(c.Target.CleanedName())
	var g errgroup.Group
	g.Go(func() error {
		f.searchVideos(ctx, c, p, query, weightBasicSearch)
		return nil
	})
	g.Go(func() error {
		f.findPlaylists(ctx, c, p, query, weightPlaylistPlain)
		f.processPlaylists(ctx, c, p)
		return nil
	})
	g.Wait() //nolint:errcheck // sub-fetches never return errors
}

// report logs a failed sub-fetch; the strategy then contributes nothing.
func (f *Finder) report(p *pass, strategy, query string, err error) bool {
	p.attempts.Add(1)
	if err == nil {
		return false
	}
	p.failures.Add(1)
	engine.IncrRelatedSubFailures()
	slog.Warn("related: sub-fetch failed",
		slog.String("strategy", strategy), slog.String("query", query), slog.Any("error", err))
	return true
}

func (f *Finder) findChannelVideos(ctx context.Context, c *Cursor, p *pass) {
	if c.Target.ChannelURL == "" {
		slog.Info("related: no channel URL", slog.String("video", c.Target.VideoName))
		return
	}
	query := engine.HalfTitle(c.Target.CleanedName())
	got, err := f.src.Channel(ctx, c.Target.ChannelURL, "search", query, c.Window())
	if f.report(p, "channel", query, err) {
		return
	}
	slog.Debug("related: channel videos", slog.Int("count", got.Len()), slog.String("query", query))
	c.OnVideos(got.Title, got.Entries, weightChannelSearch)
}

func (f *Finder) searchVideos(ctx context.Context, c *Cursor, p *pass, query string, weight float64) {
	got, err := f.src.Search(ctx, query, engine.SearchFilter{}, c.Window())
	if f.report(p, "search", query, err) {
		return
	}
	slog.Debug("related: site videos", slog.Int("count", got.Len()), slog.String("query", query))
	c.OnVideos("search: "+query, got.Entries, weight)
}

func (f *Finder) findPlaylists(ctx context.Context, c *Cursor, p *pass, query string, weight float64) {
	filter := engine.SearchFilter{Type: engine.TypePlaylist}
	got, err := f.src.Search(ctx, query, filter, c.WindowWith(playlistSearchPerPage))
	if f.report(p, "playlists", query, err) {
		return
	}
	slog.Debug("related: playlists found", slog.Int("count", got.Len()), slog.String("query", query))
	for _, e := range got.Entries {
		if pl, ok := e.(engine.PlaylistEntry); ok {
			c.addPlaylist(pl, weight)
		}
	}
}

func (f *Finder) processPlaylists(ctx context.Context, c *Cursor, p *pass) {
	var g errgroup.Group
	for _, pl := range c.discovered() {
		g.Go(func() error {
			f.onPlaylist(ctx, c, p, pl)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // sub-fetches never return errors
}

// onPlaylist loads a discovered playlist and adjusts its weight: single-uploader
// playlists are halved, else containing the watched video forces 4, else
// containing another video of the same channel forces 3.
func (f *Finder) onPlaylist(ctx context.Context, c *Cursor, p *pass, pl foundPlaylist) {
	got, err := f.src.Playlist(ctx, pl.entry.ID, c.WindowWith(playlistFetchPerPage))
	if f.report(p, "playlist", pl.entry.ID, err) {
		return
	}
	weight := pl.weight
	switch {
	case dominantShare(got.Entries) >= singleChannelShare:
		slog.Debug("related: single-channel playlist", slog.String("playlist", got.Title))
		weight /= 2
	case containsID(got.Entries, c.Target.VideoID):
		slog.Debug("related: playlist has watched video", slog.String("playlist", got.Title))
		weight = weightHasWatched
	case c.Target.ChannelURL != "" && hasChannelVideo(got.Entries, c.Target.ChannelURL):
		slog.Debug("related: playlist has same-channel video", slog.String("playlist", got.Title))
		weight = weightHasSameChannel
	}
	c.OnVideos(got.Title, got.Entries, weight)
}

// dominantShare is the fraction of entries coming from the most common channel.
// Shorts carry no channel and are not counted towards any channel.
func dominantShare(entries []engine.Entry) float64 {
	if len(entries) == 0 {
		return 0
	}
	counts := map[string]int{}
	best := 0
	for _, e := range entries {
		var channel string
		switch e := e.(type) {
		case engine.VideoEntry:
			channel = e.ChannelURL
		case engine.PartialEntry:
			channel = e.ChannelURL
		case engine.ShortEntry, engine.PlaylistEntry, engine.ChannelEntry, engine.SearchLink:
			continue
		}
		if channel == "" {
			continue
		}
		counts[channel]++
		best = max(best, counts[channel])
	}
	return float64(best) / float64(len(entries))
}

func containsID(entries []engine.Entry, id string) bool {
	for _, e := range entries {
		if e.EntryID() == id {
			return true
		}
	}
	return false
}

func hasChannelVideo(entries []engine.Entry, channelURL string) bool {
	for _, e := range entries {
		if v, ok := e.(engine.VideoEntry); ok && v.ChannelURL == channelURL {
			return true
		}
	}
	return false
}
