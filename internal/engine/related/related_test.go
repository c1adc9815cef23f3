package related

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/engine/pagination"
)

type fakeSource struct {
	search   func(query string, f engine.SearchFilter, w engine.Window) (*engine.Listing, error)
	channel  func(ref, tab, query string, w engine.Window) (*engine.ChannelResult, error)
	playlist func(id string, w engine.Window) (*engine.PlaylistResult, error)

	channelCalls  atomic.Int32
	playlistCalls atomic.Int32
}

func (f *fakeSource) Search(ctx context.Context, query string, filter engine.SearchFilter, w engine.Window) (*engine.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.search == nil {
		return &engine.Listing{}, nil
	}
	return f.search(query, filter, w)
}

func (f *fakeSource) Channel(ctx context.Context, ref, tab, query string, w engine.Window) (*engine.ChannelResult, error) {
	f.channelCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.channel == nil {
		return &engine.ChannelResult{}, nil
	}
	return f.channel(ref, tab, query, w)
}

func (f *fakeSource) Playlist(ctx context.Context, id string, w engine.Window) (*engine.PlaylistResult, error) {
	f.playlistCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.playlist == nil {
		return &engine.PlaylistResult{}, nil
	}
	return f.playlist(id, w)
}

func (f *fakeSource) Video(context.Context, string, bool) (*engine.Video, error) {
	return nil, errors.New("not implemented")
}

func vid(id, channelURL string) engine.Entry {
	v := engine.NewVideo(id, "title "+id, "https://www.youtube.com/watch?v="+id, nil)
	v.ChannelURL = channelURL
	return v
}

func playlist(id string) engine.Entry {
	return engine.NewPlaylist(id, "list "+id, "https://www.youtube.com/playlist?list="+id, nil)
}

func listing(entries ...engine.Entry) *engine.Listing {
	return &engine.Listing{Entries: entries}
}

func ids(entries []engine.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.EntryID()
	}
	return out
}

func newCursor(t Target) *Cursor {
	return NewCursor(pagination.Params{PerPage: 50}, t)
}

func TestLess(t *testing.T) {
	tests := []struct {
		name string
		a, b Candidate
		want bool
	}{
		{"lighter first", Candidate{Weight: 1, FoundTimes: 9}, Candidate{Weight: 2}, true},
		{"heavier last", Candidate{Weight: 2}, Candidate{Weight: 1, FoundTimes: 9}, false},
		{"found times ignored below threshold",
			Candidate{Weight: 1.5, FoundTimes: 5, Tiebreak: 0.1},
			Candidate{Weight: 1.5, FoundTimes: 1, Tiebreak: 0.9}, true},
		{"found times counted at threshold",
			Candidate{Weight: 3, FoundTimes: 5, Tiebreak: 0.1},
			Candidate{Weight: 3, FoundTimes: 1, Tiebreak: 0.9}, false},
		{"tiebreak last", Candidate{Weight: 4, FoundTimes: 2, Tiebreak: 0.2},
			Candidate{Weight: 4, FoundTimes: 2, Tiebreak: 0.3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Less(&tt.a, &tt.b))
		})
	}
}

func TestRankBestFirst(t *testing.T) {
	cands := []*Candidate{
		{Entry: vid("low", ""), Weight: 0.5},
		{Entry: vid("top", ""), Weight: 4, FoundTimes: 3},
		{Entry: vid("mid", ""), Weight: 4, FoundTimes: 1},
	}
	assert.Equal(t, []string{"top", "mid", "low"}, ids(Rank(cands)))
}

func TestAdditions(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		want   []string
	}{
		{"none", Target{}, []string{""}},
		{"same name", Target{ChannelName: " Chan ", UploaderID: "@chan"}, []string{"Chan", ""}},
		{"distinct", Target{ChannelName: "Chan", UploaderID: "@other"}, []string{"Chan", "other", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.target.additions())
		})
	}
}

func TestOnVideosScoring(t *testing.T) {
	c := newCursor(Target{VideoID: "w"})
	c.OnVideos("first", []engine.Entry{
		vid("v1", ""), vid("w", ""), vid("v2", ""),
		engine.NewSearchLink("more", "https://www.youtube.com/results?search_query=x"),
		playlist("pl"),
	}, 2)
	c.OnVideos("second", []engine.Entry{vid("v2", "")}, 1)

	got := map[string]Candidate{}
	for _, cand := range c.Candidates() {
		got[cand.Entry.EntryID()] = *cand
	}
	require.Len(t, got, 2)
	assert.NotContains(t, got, "w")

	assert.Equal(t, 3.0, got["v1"].Weight, "first entry gets the bonus")
	assert.Equal(t, 1, got["v1"].FoundTimes)
	assert.Equal(t, 0.0, got["v1"].EarliestPosition)

	assert.Equal(t, 2.0, got["v2"].Weight, "bump keeps the max weight")
	assert.Equal(t, 2, got["v2"].FoundTimes)
	assert.Equal(t, 0.0, got["v2"].EarliestPosition, "earliest position is the min")
}

func TestFindNoChannelURL(t *testing.T) {
	src := &fakeSource{}
	c := newCursor(Target{VideoID: "w", VideoName: "Some Title"})

	require.NoError(t, NewFinder(src).Find(context.Background(), c))
	assert.Zero(t, src.channelCalls.Load())
	assert.True(t, c.Done())
	assert.Empty(t, c.Items())
}

func TestFindScoresPlaylists(t *testing.T) {
	const chA = "https://www.youtube.com/channel/A"
	src := &fakeSource{
		channel: func(ref, tab, query string, _ engine.Window) (*engine.ChannelResult, error) {
			assert.Equal(t, chA, ref)
			assert.Equal(t, "search", tab)
			assert.Equal(t, "Cool", query)
			return &engine.ChannelResult{Listing: *listing(vid("c1", chA))}, nil
		},
		search: func(query string, f engine.SearchFilter, w engine.Window) (*engine.Listing, error) {
			switch {
			case f.Type == engine.TypePlaylist && query == "Cool Song":
				assert.Equal(t, 3, w.PerPage)
				return listing(playlist("pl1"), playlist("pl2"), vid("stray", "")), nil
			case f.IsZero() && query == "Cool Song":
				return listing(vid("s1", ""), vid("c1", chA)), nil
			}
			return &engine.Listing{}, nil
		},
		playlist: func(id string, w engine.Window) (*engine.PlaylistResult, error) {
			assert.Equal(t, 100, w.PerPage)
			switch id {
			case "pl1": // holds the watched video
				return &engine.PlaylistResult{Listing: *listing(vid("w", "B"), vid("p1a", "C"))}, nil
			case "pl2": // single uploader
				return &engine.PlaylistResult{Listing: *listing(vid("p2a", "D"), vid("p2b", "D"), vid("p2c", "D"))}, nil
			}
			return nil, errors.New("unknown playlist")
		},
	}
	c := newCursor(Target{VideoID: "w", VideoName: "Cool, Song!", ChannelURL: chA})

	require.NoError(t, NewFinder(src).Find(context.Background(), c))
	got := ids(c.Items())
	require.Len(t, got, 6)
	assert.NotContains(t, got, "w")
	assert.NotContains(t, got, "stray")
	assert.Equal(t, "c1", got[0], "found twice at weight 4")
	assert.Equal(t, "p1a", got[1])
	assert.ElementsMatch(t, []string{"s1", "p2a"}, got[2:4])
	assert.ElementsMatch(t, []string{"p2b", "p2c"}, got[4:])
	assert.False(t, c.Vague())
	assert.True(t, c.Returned("c1"))
}

func TestFindExpandsPlaylistsAfterDiscovery(t *testing.T) {
	var searches atomic.Int32
	src := &fakeSource{
		search: func(query string, f engine.SearchFilter, _ engine.Window) (*engine.Listing, error) {
			if f.Type != engine.TypePlaylist {
				return &engine.Listing{}, nil
			}
			defer searches.Add(1)
			return listing(playlist("pl-" + query)), nil
		},
	}
	src.playlist = func(string, engine.Window) (*engine.PlaylistResult, error) {
		assert.Equal(t, int32(3), searches.Load(), "playlist fetched before discovery finished")
		return &engine.PlaylistResult{Listing: *listing(vid("x", ""))}, nil
	}
	c := newCursor(Target{VideoID: "w", VideoName: "Title", ChannelName: "Chan", UploaderID: "@other"})

	require.NoError(t, NewFinder(src).Find(context.Background(), c))
	assert.Equal(t, int32(3), src.playlistCalls.Load())
	assert.Equal(t, []string{"x"}, ids(c.Items()))
}

func TestFindPartialFailure(t *testing.T) {
	src := &fakeSource{
		channel: func(string, string, string, engine.Window) (*engine.ChannelResult, error) {
			return nil, engine.ErrSourceUnavailable
		},
		search: func(_ string, f engine.SearchFilter, _ engine.Window) (*engine.Listing, error) {
			if f.IsZero() {
				return listing(vid("a", ""), vid("b", "")), nil
			}
			return nil, errors.New("boom")
		},
	}
	c := newCursor(Target{VideoID: "w", VideoName: "Title", ChannelURL: "https://www.youtube.com/@x"})

	require.NoError(t, NewFinder(src).Find(context.Background(), c))
	assert.Equal(t, []string{"a", "b"}, ids(c.Items()))
	assert.False(t, c.Done())
}

func TestFindAllStrategiesFail(t *testing.T) {
	fail := errors.New("down")
	src := &fakeSource{
		channel: func(string, string, string, engine.Window) (*engine.ChannelResult, error) { return nil, fail },
		search:  func(string, engine.SearchFilter, engine.Window) (*engine.Listing, error) { return nil, fail },
	}
	c := newCursor(Target{VideoID: "w", VideoName: "Title", ChannelURL: "https://www.youtube.com/@x"})

	err := NewFinder(src).Find(context.Background(), c)
	require.ErrorIs(t, err, ErrAllStrategiesFailed)
	assert.False(t, c.Done())
	assert.Zero(t, c.Buffered())
	assert.False(t, c.Vague())
}

func TestFindCancelled(t *testing.T) {
	src := &fakeSource{
		search: func(string, engine.SearchFilter, engine.Window) (*engine.Listing, error) {
			return listing(vid("a", "")), nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newCursor(Target{VideoID: "w", VideoName: "Title"})

	err := NewFinder(src).Find(ctx, c)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Buffered())
	assert.False(t, c.Done())
	assert.Empty(t, c.Candidates())
}

func TestFindEscalatesToVagueSearch(t *testing.T) {
	src := &fakeSource{
		search: func(query string, f engine.SearchFilter, _ engine.Window) (*engine.Listing, error) {
			if f.IsZero() && query == "Alpha Beta" {
				return listing(vid("v1", "")), nil
			}
			return &engine.Listing{}, nil
		},
	}
	c := newCursor(Target{VideoID: "w", VideoName: "Alpha Beta Gamma"})
	f := NewFinder(src)

	require.NoError(t, f.Find(context.Background(), c))
	assert.True(t, c.Vague())
	assert.Equal(t, []string{"v1"}, ids(c.Items()))

	// The cursor stays vague; once the vague pass runs dry it is done.
	c.Advance()
	require.NoError(t, f.Find(context.Background(), c))
	assert.True(t, c.Done())
}

func TestFindSkipsReturnedIDs(t *testing.T) {
	src := &fakeSource{}
	src.search = func(_ string, f engine.SearchFilter, w engine.Window) (*engine.Listing, error) {
		if !f.IsZero() {
			return &engine.Listing{}, nil
		}
		if w.Page == 1 {
			return listing(vid("a", ""), vid("b", "")), nil
		}
		return listing(vid("b", ""), vid("c", ""), vid("w", "")), nil
	}
	c := newCursor(Target{VideoID: "w", VideoName: "Title"})
	f := NewFinder(src)

	require.NoError(t, f.Find(context.Background(), c))
	assert.ElementsMatch(t, []string{"a", "b"}, ids(c.Items()))
	c.Advance()

	require.NoError(t, f.Find(context.Background(), c))
	assert.Equal(t, []string{"c"}, ids(c.Items()))
}

func TestFindNoopWhenBuffered(t *testing.T) {
	src := &fakeSource{}
	c := newCursor(Target{VideoID: "w", VideoName: "Title"})
	c.Add([]engine.Entry{vid("a", "")})

	require.NoError(t, NewFinder(src).Find(context.Background(), c))
	assert.Zero(t, src.playlistCalls.Load())
	assert.Equal(t, []string{"a"}, ids(c.Items()))
}
