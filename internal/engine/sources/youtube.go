package sources

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kkdai/youtube/v2"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// YouTube implementation is split by responsibility:
//   youtube.go            the VideoSource type, options and no-data retry
//   youtube_innertube.go  Innertube request context and continuation POSTs
//   youtube_initialdata.go ytInitialData page fetch and renderer walking
//   youtube_listing.go    search, channel and playlist listings over page windows
//   youtube_video.go      player data via kkdai/youtube and format mapping
//   youtube_fallback.go   ytsearch fallback for search
//   youtube_transcript.go caption tracks and timedtext parsing

const defaultBaseURL = "https://www.youtube.com"

// noDataTries bounds retries of extractions that come back empty.
const noDataTries = 10

// player is the subset of *youtube.Client used for video metadata and
// the transcript fallback.
type player interface {
	GetVideoContext(ctx context.Context, id string) (*youtube.Video, error)
	GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error)
	GetTranscriptCtx(ctx context.Context, video *youtube.Video, lang string) (youtube.VideoTranscript, error)
}

// fallbackSearch returns first-page search results from a secondary backend.
type fallbackSearch func(ctx context.Context, query string) ([]engine.Entry, error)

// YouTube is an engine.VideoSource scraping www.youtube.com. All page and
// API traffic goes through the cached HTTP client of engine.Services.
type YouTube struct {
	baseURL    string
	client     *http.Client
	direct     *http.Client
	pool       *engine.WorkerPool
	cacheTTL   time.Duration
	player     player
	fallback   fallbackSearch
	newBackOff func() backoff.BackOff
	now        func() time.Time
	extractors *extractorPool
}

// Option configures a YouTube source.
type Option func(*YouTube)

// WithBaseURL points the source at another origin (tests use httptest).
func WithBaseURL(u string) Option {
	return func(y *YouTube) { y.baseURL = strings.TrimRight(u, "/") }
}

// WithPlayer replaces the kkdai client used for video metadata.
func WithPlayer(p player) Option {
	return func(y *YouTube) { y.player = p }
}

// WithFallback replaces the secondary search backend. nil disables it.
func WithFallback(fn fallbackSearch) Option {
	return func(y *YouTube) { y.fallback = fn }
}

// WithBackOff sets the retry schedule for empty extractions.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(y *YouTube) { y.newBackOff = fn }
}

// WithClock overrides the time source used for metadata freshness.
func WithClock(now func() time.Time) Option {
	return func(y *YouTube) { y.now = now }
}

// NewYouTube builds a YouTube source over svc.
func NewYouTube(svc *engine.Services, opts ...Option) *YouTube {
	y := &YouTube{
		baseURL:  defaultBaseURL,
		client:   svc.HTTPClient,
		direct:   svc.Direct,
		pool:     svc.Pool,
		cacheTTL: svc.Cache.TTL(),
		fallback: ytsearchFallback,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxInterval = 5 * time.Second
			return bo
		},
		now: time.Now,
	}
	y.player = &youtube.Client{HTTPClient: svc.HTTPClient}
	for _, opt := range opts {
		opt(y)
	}
	y.extractors = newExtractorPool()
	return y
}

// retryNoData runs fn on the worker pool until it stops failing with
// engine.ErrNoData. Each attempt takes its own pool slot, so backoff waits
// hold none. Any other error ends the retries immediately. Retries bypass
// cached responses so a stored empty page is replaced.
func retryNoData[T any](ctx context.Context, y *YouTube, what string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	op := func() (T, error) {
		attempt++
		c := ctx
		if attempt > 1 {
			c = engine.WithSkipCache(ctx)
		}
		v, err := engine.Submit(c, y.pool, fn)
		if err != nil && !errors.Is(err, engine.ErrNoData) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, wait time.Duration) {
		slog.Debug("youtube: no data, retrying",
			slog.String("what", what), slog.Int("attempt", attempt),
			slog.Duration("wait", wait), slog.Any("error", err))
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(y.newBackOff()),
		backoff.WithMaxTries(noDataTries),
		backoff.WithNotify(notify))
}
