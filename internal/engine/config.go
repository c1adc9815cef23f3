package engine

import (
	"net/http"
	"time"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	CacheDir           string
	CacheTTL           time.Duration // default lifetime of upstream responses
	CacheMaxBytes      int64         // prune limit
	CachePruneInterval time.Duration
	WorkerPoolSize     int     // concurrent extraction jobs
	HostParallelism    int     // in-flight requests per host group
	HostRPS            float64 // 0 = no rate limit
	FetchTimeout       time.Duration
	YouTubeBaseURL     string
	ProxyPrefix        string         // prefix for rewritten media URLs, e.g. "/proxy?url="
	BrowserClient      *BrowserClient // nil = plain net/http transport
}

// Services are the process-wide engine singletons, built once by main and
// passed to the packages that need them.
type Services struct {
	Cache      *CacheStore
	Pool       *WorkerPool
	HTTPClient *http.Client // cached, host-limited upstream client
	Direct     *http.Client // host-limited, never cached, plain transport (media streams)
}

// NewServices builds the cache store, worker pool and upstream HTTP clients.
func NewServices(c Config) (*Services, error) {
	store, err := NewCacheStore(c.CacheDir, c.CacheTTL)
	if err != nil {
		return nil, err
	}

	timeout := c.FetchTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	// The browser client reads whole bodies, so it only serves page and API
	// fetches. Media streams always go through a plain transport.
	var pages http.RoundTripper = newTransport(timeout)
	if c.BrowserClient != nil {
		pages = &BrowserTransport{Client: c.BrowserClient}
	}

	limited := NewHostLimiter(pages, c.HostParallelism, c.HostRPS)
	return &Services{
		Cache: store,
		Pool:  NewWorkerPool(c.WorkerPoolSize),
		HTTPClient: &http.Client{
			Timeout: timeout,
			Transport: &CachingTransport{
				Store: store,
				Next:  limited,
			},
		},
		Direct: &http.Client{
			Transport: limited.Wrap(newTransport(timeout)),
		},
	}, nil
}

// newTransport returns a streaming transport. headerTimeout bounds the wait
// for response headers, not the body.
func newTransport(headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}
}
