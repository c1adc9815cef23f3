package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrNotCacheable is reported for requests that cannot be keyed; the caching
// transport passes them through untouched.
var ErrNotCacheable = errors.New("request not cacheable")

type skipCacheKey struct{}

type expiryBatchKey struct{}

// WithSkipCache makes cached transports ignore stored responses for requests
// made with the returned context. Fresh responses are still written.
func WithSkipCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipCacheKey{}, true)
}

func skipCache(ctx context.Context) bool {
	v, _ := ctx.Value(skipCacheKey{}).(bool)
	return v
}

// ExpiryBatch collects the cache entries written during one logical extraction
// so their lifetime can be adjusted once the payload has been inspected.
type ExpiryBatch struct {
	mu      sync.Mutex
	handles []*CacheHandle
}

// WithExpiryBatch attaches a new batch to ctx.
func WithExpiryBatch(ctx context.Context) (context.Context, *ExpiryBatch) {
	b := &ExpiryBatch{}
	return context.WithValue(ctx, expiryBatchKey{}, b), b
}

func (b *ExpiryBatch) add(h *CacheHandle) {
	b.mu.Lock()
	b.handles = append(b.handles, h)
	b.mu.Unlock()
}

// Len returns the number of entries recorded so far.
func (b *ExpiryBatch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}

// ExpireIn sets every recorded entry to expire d from now.
func (b *ExpiryBatch) ExpireIn(d time.Duration) error {
	b.mu.Lock()
	handles := append([]*CacheHandle(nil), b.handles...)
	b.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		if err := h.ExpireIn(d); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CachingTransport serves upstream requests from a CacheStore and stores
// successful responses in it.
type CachingTransport struct {
	Store *CacheStore
	Next  http.RoundTripper // nil = http.DefaultTransport
}

func (t *CachingTransport) next() http.RoundTripper {
	if t.Next != nil {
		return t.Next
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *CachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	key, err := t.keyFor(req)
	if errors.Is(err, ErrNotCacheable) {
		return t.next().RoundTrip(req)
	}
	if err != nil {
		return nil, err
	}

	ctx := req.Context()
	if !skipCache(ctx) {
		if cached, hit := t.Store.Get(key); hit {
			return cachedToResponse(req, cached), nil
		}
	}

	resp, err := t.next().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	handle, err := t.Store.Put(key, &CachedResponse{
		URL:        req.URL.String(),
		Header:     resp.Header.Clone(),
		StatusCode: resp.StatusCode,
		Reason:     reasonPhrase(resp),
		Body:       body,
	}, 0)
	if err != nil {
		return nil, err
	}
	if b, ok := ctx.Value(expiryBatchKey{}).(*ExpiryBatch); ok {
		b.add(handle)
	}
	return resp, nil
}

// keyFor returns the cache key of req, or ErrNotCacheable for byte-range
// reads, methods other than GET and POST, and bodies that cannot be replayed.
func (t *CachingTransport) keyFor(req *http.Request) (CacheKey, error) {
	if req.Header.Get("Range") != "" {
		return "", fmt.Errorf("%w: range request", ErrNotCacheable)
	}
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return "", fmt.Errorf("%w: method %s", ErrNotCacheable, req.Method)
	}
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			slog.Debug("cache: streaming body not cacheable", slog.String("url", req.URL.String()))
			return "", fmt.Errorf("%w: streaming body", ErrNotCacheable)
		}
		rc, err := req.GetBody()
		if err != nil {
			return "", err
		}
		body, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
	}
	return t.Store.KeyFor(req.Method, req.URL.String(), body), nil
}

func reasonPhrase(resp *http.Response) string {
	if _, reason, ok := strings.Cut(resp.Status, " "); ok {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}

func cachedToResponse(req *http.Request, c *CachedResponse) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", c.StatusCode, c.Reason),
		StatusCode:    c.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        c.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}
