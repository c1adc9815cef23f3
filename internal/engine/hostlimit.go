package engine

import (
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// mediaDomains are served by the same origin infrastructure as youtube.com
// and share its request budget.
var mediaDomains = map[string]bool{
	"ytimg.com":             true,
	"googlevideo.com":       true,
	"googleusercontent.com": true,
	"ggpht.com":             true,
}

// HostGroup returns the registrable domain requests to host are accounted to.
func HostGroup(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	if mediaDomains[domain] {
		return "youtube.com"
	}
	return domain
}

// HostLimiter caps in-flight requests (and optionally request rate) per host group.
// A slot is held until the response body is closed.
type HostLimiter struct {
	next   http.RoundTripper
	groups *hostGroups
}

// hostGroups is the slot table, shared by limiters made with Wrap.
type hostGroups struct {
	parallel int64
	rps      float64

	mu    sync.Mutex
	slots map[string]*hostSlot
}

type hostSlot struct {
	sem *semaphore.Weighted
	lim *rate.Limiter // nil = unlimited rate
}

// NewHostLimiter wraps next. parallel <= 0 defaults to 16; rps <= 0 disables rate limiting.
func NewHostLimiter(next http.RoundTripper, parallel int, rps float64) *HostLimiter {
	if parallel <= 0 {
		parallel = 16
	}
	g := &hostGroups{parallel: int64(parallel), rps: rps, slots: make(map[string]*hostSlot)}
	return (&HostLimiter{groups: g}).Wrap(next)
}

// Wrap returns a limiter over next that draws from the same per-host budget.
func (h *HostLimiter) Wrap(next http.RoundTripper) *HostLimiter {
	if next == nil {
		next = http.DefaultTransport
	}
	return &HostLimiter{next: next, groups: h.groups}
}

func (g *hostGroups) slot(group string) *hostSlot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[group]
	if !ok {
		s = &hostSlot{sem: semaphore.NewWeighted(g.parallel)}
		if g.rps > 0 {
			s.lim = rate.NewLimiter(rate.Limit(g.rps), max(1, int(g.rps)))
		}
		g.slots[group] = s
	}
	return s
}

// RoundTrip implements http.RoundTripper.
func (h *HostLimiter) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	s := h.groups.slot(HostGroup(req.URL.Host))
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if s.lim != nil {
		if err := s.lim.Wait(ctx); err != nil {
			s.sem.Release(1)
			return nil, err
		}
	}

	resp, err := h.next.RoundTrip(req)
	if err != nil {
		s.sem.Release(1)
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: func() { s.sem.Release(1) }}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
