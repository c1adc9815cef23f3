package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHostGroup(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"www.youtube.com", "youtube.com"},
		{"i.ytimg.com", "youtube.com"},
		{"rr3---sn-abc.googlevideo.com", "youtube.com"},
		{"yt3.ggpht.com:443", "youtube.com"},
		{"lh3.googleusercontent.com", "youtube.com"},
		{"invidious.example.co.uk", "example.co.uk"},
		{"127.0.0.1:8080", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := HostGroup(tt.host); got != tt.want {
				t.Errorf("HostGroup(%q) = %q, want %q", tt.host, got, tt.want)
			}
		})
	}
}

func TestHostLimiterCapsParallelism(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := &http.Client{Transport: NewHostLimiter(nil, 2, 0)}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Get(srv.URL)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak.Load())
	}
}

func TestHostLimiterHonorsContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	lim := NewHostLimiter(nil, 1, 0)
	c := &http.Client{Transport: lim}
	go c.Get(srv.URL) //nolint:errcheck // occupies the only slot
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if _, err := c.Do(req); err == nil {
		t.Error("expected context error while waiting for a slot")
	}
}
