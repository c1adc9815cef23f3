package engine

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type fakeBrowser struct {
	gotMethod, gotURL string
	gotHeaders        map[string]string
	gotBody           string

	data    []byte
	headers map[string]string
	status  int
	err     error
}

func (f *fakeBrowser) Do(method, url string, headers map[string]string, body io.Reader) ([]byte, map[string]string, int, error) {
	f.gotMethod, f.gotURL, f.gotHeaders = method, url, headers
	if body != nil {
		b, _ := io.ReadAll(body)
		f.gotBody = string(b)
	}
	return f.data, f.headers, f.status, f.err
}

func TestBrowserTransportRoundTrip(t *testing.T) {
	fb := &fakeBrowser{
		data:    []byte(`{"ok":true}`),
		headers: map[string]string{"content-type": "application/json", "X-Cache": "miss"},
		status:  http.StatusAccepted,
	}
	req, _ := http.NewRequest(http.MethodPost, "https://www.youtube.com/youtubei/v1/browse", strings.NewReader("q"))
	req.Header.Set("X-Goog-Visitor-Id", "VISITOR")

	resp, err := (&BrowserTransport{Client: fb}).RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted || resp.Status != "202 Accepted" {
		t.Errorf("status = %d %q", resp.StatusCode, resp.Status)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := resp.Header.Get("X-Cache"); got != "miss" {
		t.Errorf("X-Cache = %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"ok":true}` || resp.ContentLength != int64(len(body)) {
		t.Errorf("body = %q, length %d", body, resp.ContentLength)
	}

	if fb.gotMethod != http.MethodPost || fb.gotBody != "q" {
		t.Errorf("sent %s with body %q", fb.gotMethod, fb.gotBody)
	}
	if fb.gotHeaders["x-goog-visitor-id"] != "VISITOR" {
		t.Errorf("visitor header not forwarded: %v", fb.gotHeaders)
	}
	if fb.gotHeaders["user-agent"] == "" {
		t.Error("missing default user-agent")
	}
}

func TestBrowserTransportError(t *testing.T) {
	fb := &fakeBrowser{err: errors.New("tls handshake")}
	req, _ := http.NewRequest(http.MethodGet, "https://www.youtube.com/watch?v=x", nil)
	if _, err := (&BrowserTransport{Client: fb}).RoundTrip(req); err == nil || !strings.Contains(err.Error(), "tls handshake") {
		t.Fatalf("err = %v", err)
	}
}
