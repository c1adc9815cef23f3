package engine

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	stealth "github.com/anatolykoptev/go-stealth"
)

// BrowserClient re-exports the stealth client for engine consumers.
type BrowserClient = stealth.BrowserClient

// BrowserDoer is the request method of BrowserClient. It returns the whole
// body, the response headers and the status code.
type BrowserDoer interface {
	Do(method, url string, headers map[string]string, body io.Reader) ([]byte, map[string]string, int, error)
}

// BrowserTransport sends requests through a BrowserClient so upstream sees a
// Chrome TLS fingerprint. Bodies arrive fully read; keep it off media streams.
type BrowserTransport struct {
	Client BrowserDoer
}

// RoundTrip implements http.RoundTripper.
func (t *BrowserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	headers := make(map[string]string, len(req.Header))
	for k, v := range req.Header {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = v[0]
		}
	}
	if _, ok := headers["user-agent"]; !ok {
		headers["user-agent"] = stealth.RandomUserAgent()
	}

	var body io.Reader
	if req.Body != nil && req.Body != http.NoBody {
		defer req.Body.Close()
		body = req.Body
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	data, respHeaders, status, err := t.Client.Do(req.Method, req.URL.String(), headers, body)
	if err != nil {
		return nil, fmt.Errorf("stealth %s %s: %w", req.Method, req.URL.Host, err)
	}
	h := make(http.Header, len(respHeaders))
	for k, v := range respHeaders {
		h.Set(k, v)
	}
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		Request:       req,
	}, nil
}
