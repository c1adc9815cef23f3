package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// YouTube Innertube API: request context and continuation POSTs.

const (
	ytWebVersion     = "2.20250222.10.00"
	ytMaxPageBytes   = 4 * 1024 * 1024
	ytMaxResultBytes = 3 * 1024 * 1024
)

// Innertube endpoints serving continuation pages.
const (
	endpointSearch = "search"
	endpointBrowse = "browse"
)

type ytWebClientCtx struct {
	ClientName    string `json:"clientName"`
	ClientVersion string `json:"clientVersion"`
	Hl            string `json:"hl,omitempty"`
	Gl            string `json:"gl,omitempty"`
}

type ytWebUser struct {
	EnableSafetyMode bool `json:"enableSafetyMode"`
}

type ytWebReqCtx struct {
	UseSsl bool `json:"useSsl"`
}

type continuationReq struct {
	Context      map[string]any `json:"context"`
	Continuation string         `json:"continuation"`
}

// generateVisitorData creates a random 11-char visitor ID for Innertube requests.
func generateVisitorData() string {
	const chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	b := make([]byte, 11)
	for i := range b {
		b[i] = chars[rand.IntN(len(chars))] //nolint:gosec // non-cryptographic use
	}
	return string(b)
}

// ytWebContext builds the standard WEB client context for Innertube payloads.
// The visitor id travels in a header so identical continuations share a cache key.
func ytWebContext() map[string]any {
	return map[string]any{
		"client": ytWebClientCtx{
			ClientName:    "WEB",
			ClientVersion: ytWebVersion,
			Hl:            "en",
			Gl:            "US",
		},
		"user":    ytWebUser{EnableSafetyMode: false},
		"request": ytWebReqCtx{UseSsl: true},
	}
}

// postInnerTube POSTs a continuation token to an Innertube endpoint with WEB
// client headers and returns the raw JSON response.
func (y *YouTube) postInnerTube(ctx context.Context, endpoint, token, visitorData string) ([]byte, error) {
	bodyBytes, err := json.Marshal(continuationReq{Context: ytWebContext(), Continuation: token})
	if err != nil {
		return nil, err
	}
	apiURL := y.baseURL + "/youtubei/v1/" + endpoint + "?prettyPrint=false"

	engine.IncrUpstreamRequests()
	resp, err := engine.RetryHTTP(ctx, engine.DefaultRetryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "*/*")
		req.Header.Set("User-Agent", engine.UserAgentChrome)
		req.Header.Set("X-Youtube-Client-Name", "1")
		req.Header.Set("X-Youtube-Client-Version", ytWebVersion)
		req.Header.Set("X-Goog-Visitor-Id", visitorData)
		req.Header.Set("Origin", y.baseURL)
		req.Header.Set("Referer", y.baseURL+"/")
		return y.client.Do(req)
	})
	if err != nil {
		engine.IncrUpstreamErrors()
		return nil, fmt.Errorf("innertube %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		engine.IncrUpstreamErrors()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("innertube %s: HTTP %d: %s", endpoint, resp.StatusCode, snippet)
	}
	return io.ReadAll(io.LimitReader(resp.Body, ytMaxResultBytes))
}
