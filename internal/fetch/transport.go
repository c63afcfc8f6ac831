package fetch

import (
	"net/http"
	"time"
)

// HeaderTransport injects the browser-like request headers some CDNs insist
// on before serving playlist or segment bytes.
type HeaderTransport struct {
	UserAgent string
	Referer   string
	Base      http.RoundTripper
}

func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	if t.Referer != "" && req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", t.Referer)
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewClient builds the HTTP client shared by playlist, key, and segment
// requests. The timeout applies per request and therefore counts against a
// segment's retry budget.
func NewClient(userAgent, referer string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &HeaderTransport{
			UserAgent: userAgent,
			Referer:   referer,
			Base:      http.DefaultTransport,
		},
	}
}
