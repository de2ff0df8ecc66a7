// Package httpclient builds the outbound clients used for reputation and
// breach lookups.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Config for a lookup client. Requests are sent once; there is no retry.
type Config struct {
	Timeout time.Duration
	Headers http.Header
}

// headerRoundTripper injects fixed headers.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers http.Header
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, vs := range h.headers {
		r.Header.Del(k)
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	return h.base.RoundTrip(r)
}

// New returns a client that never follows redirects; lookup APIs answer
// directly and a redirect means the endpoint is misconfigured.
func New(cfg Config) *http.Client {
	transport := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Transport: &headerRoundTripper{
			base:    transport,
			headers: cfg.Headers,
		},
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
