// Package httpclient holds the shared tuned HTTP clients used for every
// upstream the gateway talks to (host API, storage provider, resolved CDN
// links) plus a retry helper and a per-host concurrency limiter.
package httpclient

import (
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16
)

var (
	defaultClient   *http.Client
	streamingClient *http.Client
)

func init() {
	t := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
	// CDN hosts serving resolved links negotiate h2; keep the upgrade path
	// explicit so a custom TLS config doesn't silently lose it.
	_ = http2.ConfigureTransport(t)

	defaultClient = &http.Client{Timeout: DefaultTimeout, Transport: t}
	// No client timeout for byte streams: a movie takes longer than any
	// sane Timeout value. Cancellation comes from the request context.
	streamingClient = &http.Client{Transport: t.Clone()}
}

// Default returns the shared tuned client for JSON API calls.
func Default() *http.Client {
	return defaultClient
}

// ForStreaming returns the shared client without an overall timeout, for
// proxying media byte streams. Pass a cancellable context on each request.
func ForStreaming() *http.Client {
	return streamingClient
}

// WithTimeout returns a client with the given timeout and the same transport
// tuning as Default.
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}

// NoRedirect returns a client that reports redirects to the caller instead
// of following them. The gateway inspects host 302s because the Location may
// itself point at a storage handle that must be re-resolved.
func NoRedirect(timeout time.Duration) *http.Client {
	c := WithTimeout(timeout)
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}
