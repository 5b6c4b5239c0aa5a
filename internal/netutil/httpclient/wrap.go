// Package httpclient composes rate limiting and circuit breaking around a
// plain http.Client, the single chokepoint the HTML source adapter and every
// external collaborator client route their requests through. The
// message-channel adapter dials its websocket directly and does not use it.
package httpclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ceglabs/ceg/internal/netutil/circuit"
	"github.com/ceglabs/ceg/internal/netutil/ratelimit"
)

// ProviderError carries the provider name and failure class alongside the
// underlying error, so callers can map it onto spec.md §7's disposition table.
type ProviderError struct {
	Provider string
	Type     string // rate_limit | circuit | transport | http_status
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Type, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Config configures a wrapped client for one named provider.
type Config struct {
	Provider       string
	UserAgent      string
	RateLimiter    *ratelimit.Limiter
	CircuitBreaker *circuit.Breaker
	Host           string // rate-limit bucket key; defaults to the request host
}

// Wrapper is an http.RoundTripper middleware stack: rate limit -> circuit
// breaker -> underlying transport.
type Wrapper struct {
	cfg       Config
	transport http.RoundTripper
}

// Wrap builds a *http.Client whose RoundTripper applies cfg's middleware.
func Wrap(cfg Config, transport http.RoundTripper) *http.Client {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &http.Client{Transport: &Wrapper{cfg: cfg, transport: transport}}
}

// RoundTrip implements http.RoundTripper.
func (w *Wrapper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && w.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", w.cfg.UserAgent)
	}

	if w.cfg.RateLimiter != nil {
		host := w.cfg.Host
		if host == "" {
			host = req.URL.Host
		}
		if err := w.cfg.RateLimiter.Wait(req.Context(), host); err != nil {
			return nil, &ProviderError{Provider: w.cfg.Provider, Type: "rate_limit", Err: err}
		}
	}

	var resp *http.Response
	roundTrip := func(ctx context.Context) error {
		var err error
		resp, err = w.transport.RoundTrip(req.WithContext(ctx))
		if err != nil {
			return &ProviderError{Provider: w.cfg.Provider, Type: "transport", Err: err}
		}
		if resp.StatusCode >= 500 {
			return &ProviderError{Provider: w.cfg.Provider, Type: "http_status", Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		return nil
	}

	if w.cfg.CircuitBreaker != nil {
		if err := w.cfg.CircuitBreaker.Call(req.Context(), roundTrip); err != nil {
			if _, ok := err.(*ProviderError); ok {
				return nil, err
			}
			return nil, &ProviderError{Provider: w.cfg.Provider, Type: "circuit", Err: err}
		}
		return resp, nil
	}

	if err := roundTrip(req.Context()); err != nil {
		return nil, err
	}
	return resp, nil
}
