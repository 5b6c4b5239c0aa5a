package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// HTTPConfig configures the out-of-process extraction service call.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPClient calls an out-of-process extraction service over HTTP, per
// spec.md §6.2. It is deliberately thin: the service is treated as opaque,
// so this type owns only request marshalling and response decoding.
//
// Unlike the hand-rolled breaker wired into netutil/httpclient for every
// other collaborator, this client layers a second, provider-level gobreaker
// on top: when it trips, Extract falls back to the local Fallback
// extractor instead of failing the enrichment step outright, matching
// spec.md §6.2's "the extraction service MAY be substituted by a local
// fallback" allowance.
type HTTPClient struct {
	cfg      HTTPConfig
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	fallback *Fallback
}

// NewHTTPClient builds an HTTPClient. client should already be wrapped by
// netutil/httpclient.Wrap so every call carries rate limiting and circuit
// breaking.
func NewHTTPClient(cfg HTTPConfig, client *http.Client) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "extractor",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	})
	return &HTTPClient{cfg: cfg, client: client, breaker: breaker, fallback: NewFallback()}
}

type extractRequestBody struct {
	Text        string    `json:"text"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	Lang        string    `json:"lang"`
}

func (c *HTTPClient) Extract(ctx context.Context, req Request) (Extraction, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callRemote(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return c.fallback.Extract(ctx, req)
		}
		return Extraction{}, err
	}
	return out.(Extraction), nil
}

func (c *HTTPClient) callRemote(ctx context.Context, req Request) (Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(extractRequestBody{
		Text:        req.Text,
		Title:       req.Title,
		PublishedAt: req.PublishedAt,
		Lang:        req.Lang,
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("extractor: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return Extraction{}, fmt.Errorf("extractor: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Extraction{}, fmt.Errorf("extractor: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Extraction{}, fmt.Errorf("extractor: unexpected status %d", resp.StatusCode)
	}

	var out Extraction
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Extraction{}, fmt.Errorf("extractor: decode response: %w", err)
	}
	return out, nil
}
