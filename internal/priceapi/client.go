// Package priceapi wraps the exchange price API of spec.md §6.4, consumed
// by the Event-Study Analyser.
package priceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Candle is one OHLCV observation.
type Candle struct {
	Ts     time.Time `json:"ts"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// Client is consumed by internal/eventstudy.
type Client interface {
	Candles(ctx context.Context, ticker string, from, to time.Time, interval time.Duration) ([]Candle, error)
}

// HTTPConfig configures the price-API HTTP collaborator.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

type httpClient struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPClient(cfg HTTPConfig, client *http.Client) Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &httpClient{cfg: cfg, client: client}
}

func (c *httpClient) Candles(ctx context.Context, ticker string, from, to time.Time, interval time.Duration) ([]Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("ticker", ticker)
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	q.Set("interval_seconds", strconv.Itoa(int(interval.Seconds())))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/candles?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("priceapi: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("priceapi: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("priceapi: unexpected status %d", resp.StatusCode)
	}

	var out []Candle
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("priceapi: decode response: %w", err)
	}
	return out, nil
}
