// Package secmaster wraps the Securities Master API of spec.md §6.3, the
// Linker's fuzzy-resolution collaborator.
package secmaster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Result is one hit from the securities master's search operation.
type Result struct {
	SecID      string `json:"secid"`
	ISIN       string `json:"isin"`
	ShortName  string `json:"shortname"`
	Name       string `json:"name"`
	IsTraded   bool   `json:"is_traded"`
	Market     string `json:"market"`
	Board      string `json:"board"`
}

// Client is consumed by internal/linker.
type Client interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// HTTPConfig configures the securities-master HTTP collaborator.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

type httpClient struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPClient builds a Client backed by an HTTP call through client, which
// should already be wrapped with rate limiting and circuit breaking via
// netutil/httpclient.Wrap.
func NewHTTPClient(cfg HTTPConfig, client *http.Client) Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &httpClient{cfg: cfg, client: client}
}

func (c *httpClient) Search(ctx context.Context, query string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	u := c.cfg.BaseURL + "/search?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("secmaster: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("secmaster: call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("secmaster: unexpected status %d", resp.StatusCode)
	}

	var out []Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("secmaster: decode response: %w", err)
	}
	return out, nil
}
