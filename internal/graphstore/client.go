// Package graphstore wraps the graph-database server of spec.md §6.5. No
// repo in the example pack imports a graph-database driver, so this is an
// HTTP/JSON client routed through the same netutil/httpclient chokepoint as
// every other external collaborator (documented in DESIGN.md as the one
// component with no ecosystem library to ground on).
package graphstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NodeLabel enumerates the graph-store node labels of spec.md §6.5.
type NodeLabel string

const (
	NodeEvent    NodeLabel = "Event"
	NodeIssuer   NodeLabel = "Issuer"
	NodeInstrument NodeLabel = "Instrument"
	NodeMarket   NodeLabel = "Market"
	NodeSector   NodeLabel = "Sector"
	NodeCountry  NodeLabel = "Country"
	NodeNews     NodeLabel = "News"
)

// RelType enumerates the graph-store relationship types of spec.md §6.5.
type RelType string

const (
	RelMentions   RelType = "MENTIONS"
	RelLinkedTo   RelType = "LINKED_TO"
	RelInSector   RelType = "IN_SECTOR"
	RelTradedOn   RelType = "TRADED_ON"
	RelAbout      RelType = "ABOUT"
	RelCauses     RelType = "CAUSES"
	RelImpacts    RelType = "IMPACTS"
	RelPrecedes   RelType = "PRECEDES"
	RelEvidenceOf RelType = "EVIDENCE_OF"
)

// NodeUpsert is an idempotent MERGE keyed by (Label, ID).
type NodeUpsert struct {
	Label NodeLabel      `json:"label"`
	ID    string         `json:"id"`
	Props map[string]any `json:"props"`
}

// RelUpsert is an idempotent MERGE of a relationship between two nodes;
// relationship properties fully replace on match (spec.md §4.10).
type RelUpsert struct {
	Type      RelType        `json:"type"`
	FromLabel NodeLabel      `json:"from_label"`
	FromID    string         `json:"from_id"`
	ToLabel   NodeLabel      `json:"to_label"`
	ToID      string         `json:"to_id"`
	Props     map[string]any `json:"props"`
}

// Client is consumed by internal/graphwriter.
type Client interface {
	MergeNode(ctx context.Context, n NodeUpsert) error
	MergeRelationship(ctx context.Context, r RelUpsert) error
}

// HTTPConfig configures the graph-store HTTP collaborator.
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
		cfg.Timeout = 10 * time.Second
	}
	return &httpClient{cfg: cfg, client: client}
}

func (c *httpClient) MergeNode(ctx context.Context, n NodeUpsert) error {
	return c.post(ctx, "/nodes/merge", n)
}

func (c *httpClient) MergeRelationship(ctx context.Context, r RelUpsert) error {
	return c.post(ctx, "/relationships/merge", r)
}

func (c *httpClient) post(ctx context.Context, path string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("graphstore: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("graphstore: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("graphstore: call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("graphstore: %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
