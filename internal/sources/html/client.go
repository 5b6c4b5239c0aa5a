// Package html adapts a plain web page (a news-listing site with no
// API) into the sources.Adapter contract: periodic GET + regex-based
// item extraction, routed through the shared rate-limited/circuit-broken
// transport like every other collaborator client.
package html

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ceglabs/ceg/internal/domain"
)

// itemPattern extracts one listing entry per match: an anchor href plus
// its visible title text. Real deployments configure this per site via
// Source.Config; this is the conservative built-in default.
var itemPattern = regexp.MustCompile(`(?s)<a[^>]+href="([^"]+)"[^>]*>([^<]{8,200})</a>`)

// Client polls a single HTML listing page for new items.
type Client struct {
	client *http.Client
}

func New(client *http.Client) *Client {
	return &Client{client: client}
}

// Poll fetches src.BaseLocator and extracts items not yet seen, per
// cursor.LastExternalID (the href of the last item emitted).
func (c *Client) Poll(ctx context.Context, src domain.Source, cursor domain.ParserState) ([]domain.RawNews, domain.ParserState, bool, error) {
	body, err := c.get(ctx, src.BaseLocator)
	if err != nil {
		return nil, cursor, true, fmt.Errorf("html: %s: %w", src.Code, domain.ErrTransientIO)
	}

	matches := itemPattern.FindAllStringSubmatch(body, -1)
	var items []domain.RawNews
	for _, m := range matches {
		href, title := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if href == "" || title == "" {
			continue
		}
		if href == cursor.LastExternalID {
			break // reached the previously-seen frontier
		}
		items = append(items, domain.RawNews{
			SourceID:    src.ID,
			ExternalID:  href,
			Title:       title,
			Text:        title,
			PublishedAt: time.Now().UTC(),
			URL:         &href,
		})
	}

	next := cursor
	if len(items) > 0 {
		next.LastExternalID = items[0].ExternalID // most recent item, page is newest-first
		next.LastPollAt = time.Now().UTC()
	}
	return items, next, false, nil
}

// Backfill walks the listing's pagination (src.Config["backfill_path_fmt"],
// a %d page-number template) until horizonDays is exceeded or pages run out.
func (c *Client) Backfill(ctx context.Context, src domain.Source, horizonDays int) (<-chan domain.RawNews, error) {
	pathFmt, _ := src.Config["backfill_path_fmt"].(string)
	if pathFmt == "" {
		return nil, fmt.Errorf("html: %s: no backfill_path_fmt configured: %w", src.Code, domain.ErrResourceNotFound)
	}

	out := make(chan domain.RawNews)
	go func() {
		defer close(out)
		cutoff := time.Now().AddDate(0, 0, -horizonDays)
		for page := 1; page <= 365; page++ {
			select {
			case <-ctx.Done():
				return
			default:
			}

			body, err := c.get(ctx, fmt.Sprintf(pathFmt, page))
			if err != nil {
				return
			}
			matches := itemPattern.FindAllStringSubmatch(body, -1)
			if len(matches) == 0 {
				return
			}
			for _, m := range matches {
				href, title := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
				if href == "" || title == "" {
					continue
				}
				select {
				case out <- domain.RawNews{
					SourceID:    src.ID,
					ExternalID:  href,
					Title:       title,
					Text:        title,
					PublishedAt: cutoff, // page-listing pages rarely expose exact timestamps
					URL:         &href,
				}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(b), nil
}
