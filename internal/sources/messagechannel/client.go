// Package messagechannel adapts a websocket-gateway message channel (the
// typical shape of a Telegram-gateway-style feed) into the
// sources.Adapter contract.
package messagechannel

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/netutil"
)

// maxChannelRetries is spec.md §4.1's fixed retry budget for
// connection failures: below it Poll reports a retryable error, from it on
// a non-retryable one, which makes the poller mark the source unhealthy.
// The poller keeps polling on its interval either way.
const maxChannelRetries = 3

const maxBackoff = 15 * time.Minute

// rawMessage is the uniform wire shape the gateway emits per item.
type rawMessage struct {
	ExternalID  string            `json:"id"`
	Title       string            `json:"title"`
	Text        string            `json:"text"`
	Summary     string            `json:"summary"`
	PublishedAt time.Time         `json:"published_at"`
	URL         string            `json:"url"`
	MediaRefs   []string          `json:"media_refs"`
	Lang        string            `json:"lang"`
	Meta        map[string]string `json:"meta"`
}

// Client streams a single message channel over a websocket connection,
// buffering decoded items for the next Poll call. One Client instance
// serves one Source.
type Client struct {
	dialURL string

	mu         sync.Mutex
	buf        []domain.RawNews
	channelErr int // consecutive channel-not-found/permission failures
	conn       *websocket.Conn
}

func New(dialURL string) *Client {
	return &Client{dialURL: dialURL}
}

// Poll drains whatever has accumulated since the last call, lazily
// (re)connecting the stream as needed, and advances the cursor to the
// last external id seen.
func (c *Client) Poll(ctx context.Context, src domain.Source, cursor domain.ParserState) ([]domain.RawNews, domain.ParserState, bool, error) {
	if err := c.ensureConnected(ctx, src); err != nil {
		c.mu.Lock()
		c.channelErr++
		unhealthy := c.channelErr >= maxChannelRetries
		c.mu.Unlock()
		if unhealthy {
			return nil, cursor, false, fmt.Errorf("messagechannel: %s: %w", src.Code, domain.ErrResourceNotFound)
		}
		return nil, cursor, true, fmt.Errorf("messagechannel: %s: %w", src.Code, domain.ErrTransientIO)
	}

	c.mu.Lock()
	items := c.buf
	c.buf = nil
	c.channelErr = 0
	c.mu.Unlock()

	next := cursor
	if len(items) > 0 {
		next.LastExternalID = items[len(items)-1].ExternalID
		next.LastPollAt = time.Now().UTC()
	}
	return items, next, false, nil
}

// Backfill is not supported for a live message channel: the gateway has
// no historical query surface, only the forward stream. Callers should
// treat this as a capability gap, not a transient failure.
func (c *Client) Backfill(ctx context.Context, src domain.Source, horizonDays int) (<-chan domain.RawNews, error) {
	return nil, fmt.Errorf("messagechannel: %s: backfill unsupported: %w", src.Code, domain.ErrResourceNotFound)
}

func (c *Client) ensureConnected(ctx context.Context, src domain.Source) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second

	conn, _, err := dialer.DialContext(ctx, c.dialURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.dialURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(src)
	return nil
}

func (c *Client) readLoop(src domain.Source) {
	defer func() {
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("source", src.Code).Msg("messagechannel read error")
			delay := netutil.Exponential(time.Second, attempt, maxBackoff)
			time.Sleep(delay)
			attempt++
			return
		}
		attempt = 0

		var raw rawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			log.Warn().Err(err).Str("source", src.Code).Msg("messagechannel: malformed item, skipping")
			continue
		}
		c.mu.Lock()
		c.buf = append(c.buf, toRawNews(src, raw))
		c.mu.Unlock()
	}
}

func toRawNews(src domain.Source, raw rawMessage) domain.RawNews {
	externalID := raw.ExternalID
	if externalID == "" {
		sum := sha256.Sum256([]byte(raw.Title + raw.Text))
		externalID = fmt.Sprintf("%x", sum[:8])
	}

	var summary *string
	if raw.Summary != "" {
		summary = &raw.Summary
	}
	var url *string
	if raw.URL != "" {
		url = &raw.URL
	}

	return domain.RawNews{
		SourceID:    src.ID,
		ExternalID:  externalID,
		Title:       raw.Title,
		Text:        raw.Text,
		Summary:     summary,
		PublishedAt: raw.PublishedAt,
		URL:         url,
		MediaRefs:   raw.MediaRefs,
		RawMeta:     raw.Meta,
		Lang:        raw.Lang,
	}
}
