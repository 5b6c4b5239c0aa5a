// Package stream is the broker abstraction of spec.md §6.6: a durable
// publish interface the Outbox Relay (C13) uses to deliver domain events.
// An EventBus interface plus a factory switching on bus type, narrowed to
// the operations the relay actually needs and backed by a real driver
// (Redis Streams, via the same redis/go-redis client the Alias Cache
// already depends on) instead of a hand-rolled in-memory broker.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Envelope is the wire format spec.md §6.6 defines for every published event.
type Envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// EventBus publishes domain events to durable topics.
type EventBus interface {
	Publish(ctx context.Context, topic string, env Envelope) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() HealthStatus
}

// HealthStatus summarises the bus's operational state.
type HealthStatus struct {
	Healthy bool
	Status  string
	Errors  []string
}

// BusType selects an EventBus implementation.
type BusType string

const (
	BusTypeRedisStreams BusType = "redis_streams"
	BusTypeStub         BusType = "stub"
)

// Common sentinel errors.
var (
	ErrUnsupportedBusType = errors.New("unsupported bus type")
	ErrBusNotStarted      = errors.New("bus not started")
)
