// Package circuit implements a per-provider circuit breaker guarding every
// outbound call the pipeline makes to an external collaborator (extractor,
// securities master, price API, graph store, HTML sources).
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen    = errors.New("circuit breaker is open")
	ErrRequestTimeout = errors.New("request timeout")
)

// State is the lifecycle stage of a Breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a Breaker's trip and recovery behaviour.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	RequestTimeout   time.Duration
}

// Breaker is a single provider's circuit breaker, called through
// httpclient.Wrap so every collaborator's HTTP client shares the same
// trip/recover state machine.
type Breaker struct {
	mu              sync.Mutex
	config          Config
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
}

// NewBreaker creates a Breaker in the closed state.
func NewBreaker(config Config) *Breaker {
	return &Breaker{config: config, state: StateClosed}
}

// Call executes fn if the circuit allows it, enforcing the per-call timeout.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, b.config.RequestTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(timeoutCtx) }()

	select {
	case err := <-done:
		if err != nil {
			b.onFailure()
			return err
		}
		b.onSuccess()
		return nil
	case <-timeoutCtx.Done():
		b.onTimeout()
		return ErrRequestTimeout
	}
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailureTime) > b.config.Timeout {
			b.setState(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.setState(StateClosed)
			b.failures, b.successes = 0, 0
		}
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailureTime = time.Now()
	b.trip()
}

func (b *Breaker) onTimeout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailureTime = time.Now()
	b.trip()
}

// trip is the shared failure/timeout transition: both count toward
// FailureThreshold and both re-open a half-open breaker. Caller holds mu.
func (b *Breaker) trip() {
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
		b.successes = 0
	}
}

// setState transitions the breaker. Caller holds mu.
func (b *Breaker) setState(state State) {
	if b.state != state {
		b.state = state
		if state == StateHalfOpen {
			b.failures = 0
		}
	}
}

