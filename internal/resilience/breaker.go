// Package resilience guards calls to backends that can degrade, such as
// the LLM proxy used by LLM scoring reviewers.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the backend while the breaker
// is open or a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Breaker opens after a run of consecutive backend failures and rejects
// calls for a cool-down period. After the cool-down a single probe is let
// through; its outcome closes or reopens the breaker.
//
// A call whose own context ended (a reviewer timeout or a cancelled task)
// is not held against the backend.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker. threshold below 1 is treated as 1.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now, state: Closed}
}

// Do runs fn unless the breaker rejects the call.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	callErr := fn(ctx)
	b.record(probe, callErr, ctx.Err() != nil)
	return callErr
}

// State reports the current position, moving an expired open breaker to
// half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire()
	return b.state
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expire()
	switch b.state {
	case Open:
		return false, ErrCircuitOpen
	case HalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error, callerGone bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	switch {
	case err == nil:
		b.failures = 0
		b.state = Closed
	case callerGone:
		// Outcome says nothing about the backend. A probe gets retried.
	default:
		b.failures++
		if probe || b.failures >= b.threshold {
			b.state = Open
			b.openedAt = b.now()
		}
	}
}

// expire must be called with b.mu held.
func (b *Breaker) expire() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = HalfOpen
	}
}
