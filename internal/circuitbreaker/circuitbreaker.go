// Package circuitbreaker guards initiation round-trips against a
// provider that keeps failing. Verification callbacks bypass it: a
// delivered callback is the only settlement chance an order gets, so it
// must always be attempted. Nothing here retries anything.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/yourorg/paygate/internal/gateway"
)

// State is the breaker state for one gateway kind.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// Config tunes the breaker; zero values take the defaults.
type Config struct {
	FailureThreshold  int           // consecutive failures before opening
	OpenTimeout       time.Duration // how long Open lasts before probing
	HalfOpenSuccesses int           // successes in HalfOpen before closing
}

const (
	defaultFailureThreshold  = 5
	defaultOpenTimeout       = 30 * time.Second
	defaultHalfOpenSuccesses = 2
)

type kindState struct {
	state     State
	failures  int
	successes int
	openUntil time.Time
}

// Breaker tracks provider health per gateway kind.
type Breaker struct {
	mu    sync.Mutex
	kinds map[gateway.Kind]*kindState
	cfg   Config
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = defaultHalfOpenSuccesses
	}
	return &Breaker{kinds: make(map[gateway.Kind]*kindState), cfg: cfg}
}

func (b *Breaker) stateOf(kind gateway.Kind) *kindState {
	ks, ok := b.kinds[kind]
	if !ok {
		ks = &kindState{state: Closed}
		b.kinds[kind] = ks
	}
	return ks
}

// Allow reports whether an initiation against the kind may start. An
// expired Open circuit transitions to HalfOpen and lets the request
// through as a probe.
func (b *Breaker) Allow(kind gateway.Kind) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ks := b.stateOf(kind)
	switch ks.state {
	case Open:
		if time.Now().After(ks.openUntil) {
			ks.state = HalfOpen
			ks.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordFailure counts a failed provider round-trip.
func (b *Breaker) RecordFailure(kind gateway.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ks := b.stateOf(kind)
	switch ks.state {
	case Closed:
		ks.failures++
		if ks.failures >= b.cfg.FailureThreshold {
			ks.state = Open
			ks.openUntil = time.Now().Add(b.cfg.OpenTimeout)
		}
	case HalfOpen:
		// Probe failed; re-open immediately.
		ks.state = Open
		ks.openUntil = time.Now().Add(b.cfg.OpenTimeout)
		ks.failures = 0
		ks.successes = 0
	}
}

// RecordSuccess counts a successful provider round-trip.
func (b *Breaker) RecordSuccess(kind gateway.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ks := b.stateOf(kind)
	switch ks.state {
	case Closed:
		ks.failures = 0
	case HalfOpen:
		ks.successes++
		if ks.successes >= b.cfg.HalfOpenSuccesses {
			ks.state = Closed
			ks.failures = 0
			ks.successes = 0
		}
	}
}

// StateOf exposes the current state for monitoring and tests.
func (b *Breaker) StateOf(kind gateway.Kind) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks, ok := b.kinds[kind]
	if !ok {
		return Closed
	}
	return ks.state
}
