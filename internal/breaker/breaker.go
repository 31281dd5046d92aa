// Package breaker implements a per-source circuit breaker: a small,
// hand-rolled in-memory state machine that trips open after repeated
// failures and recovers through a half-open probe.
package breaker

import (
	"sync"
	"time"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
)

// State is one of CLOSED, OPEN, HALF_OPEN.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// Breaker is a single source's circuit breaker. State is in-memory
// and safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	source           string
	state            State
	consecutiveFails int
	failureThreshold int
	window           time.Duration
	cooldown         time.Duration
	firstFailureAt   time.Time
	openedAt         time.Time
	halfOpenProbeInFlight bool
}

// New builds a breaker for source with the given failure threshold,
// failure-counting window, and OPEN→HALF_OPEN cooldown.
func New(source string, failureThreshold int, window, cooldown time.Duration) *Breaker {
	return &Breaker{
		source:           source,
		state:            Closed,
		failureThreshold: failureThreshold,
		window:           window,
		cooldown:         cooldown,
	}
}

// Check fails fast with CircuitOpen while OPEN; permits exactly one
// probe per cooldown expiry while transitioning into HALF_OPEN.
func (b *Breaker) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if time.Since(b.openedAt) < b.cooldown {
			return agkerrors.CircuitOpen(b.source)
		}
		b.state = HalfOpen
		b.halfOpenProbeInFlight = true
		return nil
	case HalfOpen:
		if b.halfOpenProbeInFlight {
			return agkerrors.CircuitOpen(b.source)
		}
		b.halfOpenProbeInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess resets the breaker to CLOSED.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFails = 0
	b.state = Closed
	b.halfOpenProbeInFlight = false
}

// RecordFailure increments the consecutive-failure count (resetting
// it if the failure window has elapsed) and opens the breaker once
// the threshold is reached, or immediately on a HALF_OPEN probe
// failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.state = Open
		b.openedAt = time.Now()
		b.halfOpenProbeInFlight = false
		return
	}

	now := time.Now()
	if b.consecutiveFails == 0 || now.Sub(b.firstFailureAt) > b.window {
		b.firstFailureAt = now
		b.consecutiveFails = 0
	}
	b.consecutiveFails++

	if b.consecutiveFails >= b.failureThreshold {
		b.state = Open
		b.openedAt = now
	}
}

// CurrentState returns the breaker's current state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry hands out one Breaker per source as an explicit
// collaborator rather than a package-level singleton.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for source, constructing it on first use.
func (r *Registry) Get(source string, failureThreshold int, window, cooldown time.Duration) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[source]; ok {
		return b
	}
	b := New(source, failureThreshold, window, cooldown)
	r.breakers[source] = b
	return b
}
