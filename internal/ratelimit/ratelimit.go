// Package ratelimit implements a per-source token bucket using the
// blocking `rate.Limiter.Wait(ctx)` pattern: in-memory only, so it
// never drops a request waiting for a token.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a per-source token bucket. Acquire blocks (FIFO, via
// golang.org/x/time/rate's internal reservation queueing) until a
// token is available or the context is cancelled.
type Limiter struct {
	inner *rate.Limiter
}

// New builds a limiter refilling at ratePerSec tokens per second with
// the given burst capacity.
func New(ratePerSec float64, burst int) *Limiter {
	return &Limiter{inner: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Acquire blocks until a token is available. It never returns an
// error except on context cancellation, matching "never drops
// requests; never returns an error" in steady-state operation.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.inner.Wait(ctx)
}

// Registry hands out one Limiter per source, lazily, as an explicit,
// injectable collaborator rather than a package-level singleton.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Get returns the limiter for source, constructing it with
// (ratePerSec, burst) the first time it is requested.
func (r *Registry) Get(source string, ratePerSec float64, burst int) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[source]; ok {
		return l
	}
	l := New(ratePerSec, burst)
	r.limiters[source] = l
	return l
}
