// Package sources defines the shared request skeleton every
// bibliographic source client follows: cache check, breaker check,
// limiter acquire, retry-wrapped HTTP call, breaker record.
package sources

import (
	"context"
	"time"

	"github.com/agentic-kg/knowledge-core/internal/breaker"
	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/ratelimit"
	"github.com/agentic-kg/knowledge-core/internal/respcache"
	"github.com/agentic-kg/knowledge-core/internal/retry"
)

// Context bundles the three per-source collaborators a client needs:
// cache, limiter, and breaker, constructed independently to avoid a
// cyclic dependency between them.
type Context struct {
	Name        string
	Cache       *respcache.Cache
	Limiter     *ratelimit.Limiter
	Breaker     *breaker.Breaker
	MaxRetries  int
	RetryBase   time.Duration
}

// Call runs the shared pipeline around a single source request: cache
// lookup, breaker check, limiter acquire, retrying HTTP+parse, and
// breaker bookkeeping. cacheKey is empty when the caller does not want
// caching (e.g. bulk endpoints caching sub-results themselves).
func (sc *Context) Call(ctx context.Context, cacheKey string, ns respcache.Namespace, do func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if cacheKey != "" {
		if cached, ok := sc.Cache.Get(cacheKey, ns); ok {
			return cached, nil
		}
	}

	if err := sc.Breaker.Check(); err != nil {
		return nil, err
	}

	if err := sc.Limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	var result []byte
	err := retry.Do(ctx, func() error {
		r, callErr := do(ctx)
		if callErr != nil {
			return callErr
		}
		result = r
		return nil
	}, sc.MaxRetries, sc.RetryBase)

	if err != nil {
		if agkerrors.Is(err, agkerrors.KindNotFound) {
			// HTTP 404 is not recorded as a breaker failure.
			return nil, err
		}
		sc.Breaker.RecordFailure()
		return nil, err
	}

	sc.Breaker.RecordSuccess()
	if cacheKey != "" {
		sc.Cache.Set(cacheKey, result, ns)
	}
	return result, nil
}
