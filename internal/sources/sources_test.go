package sources

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-kg/knowledge-core/internal/breaker"
	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/ratelimit"
	"github.com/agentic-kg/knowledge-core/internal/respcache"
)

func newTestContext() *Context {
	return &Context{
		Name:       "test",
		Cache:      respcache.New(map[respcache.Namespace]time.Duration{respcache.NamespacePaper: time.Minute}),
		Limiter:    ratelimit.New(1000, 10),
		Breaker:    breaker.New("test", 3, time.Minute, time.Second),
		MaxRetries: 2,
		RetryBase:  time.Millisecond,
	}
}

func TestCall_ReturnsCachedValueWithoutInvokingDo(t *testing.T) {
	sc := newTestContext()
	sc.Cache.Set("key1", []byte("cached"), respcache.NamespacePaper)

	called := false
	got, err := sc.Call(context.Background(), "key1", respcache.NamespacePaper, func(ctx context.Context) ([]byte, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), got)
	assert.False(t, called)
}

func TestCall_SuccessPopulatesCacheAndRecordsBreakerSuccess(t *testing.T) {
	sc := newTestContext()
	got, err := sc.Call(context.Background(), "key1", respcache.NamespacePaper, func(ctx context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)

	cached, ok := sc.Cache.Get("key1", respcache.NamespacePaper)
	require.True(t, ok)
	assert.Equal(t, []byte("fresh"), cached)
	assert.Equal(t, breaker.Closed, sc.Breaker.CurrentState())
}

func TestCall_EmptyCacheKeySkipsCaching(t *testing.T) {
	sc := newTestContext()
	_, err := sc.Call(context.Background(), "", respcache.NamespacePaper, func(ctx context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	require.NoError(t, err)
	_, ok := sc.Cache.Get("", respcache.NamespacePaper)
	assert.False(t, ok)
}

func TestCall_NotFoundErrorDoesNotRecordBreakerFailure(t *testing.T) {
	sc := newTestContext()
	_, err := sc.Call(context.Background(), "", respcache.NamespacePaper, func(ctx context.Context) ([]byte, error) {
		return nil, agkerrors.NotFound("no such paper")
	})
	require.Error(t, err)
	assert.True(t, agkerrors.Is(err, agkerrors.KindNotFound))
	assert.Equal(t, breaker.Closed, sc.Breaker.CurrentState())
}

func TestCall_NonRetryableFailureRecordsBreakerFailure(t *testing.T) {
	sc := newTestContext()
	sc.Breaker = breaker.New("test", 1, time.Minute, time.Hour)

	_, err := sc.Call(context.Background(), "", respcache.NamespacePaper, func(ctx context.Context) ([]byte, error) {
		return nil, agkerrors.Validation("permanently bad request")
	})
	require.Error(t, err)
	assert.Equal(t, breaker.Open, sc.Breaker.CurrentState())
}

func TestCall_OpenBreakerFailsFastWithoutCallingDo(t *testing.T) {
	sc := newTestContext()
	sc.Breaker = breaker.New("test", 1, time.Minute, time.Hour)
	sc.Breaker.RecordFailure()
	require.Equal(t, breaker.Open, sc.Breaker.CurrentState())

	called := false
	_, err := sc.Call(context.Background(), "", respcache.NamespacePaper, func(ctx context.Context) ([]byte, error) {
		called = true
		return []byte("x"), nil
	})
	require.Error(t, err)
	assert.True(t, agkerrors.Is(err, agkerrors.KindCircuitOpen))
	assert.False(t, called)
}
