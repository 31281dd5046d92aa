package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("arxiv", 3, time.Minute, time.Second)
	for i := 0; i < 2; i++ {
		require.NoError(t, b.Check())
		b.RecordFailure()
	}
	assert.Equal(t, Closed, b.CurrentState())

	require.NoError(t, b.Check())
	b.RecordFailure()
	assert.Equal(t, Open, b.CurrentState())
}

func TestBreaker_FailsFastWhileOpen(t *testing.T) {
	b := New("arxiv", 1, time.Minute, time.Hour)
	require.NoError(t, b.Check())
	b.RecordFailure()

	err := b.Check()
	require.Error(t, err)
	assert.True(t, agkerrors.Is(err, agkerrors.KindCircuitOpen))
}

func TestBreaker_TransitionsToHalfOpenAfterCooldown(t *testing.T) {
	b := New("arxiv", 1, time.Minute, 10*time.Millisecond)
	require.NoError(t, b.Check())
	b.RecordFailure()
	assert.Equal(t, Open, b.CurrentState())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Check())
	assert.Equal(t, HalfOpen, b.CurrentState())
}

func TestBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b := New("arxiv", 1, time.Minute, 10*time.Millisecond)
	require.NoError(t, b.Check())
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Check())

	b.RecordFailure()
	assert.Equal(t, Open, b.CurrentState())
}

func TestBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b := New("arxiv", 1, time.Minute, 10*time.Millisecond)
	require.NoError(t, b.Check())
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Check())

	b.RecordSuccess()
	assert.Equal(t, Closed, b.CurrentState())
}

func TestBreaker_FailuresOutsideWindowDoNotAccumulate(t *testing.T) {
	b := New("arxiv", 2, 10*time.Millisecond, time.Second)
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.RecordFailure()
	assert.Equal(t, Closed, b.CurrentState())
}

func TestRegistry_ReturnsSameBreakerForSameSource(t *testing.T) {
	r := NewRegistry()
	a := r.Get("arxiv", 3, time.Minute, time.Second)
	b := r.Get("arxiv", 99, time.Hour, time.Hour)
	assert.Same(t, a, b)
}
