package batch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-kg/knowledge-core/internal/batchqueue"
	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/models"
	"github.com/agentic-kg/knowledge-core/internal/pipeline"
)

func openTestQueue(t *testing.T) *batchqueue.Queue {
	t.Helper()
	q, err := batchqueue.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestProcessBatch_AllSucceed(t *testing.T) {
	queue := openTestQueue(t)
	fetch := func(ctx context.Context, input PaperInput) (*pipeline.Result, error) {
		return &pipeline.Result{Success: true, Problems: []models.ExtractedProblem{{Statement: "x"}}}, nil
	}
	p := New(queue, fetch, Config{MaxConcurrent: 2, MaxAttempts: 1})

	inputs := []PaperInput{{Source: "a"}, {Source: "b"}, {Source: "c"}}
	result, err := p.ProcessBatch(context.Background(), "batch-1", inputs)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Completed)
	assert.Equal(t, 0, result.Failed)
	assert.Len(t, result.Results, 3)
}

func TestProcessBatch_FetcherFailureMarksFailedAfterMaxAttempts(t *testing.T) {
	queue := openTestQueue(t)
	fetch := func(ctx context.Context, input PaperInput) (*pipeline.Result, error) {
		return nil, agkerrors.Transient(assert.AnError, "download failed")
	}
	p := New(queue, fetch, Config{MaxConcurrent: 1, MaxAttempts: 1})

	result, err := p.ProcessBatch(context.Background(), "batch-1", []PaperInput{{Source: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Completed)
}

func TestProcessBatch_RetriesTransientErrorsUpToMaxAttempts(t *testing.T) {
	queue := openTestQueue(t)
	var calls int32
	fetch := func(ctx context.Context, input PaperInput) (*pipeline.Result, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return nil, agkerrors.Transient(assert.AnError, "flaky")
		}
		return &pipeline.Result{Success: true}, nil
	}
	p := New(queue, fetch, Config{MaxConcurrent: 1, MaxAttempts: 3, RetryDelay: 0})

	result, err := p.ProcessBatch(context.Background(), "batch-1", []PaperInput{{Source: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestProcessBatch_NonRetryableErrorFailsImmediately(t *testing.T) {
	queue := openTestQueue(t)
	var calls int32
	fetch := func(ctx context.Context, input PaperInput) (*pipeline.Result, error) {
		atomic.AddInt32(&calls, 1)
		return nil, agkerrors.Validation("bad input")
	}
	p := New(queue, fetch, Config{MaxConcurrent: 1, MaxAttempts: 5})

	result, err := p.ProcessBatch(context.Background(), "batch-1", []PaperInput{{Source: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestProcessBatch_UnsuccessfulResultMarksSkipped(t *testing.T) {
	queue := openTestQueue(t)
	fetch := func(ctx context.Context, input PaperInput) (*pipeline.Result, error) {
		return &pipeline.Result{Success: false}, nil
	}
	p := New(queue, fetch, Config{MaxConcurrent: 1, MaxAttempts: 1})

	result, err := p.ProcessBatch(context.Background(), "batch-1", []PaperInput{{Source: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
}

func TestProcessBatch_ReportsProgress(t *testing.T) {
	queue := openTestQueue(t)
	fetch := func(ctx context.Context, input PaperInput) (*pipeline.Result, error) {
		return &pipeline.Result{Success: true}, nil
	}
	p := New(queue, fetch, Config{MaxConcurrent: 1, MaxAttempts: 1})

	var lastProgress models.BatchProgress
	p.OnProgress = func(progress models.BatchProgress) { lastProgress = progress }

	_, err := p.ProcessBatch(context.Background(), "batch-1", []PaperInput{{Source: "a"}, {Source: "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, lastProgress.Total)
}

func TestResumeBatch_ResetsOrphanedInProgressJobs(t *testing.T) {
	queue := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, queue.CreateBatch(ctx, "batch-1"))
	now := time.Now().UTC()
	require.NoError(t, queue.AddJob(ctx, models.BatchJob{
		JobID: "batch-1-job-0", BatchID: "batch-1", SourceKind: models.SourceKindDOI,
		Source: "a", Status: models.JobInProgress, CreatedAt: now,
	}))

	fetch := func(ctx context.Context, input PaperInput) (*pipeline.Result, error) {
		return &pipeline.Result{Success: true}, nil
	}
	p := New(queue, fetch, Config{MaxConcurrent: 1, MaxAttempts: 1})

	result, err := p.ResumeBatch(ctx, "batch-1", []PaperInput{{Source: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
}
