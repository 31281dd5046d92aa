package batchqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-kg/knowledge-core/internal/models"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestCreateBatchAndAddJob(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.CreateBatch(ctx, "batch-1"))
	job := models.BatchJob{
		JobID: "job-1", BatchID: "batch-1", SourceKind: models.SourceKindDOI, Source: "10.1/x",
		Status: models.JobPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, q.AddJob(ctx, job))

	jobs, err := q.GetAllJobs(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].JobID)
	assert.Equal(t, models.JobPending, jobs[0].Status)
}

func TestGetPendingJobs_OnlyReturnsPending(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.CreateBatch(ctx, "batch-1"))

	require.NoError(t, q.AddJob(ctx, models.BatchJob{JobID: "p1", BatchID: "batch-1", SourceKind: models.SourceKindDOI, Source: "a", Status: models.JobPending, CreatedAt: time.Now().UTC()}))
	require.NoError(t, q.AddJob(ctx, models.BatchJob{JobID: "c1", BatchID: "batch-1", SourceKind: models.SourceKindDOI, Source: "b", Status: models.JobCompleted, CreatedAt: time.Now().UTC()}))

	pending, err := q.GetPendingJobs(ctx, "batch-1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "p1", pending[0].JobID)
}

func TestUpdateJob_PersistsMutableFields(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.CreateBatch(ctx, "batch-1"))
	job := models.BatchJob{JobID: "j1", BatchID: "batch-1", SourceKind: models.SourceKindDOI, Source: "a", Status: models.JobPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, q.AddJob(ctx, job))

	job.Status = models.JobCompleted
	job.AttemptCount = 1
	job.ProblemsExtracted = 3
	require.NoError(t, q.UpdateJob(ctx, job))

	jobs, err := q.GetAllJobs(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobCompleted, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].AttemptCount)
	assert.Equal(t, 3, jobs[0].ProblemsExtracted)
}

func TestResetOrphanedInProgress(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.CreateBatch(ctx, "batch-1"))
	job := models.BatchJob{JobID: "j1", BatchID: "batch-1", SourceKind: models.SourceKindDOI, Source: "a", Status: models.JobInProgress, CreatedAt: time.Now().UTC()}
	require.NoError(t, q.AddJob(ctx, job))

	require.NoError(t, q.ResetOrphanedInProgress(ctx, "batch-1"))

	jobs, err := q.GetAllJobs(ctx, "batch-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobPending, jobs[0].Status)
}

func TestGetProgress_AggregatesByStatus(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.CreateBatch(ctx, "batch-1"))

	statuses := []models.JobStatus{models.JobCompleted, models.JobCompleted, models.JobFailed, models.JobPending}
	for i, s := range statuses {
		require.NoError(t, q.AddJob(ctx, models.BatchJob{
			JobID: string(rune('a' + i)), BatchID: "batch-1", SourceKind: models.SourceKindDOI,
			Source: "x", Status: s, CreatedAt: time.Now().UTC(), ProblemsExtracted: 2,
		}))
	}

	progress, err := q.GetProgress(ctx, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 4, progress.Total)
	assert.Equal(t, 2, progress.Completed)
	assert.Equal(t, 1, progress.Failed)
	assert.Equal(t, 1, progress.Pending)
	assert.Equal(t, 8, progress.ProblemsSum)
}
