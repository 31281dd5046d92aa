// Package batchqueue implements a SQLite-backed resumable job queue,
// using sqlx and logrus with a PRAGMA WAL/foreign_keys schema-script
// pattern.
package batchqueue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	batch_id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES batches(batch_id),
	source_kind TEXT NOT NULL,
	source TEXT NOT NULL,
	paper_title TEXT,
	status TEXT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	problems_extracted INTEGER NOT NULL DEFAULT 0,
	processing_time_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_batch_id ON jobs(batch_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

// Queue is the persistent job queue backing the batch processor.
type Queue struct {
	db  *sqlx.DB
	log *logrus.Entry
}

// Open opens (creating if necessary) the queue database at path.
func Open(path string, log *logrus.Logger) (*Queue, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create queue db directory: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	db.MustExec("PRAGMA foreign_keys = ON")
	db.MustExec("PRAGMA journal_mode = WAL")
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init queue schema: %w", err)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Queue{db: db, log: log.WithField("component", "batchqueue")}, nil
}

// Close releases the underlying database handle.
func (q *Queue) Close() error { return q.db.Close() }

// CreateBatch inserts a new batch row.
func (q *Queue) CreateBatch(ctx context.Context, batchID string) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO batches(batch_id, created_at) VALUES (?, ?)`, batchID, time.Now().UTC())
	if err != nil {
		return agkerrors.Transient(err, "create batch")
	}
	return nil
}

// CompleteBatch stamps a batch's completed_at.
func (q *Queue) CompleteBatch(ctx context.Context, batchID string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE batches SET completed_at = ? WHERE batch_id = ?`, time.Now().UTC(), batchID)
	if err != nil {
		return agkerrors.Transient(err, "complete batch")
	}
	return nil
}

// AddJob inserts a new job row.
func (q *Queue) AddJob(ctx context.Context, job models.BatchJob) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs(job_id, batch_id, source_kind, source, paper_title, status, attempt_count,
			error_message, created_at, started_at, completed_at, problems_extracted, processing_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.JobID, job.BatchID, job.SourceKind, job.Source, job.PaperTitle, job.Status, job.AttemptCount,
		job.ErrorMessage, job.CreatedAt, job.StartedAt, job.CompletedAt, job.ProblemsExtracted, job.ProcessingTimeMs)
	if err != nil {
		return agkerrors.Transient(err, "add job")
	}
	return nil
}

// UpdateJob writes every mutable field of job.
func (q *Queue) UpdateJob(ctx context.Context, job models.BatchJob) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempt_count = ?, error_message = ?,
			started_at = ?, completed_at = ?, problems_extracted = ?, processing_time_ms = ?
		WHERE job_id = ?
	`, job.Status, job.AttemptCount, job.ErrorMessage, job.StartedAt, job.CompletedAt,
		job.ProblemsExtracted, job.ProcessingTimeMs, job.JobID)
	if err != nil {
		return agkerrors.Transient(err, "update job")
	}
	return nil
}

// GetPendingJobs returns up to limit pending jobs for batchID,
// ordered by created_at.
func (q *Queue) GetPendingJobs(ctx context.Context, batchID string, limit int) ([]models.BatchJob, error) {
	return q.queryJobs(ctx, `
		SELECT job_id, batch_id, source_kind, source, paper_title, status, attempt_count,
			error_message, created_at, started_at, completed_at, problems_extracted, processing_time_ms
		FROM jobs WHERE batch_id = ? AND status = ? ORDER BY created_at ASC LIMIT ?
	`, batchID, models.JobPending, limit)
}

// GetAllJobs returns every job row for batchID.
func (q *Queue) GetAllJobs(ctx context.Context, batchID string) ([]models.BatchJob, error) {
	return q.queryJobs(ctx, `
		SELECT job_id, batch_id, source_kind, source, paper_title, status, attempt_count,
			error_message, created_at, started_at, completed_at, problems_extracted, processing_time_ms
		FROM jobs WHERE batch_id = ? ORDER BY created_at ASC
	`, batchID)
}

// ResetOrphanedInProgress flips every in_progress row of batchID back
// to pending, for resume_batch's crash-recovery step.
func (q *Queue) ResetOrphanedInProgress(ctx context.Context, batchID string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE batch_id = ? AND status = ?`,
		models.JobPending, batchID, models.JobInProgress)
	if err != nil {
		return agkerrors.Transient(err, "reset orphaned jobs")
	}
	return nil
}

func (q *Queue) queryJobs(ctx context.Context, query string, args ...any) ([]models.BatchJob, error) {
	type row struct {
		JobID             string     `db:"job_id"`
		BatchID           string     `db:"batch_id"`
		SourceKind        string     `db:"source_kind"`
		Source            string     `db:"source"`
		PaperTitle        string     `db:"paper_title"`
		Status            string     `db:"status"`
		AttemptCount      int        `db:"attempt_count"`
		ErrorMessage      string     `db:"error_message"`
		CreatedAt         time.Time  `db:"created_at"`
		StartedAt         *time.Time `db:"started_at"`
		CompletedAt       *time.Time `db:"completed_at"`
		ProblemsExtracted int        `db:"problems_extracted"`
		ProcessingTimeMs  int64      `db:"processing_time_ms"`
	}
	var rows []row
	if err := q.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, agkerrors.Transient(err, "query jobs")
	}

	jobs := make([]models.BatchJob, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, models.BatchJob{
			JobID: r.JobID, BatchID: r.BatchID, SourceKind: models.SourceKind(r.SourceKind),
			Source: r.Source, PaperTitle: r.PaperTitle, Status: models.JobStatus(r.Status),
			AttemptCount: r.AttemptCount, ErrorMessage: r.ErrorMessage, CreatedAt: r.CreatedAt,
			StartedAt: r.StartedAt, CompletedAt: r.CompletedAt,
			ProblemsExtracted: r.ProblemsExtracted, ProcessingTimeMs: r.ProcessingTimeMs,
		})
	}
	return jobs, nil
}

// GetProgress returns the aggregate per-status counts, sum of
// problems, and sum of processing time for batchID in a single query.
func (q *Queue) GetProgress(ctx context.Context, batchID string) (models.BatchProgress, error) {
	type row struct {
		Status            string `db:"status"`
		Count             int    `db:"count"`
		ProblemsSum       int    `db:"problems_sum"`
		ProcessingMsSum   int64  `db:"processing_ms_sum"`
	}
	var rows []row
	err := q.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) as count, COALESCE(SUM(problems_extracted),0) as problems_sum,
			COALESCE(SUM(processing_time_ms),0) as processing_ms_sum
		FROM jobs WHERE batch_id = ? GROUP BY status
	`, batchID)
	if err != nil {
		return models.BatchProgress{}, agkerrors.Transient(err, "get progress")
	}

	progress := models.BatchProgress{BatchID: batchID}
	for _, r := range rows {
		progress.Total += r.Count
		progress.ProblemsSum += r.ProblemsSum
		progress.ProcessingMs += r.ProcessingMsSum
		switch models.JobStatus(r.Status) {
		case models.JobPending:
			progress.Pending = r.Count
		case models.JobInProgress:
			progress.InProgress = r.Count
		case models.JobCompleted:
			progress.Completed = r.Count
		case models.JobFailed:
			progress.Failed = r.Count
		case models.JobSkipped:
			progress.Skipped = r.Count
		}
	}
	return progress, nil
}
