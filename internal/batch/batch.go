// Package batch implements the bounded-parallel batch processor that
// runs a set of papers through the pipeline, using an errgroup-plus-
// channel worker pool.
package batch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentic-kg/knowledge-core/internal/batchqueue"
	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/logging"
	"github.com/agentic-kg/knowledge-core/internal/models"
	"github.com/agentic-kg/knowledge-core/internal/pipeline"
)

// PaperInput is one unit of work submitted to ProcessBatch.
type PaperInput struct {
	SourceKind models.SourceKind
	Source     string
	PaperTitle string
}

// JobResult captures one job's terminal outcome.
type JobResult struct {
	Job    models.BatchJob
	Result *pipeline.Result
}

// BatchResult aggregates a whole batch run.
type BatchResult struct {
	BatchID    string
	Results    []JobResult
	Completed  int
	Failed     int
	Skipped    int
}

// Config tunes the processor's concurrency and retry policy.
type Config struct {
	MaxConcurrent int
	MaxAttempts   int
	RetryDelay    time.Duration
}

// DefaultConfig returns sane concurrency and retry defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 5, MaxAttempts: 3, RetryDelay: 2 * time.Second}
}

// Fetcher resolves one PaperInput down to a pipeline run, typically
// wrapping acquisition.Layer.GetMetadata/GetPDF plus
// pipeline.Orchestrator.ProcessPDFURL.
type Fetcher func(ctx context.Context, input PaperInput) (*pipeline.Result, error)

// Processor runs a resumable, bounded-concurrency batch of papers
// through a Fetcher, persisting job state to a Queue as it goes.
type Processor struct {
	Queue      *batchqueue.Queue
	Fetch      Fetcher
	Config     Config
	OnProgress func(models.BatchProgress)
	log        *logging.Logger
}

// New builds a Processor.
func New(queue *batchqueue.Queue, fetch Fetcher, cfg Config) *Processor {
	return &Processor{Queue: queue, Fetch: fetch, Config: cfg, log: logging.For("batch")}
}

// ProcessBatch creates batchID (generating one if empty is not
// supported — callers must supply a stable id) and jobs for every
// input, then runs them to completion with bounded concurrency.
func (p *Processor) ProcessBatch(ctx context.Context, batchID string, inputs []PaperInput) (*BatchResult, error) {
	if err := p.Queue.CreateBatch(ctx, batchID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i, in := range inputs {
		job := models.BatchJob{
			JobID:      fmt.Sprintf("%s-job-%d", batchID, i),
			BatchID:    batchID,
			SourceKind: in.SourceKind,
			Source:     in.Source,
			PaperTitle: in.PaperTitle,
			Status:     models.JobPending,
			CreatedAt:  now,
		}
		if err := p.Queue.AddJob(ctx, job); err != nil {
			return nil, err
		}
	}

	return p.drain(ctx, batchID, inputByJobIndex(inputs, batchID))
}

// ResumeBatch flips any orphaned in_progress jobs (left behind by a
// crashed prior run) back to pending, then drains the batch's
// remaining pending jobs.
func (p *Processor) ResumeBatch(ctx context.Context, batchID string, inputs []PaperInput) (*BatchResult, error) {
	if err := p.Queue.ResetOrphanedInProgress(ctx, batchID); err != nil {
		return nil, err
	}
	return p.drain(ctx, batchID, inputByJobIndex(inputs, batchID))
}

func inputByJobIndex(inputs []PaperInput, batchID string) map[string]PaperInput {
	byID := make(map[string]PaperInput, len(inputs))
	for i, in := range inputs {
		byID[fmt.Sprintf("%s-job-%d", batchID, i)] = in
	}
	return byID
}

// drain repeatedly pulls pending jobs up to MaxConcurrent at a time
// and runs them through a worker pool until no pending jobs remain.
func (p *Processor) drain(ctx context.Context, batchID string, inputs map[string]PaperInput) (*BatchResult, error) {
	result := &BatchResult{BatchID: batchID}

	for {
		pending, err := p.Queue.GetPendingJobs(ctx, batchID, p.Config.MaxConcurrent)
		if err != nil {
			return nil, err
		}
		if len(pending) == 0 {
			break
		}

		outcomes, err := p.runWorkerPool(ctx, pending, inputs)
		if err != nil {
			return nil, err
		}
		result.Results = append(result.Results, outcomes...)

		if p.OnProgress != nil {
			progress, err := p.Queue.GetProgress(ctx, batchID)
			if err != nil {
				return nil, err
			}
			p.OnProgress(progress)
		}
	}

	for _, r := range result.Results {
		switch r.Job.Status {
		case models.JobCompleted:
			result.Completed++
		case models.JobFailed:
			result.Failed++
		case models.JobSkipped:
			result.Skipped++
		}
	}

	if err := p.Queue.CompleteBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return result, nil
}

// runWorkerPool processes jobs concurrently, each job owned
// exclusively by the worker that claims it: the row is marked
// in_progress before the fetch runs and completed/failed/retried
// afterward.
func (p *Processor) runWorkerPool(ctx context.Context, jobs []models.BatchJob, inputs map[string]PaperInput) ([]JobResult, error) {
	resultChan := make(chan JobResult, len(jobs))
	jobChan := make(chan models.BatchJob, len(jobs))
	for _, j := range jobs {
		jobChan <- j
	}
	close(jobChan)

	g, ctx := errgroup.WithContext(ctx)
	workerCount := p.Config.MaxConcurrent
	if workerCount > len(jobs) {
		workerCount = len(jobs)
	}
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			for job := range jobChan {
				resultChan <- p.runOne(ctx, job, inputs[job.JobID])
			}
			return nil
		})
	}

	go func() {
		g.Wait()
		close(resultChan)
	}()

	var outcomes []JobResult
	for r := range resultChan {
		outcomes = append(outcomes, r)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (p *Processor) runOne(ctx context.Context, job models.BatchJob, input PaperInput) JobResult {
	now := time.Now().UTC()
	job.Status = models.JobInProgress
	job.StartedAt = &now
	job.AttemptCount++
	if err := p.Queue.UpdateJob(ctx, job); err != nil {
		p.log.Error("failed to mark job in_progress", "job_id", job.JobID, "error", err)
	}

	start := time.Now()
	res, err := p.Fetch(ctx, input)
	duration := time.Since(start).Milliseconds()
	completed := time.Now().UTC()
	job.CompletedAt = &completed
	job.ProcessingTimeMs = duration

	if err != nil {
		if job.AttemptCount < p.Config.MaxAttempts && isRetryable(err) {
			waitForRetryDelay(ctx, p.Config.RetryDelay)
			job.Status = models.JobPending
			job.ErrorMessage = err.Error()
			_ = p.Queue.UpdateJob(ctx, job)
			return JobResult{Job: job}
		}
		job.Status = models.JobFailed
		job.ErrorMessage = err.Error()
		_ = p.Queue.UpdateJob(ctx, job)
		return JobResult{Job: job}
	}

	if res != nil && res.Success {
		job.Status = models.JobCompleted
	} else {
		job.Status = models.JobSkipped
	}
	job.ProblemsExtracted = countProblems(res)
	_ = p.Queue.UpdateJob(ctx, job)
	return JobResult{Job: job, Result: res}
}

func countProblems(res *pipeline.Result) int {
	if res == nil {
		return 0
	}
	return len(res.Problems)
}

func waitForRetryDelay(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func isRetryable(err error) bool {
	return agkerrors.Is(err, agkerrors.KindTransient) ||
		agkerrors.Is(err, agkerrors.KindAPIError) ||
		agkerrors.Is(err, agkerrors.KindRateLimited) ||
		agkerrors.Is(err, agkerrors.KindCircuitOpen)
}
