package models

import "time"

// JobStatus is the lifecycle state of a single batch job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobSkipped    JobStatus = "skipped"
)

// SourceKind tells the pipeline which process_* entry point a job
// should be routed through.
type SourceKind string

const (
	SourceKindDOI       SourceKind = "doi"
	SourceKindURL       SourceKind = "url"
	SourceKindLocalPath SourceKind = "local_path"
)

// BatchJob is one unit of work in the resumable job queue.
type BatchJob struct {
	JobID             string
	BatchID           string
	SourceKind        SourceKind
	Source            string
	PaperTitle        string
	Status            JobStatus
	AttemptCount      int
	ErrorMessage      string
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	ProblemsExtracted int
	ProcessingTimeMs  int64
}

// BatchProgress is the aggregate view returned by
// batchqueue.GetProgress.
type BatchProgress struct {
	BatchID      string
	Total        int
	Pending      int
	InProgress   int
	Completed    int
	Failed       int
	Skipped      int
	ProblemsSum  int
	ProcessingMs int64
}
