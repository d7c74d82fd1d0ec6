package domain

import "time"

type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusCancelled BatchStatus = "cancelled"
	BatchStatusFailed    BatchStatus = "failed"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Batch represents a persisted list of download jobs run together.
type Batch struct {
	ID           int64
	Status       BatchStatus
	Owner        string
	Context      map[string]string
	JobCount     int
	Succeeded    int
	Failed       int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Jobs         []BatchJob
}

// BatchJob is a DownloadJob tracked inside a Batch.
type BatchJob struct {
	ID          int64
	BatchID     int64
	Seq         int
	URL         string
	Path        string
	CreateAsset bool
	Status      JobStatus
	Results     []ExecutionResult
	FinishedAt  *time.Time
}

func (j BatchJob) DownloadJob() DownloadJob {
	return NewDownloadJob(j.Path, j.URL, j.CreateAsset)
}

// Done reports whether the job already ran to an outcome.
func (j BatchJob) Done() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}
