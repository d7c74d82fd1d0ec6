package repository

import (
	"context"
	"errors"
	"time"

	"batchfetch/internal/domain"
)

var ErrBatchNotFound = errors.New("batch not found")

// BatchRepository exposes persistence operations for Batch aggregates.
type BatchRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, batch *domain.Batch) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status domain.BatchStatus, errorMessage *string) error
	MarkStarted(ctx context.Context, id int64, startedAt time.Time) error
	MarkFinished(ctx context.Context, id int64, status domain.BatchStatus, succeeded, failed int, finishedAt time.Time) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*domain.Batch, error)
	List(ctx context.Context) ([]domain.Batch, error)
	ListByStatuses(ctx context.Context, statuses ...domain.BatchStatus) ([]domain.Batch, error)
}

// BatchJobRepository manages the jobs of a batch and their results.
type BatchJobRepository interface {
	Init(ctx context.Context) error
	ReplaceForBatch(ctx context.Context, batchID int64, jobs []domain.BatchJob) error
	ListByBatch(ctx context.Context, batchID int64) ([]domain.BatchJob, error)
	RecordResult(ctx context.Context, jobID int64, status domain.JobStatus, results []domain.ExecutionResult, finishedAt time.Time) error
}
