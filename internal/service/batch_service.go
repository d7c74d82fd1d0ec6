package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"batchfetch/internal/ambient"
	"batchfetch/internal/domain"
	"batchfetch/internal/repository"
)

var (
	// ErrNoJobs is returned when a batch is submitted without jobs.
	ErrNoJobs = errors.New("batch needs at least one job")
	// ErrPathOutsideRoot is returned when a destination escapes the data root.
	ErrPathOutsideRoot = errors.New("destination is outside the data root")
)

// BatchService coordinates batch level operations backed by repositories.
type BatchService interface {
	CreateBatch(ctx context.Context, owner string, info ambient.Info, jobs []domain.DownloadJob) (*domain.Batch, error)
	GetBatch(ctx context.Context, id int64) (*domain.Batch, error)
	ListBatches(ctx context.Context) ([]domain.Batch, error)
	ListByStatuses(ctx context.Context, statuses ...domain.BatchStatus) ([]domain.Batch, error)
	MarkStarted(ctx context.Context, id int64) error
	RecordJobResult(ctx context.Context, jobID int64, results []domain.ExecutionResult) error
	MarkFinished(ctx context.Context, id int64, status domain.BatchStatus, succeeded, failed int) error
	UpdateStatus(ctx context.Context, id int64, status domain.BatchStatus, errMsg *string) error
	DeleteBatch(ctx context.Context, id int64) error
}

type batchService struct {
	batches  repository.BatchRepository
	jobs     repository.BatchJobRepository
	dataRoot string
}

func NewBatchService(batches repository.BatchRepository, jobs repository.BatchJobRepository, dataRoot string) BatchService {
	return &batchService{
		batches:  batches,
		jobs:     jobs,
		dataRoot: filepath.Clean(dataRoot),
	}
}

// CreateBatch persists jobs as a pending batch. Relative destinations are
// placed under the data root; absolute ones must already be inside it.
// URLs and empty destinations are not checked here, they fail when the
// job runs.
func (s *batchService) CreateBatch(ctx context.Context, owner string, info ambient.Info, jobs []domain.DownloadJob) (*domain.Batch, error) {
	if len(jobs) == 0 {
		return nil, ErrNoJobs
	}

	batchJobs := make([]domain.BatchJob, len(jobs))
	for i, job := range jobs {
		dest, err := s.resolve(job.Path)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		batchJobs[i] = domain.BatchJob{
			Seq:         i,
			URL:         strings.TrimSpace(job.URL),
			Path:        dest,
			CreateAsset: job.CreateAsset,
			Status:      domain.JobStatusPending,
		}
	}

	batch := &domain.Batch{
		Status:   domain.BatchStatusPending,
		Owner:    owner,
		Context:  info.Clone(),
		JobCount: len(jobs),
	}
	if _, err := s.batches.Create(ctx, batch); err != nil {
		return nil, err
	}
	if err := s.jobs.ReplaceForBatch(ctx, batch.ID, batchJobs); err != nil {
		// a batch without its jobs would be resumed as an empty run
		if delErr := s.batches.Delete(context.WithoutCancel(ctx), batch.ID); delErr != nil {
			return nil, errors.Join(err, fmt.Errorf("remove partial batch %d: %w", batch.ID, delErr))
		}
		return nil, err
	}
	batch.Jobs = batchJobs
	return batch, nil
}

func (s *batchService) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.dataRoot, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(s.dataRoot, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, path)
	}
	return path, nil
}

func (s *batchService) GetBatch(ctx context.Context, id int64) (*domain.Batch, error) {
	batch, err := s.batches.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobs.ListByBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	batch.Jobs = jobs
	return batch, nil
}

func (s *batchService) ListBatches(ctx context.Context) ([]domain.Batch, error) {
	batches, err := s.batches.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.attachJobs(ctx, batches)
}

func (s *batchService) ListByStatuses(ctx context.Context, statuses ...domain.BatchStatus) ([]domain.Batch, error) {
	batches, err := s.batches.ListByStatuses(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return s.attachJobs(ctx, batches)
}

func (s *batchService) attachJobs(ctx context.Context, batches []domain.Batch) ([]domain.Batch, error) {
	for i := range batches {
		jobs, err := s.jobs.ListByBatch(ctx, batches[i].ID)
		if err != nil {
			return nil, err
		}
		batches[i].Jobs = jobs
	}
	return batches, nil
}

func (s *batchService) MarkStarted(ctx context.Context, id int64) error {
	return s.batches.MarkStarted(ctx, id, time.Now())
}

// RecordJobResult stores the results of one job. The job counts as
// succeeded only when every result is OK.
func (s *batchService) RecordJobResult(ctx context.Context, jobID int64, results []domain.ExecutionResult) error {
	status := domain.JobStatusFailed
	if domain.AllOK(results) {
		status = domain.JobStatusSucceeded
	}
	return s.jobs.RecordResult(ctx, jobID, status, results, time.Now())
}

func (s *batchService) MarkFinished(ctx context.Context, id int64, status domain.BatchStatus, succeeded, failed int) error {
	return s.batches.MarkFinished(ctx, id, status, succeeded, failed, time.Now())
}

func (s *batchService) UpdateStatus(ctx context.Context, id int64, status domain.BatchStatus, errMsg *string) error {
	return s.batches.UpdateStatus(ctx, id, status, errMsg)
}

func (s *batchService) DeleteBatch(ctx context.Context, id int64) error {
	return s.batches.Delete(ctx, id)
}
