package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nalgeon/be"

	"batchfetch/internal/domain"
	"batchfetch/internal/repository"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "test.db"))
	be.Err(t, err, nil)
	t.Cleanup(func() { db.Close() })
	return db
}

func newRepos(t *testing.T) (repository.BatchRepository, repository.BatchJobRepository, repository.AssetRepository) {
	t.Helper()
	db := openTestDB(t)
	batches := NewBatchRepository(db)
	jobs := NewBatchJobRepository(db)
	assets := NewAssetRepository(db)
	be.Err(t, InitAll(context.Background(), batches, jobs, assets), nil)
	return batches, jobs, assets
}

func TestBatchLifecycle(t *testing.T) {
	ctx := context.Background()
	batches, _, _ := newRepos(t)

	batch := &domain.Batch{
		Status:   domain.BatchStatusPending,
		Owner:    "alice",
		Context:  map[string]string{"site": "intranet"},
		JobCount: 3,
	}
	id, err := batches.Create(ctx, batch)
	be.Err(t, err, nil)
	be.Equal(t, batch.ID, id)

	got, err := batches.Get(ctx, id)
	be.Err(t, err, nil)
	be.Equal(t, got.Status, domain.BatchStatusPending)
	be.Equal(t, got.Owner, "alice")
	be.Equal(t, got.Context["site"], "intranet")
	be.True(t, got.StartedAt == nil)

	be.Err(t, batches.MarkStarted(ctx, id, time.Now()), nil)
	got, err = batches.Get(ctx, id)
	be.Err(t, err, nil)
	be.Equal(t, got.Status, domain.BatchStatusRunning)
	be.True(t, got.StartedAt != nil)

	be.Err(t, batches.MarkFinished(ctx, id, domain.BatchStatusCompleted, 2, 1, time.Now()), nil)
	got, err = batches.Get(ctx, id)
	be.Err(t, err, nil)
	be.Equal(t, got.Status, domain.BatchStatusCompleted)
	be.Equal(t, got.Succeeded, 2)
	be.Equal(t, got.Failed, 1)
	be.True(t, got.FinishedAt != nil)

	msg := "storage offline"
	be.Err(t, batches.UpdateStatus(ctx, id, domain.BatchStatusFailed, &msg), nil)
	got, err = batches.Get(ctx, id)
	be.Err(t, err, nil)
	be.Equal(t, got.ErrorMessage, msg)
}

func TestBatchNotFound(t *testing.T) {
	ctx := context.Background()
	batches, _, _ := newRepos(t)

	_, err := batches.Get(ctx, 42)
	be.Err(t, err, repository.ErrBatchNotFound)
	be.Err(t, batches.MarkStarted(ctx, 42, time.Now()), repository.ErrBatchNotFound)
	be.Err(t, batches.Delete(ctx, 42), repository.ErrBatchNotFound)
}

func TestListByStatuses(t *testing.T) {
	ctx := context.Background()
	batches, _, _ := newRepos(t)

	for _, st := range []domain.BatchStatus{domain.BatchStatusPending, domain.BatchStatusRunning, domain.BatchStatusCompleted} {
		_, err := batches.Create(ctx, &domain.Batch{Status: st})
		be.Err(t, err, nil)
	}

	got, err := batches.ListByStatuses(ctx, domain.BatchStatusPending, domain.BatchStatusRunning)
	be.Err(t, err, nil)
	be.Equal(t, len(got), 2)
	be.Equal(t, got[0].Status, domain.BatchStatusPending)

	none, err := batches.ListByStatuses(ctx)
	be.Err(t, err, nil)
	be.Equal(t, len(none), 0)

	all, err := batches.List(ctx)
	be.Err(t, err, nil)
	be.Equal(t, len(all), 3)
	be.True(t, all[0].ID > all[2].ID)
}

func TestBatchJobs(t *testing.T) {
	ctx := context.Background()
	batches, jobs, _ := newRepos(t)

	batch := &domain.Batch{Status: domain.BatchStatusPending, JobCount: 2}
	_, err := batches.Create(ctx, batch)
	be.Err(t, err, nil)

	list := []domain.BatchJob{
		{Seq: 0, URL: "http://example.com/a", Path: "/data/a", CreateAsset: true},
		{Seq: 1, URL: "http://example.com/b", Path: "/data/b"},
	}
	be.Err(t, jobs.ReplaceForBatch(ctx, batch.ID, list), nil)
	be.True(t, list[0].ID > 0)
	be.True(t, list[1].ID > list[0].ID)

	results := []domain.ExecutionResult{domain.Succeeded("/data/a"), domain.Failed(errors.New("bucket missing"))}
	be.Err(t, jobs.RecordResult(ctx, list[0].ID, domain.JobStatusFailed, results, time.Now()), nil)

	got, err := jobs.ListByBatch(ctx, batch.ID)
	be.Err(t, err, nil)
	be.Equal(t, len(got), 2)
	be.Equal(t, got[0].Status, domain.JobStatusFailed)
	be.True(t, got[0].CreateAsset)
	be.Equal(t, got[0].Results, results)
	be.True(t, got[0].FinishedAt != nil)
	be.True(t, got[0].Done())
	be.Equal(t, got[1].Status, domain.JobStatusPending)
	be.Equal(t, len(got[1].Results), 0)
	be.True(t, !got[1].Done())

	be.Err(t, jobs.RecordResult(ctx, 999, domain.JobStatusSucceeded, nil, time.Now()), "job 999 not found")

	be.Err(t, batches.Delete(ctx, batch.ID), nil)
	got, err = jobs.ListByBatch(ctx, batch.ID)
	be.Err(t, err, nil)
	be.Equal(t, len(got), 0)
}

func TestAssets(t *testing.T) {
	ctx := context.Background()
	_, _, assets := newRepos(t)

	asset := &domain.Asset{
		Key:       "assets/intranet/x/a.png",
		Location:  "s3://bucket/assets/intranet/x/a.png",
		LocalPath: "/data/a.png",
		Size:      42,
		Owner:     "alice",
		Site:      "intranet",
	}
	id, err := assets.Create(ctx, asset)
	be.Err(t, err, nil)

	got, err := assets.Get(ctx, id)
	be.Err(t, err, nil)
	be.Equal(t, got.Key, asset.Key)
	be.Equal(t, got.Size, int64(42))

	_, err = assets.Create(ctx, &domain.Asset{Key: asset.Key, Location: asset.Location})
	be.Err(t, err, "already registered")

	list, err := assets.List(ctx)
	be.Err(t, err, nil)
	be.Equal(t, len(list), 1)

	be.Err(t, assets.Delete(ctx, id), nil)
	_, err = assets.Get(ctx, id)
	be.Err(t, err, repository.ErrAssetNotFound)
	be.Err(t, assets.Delete(ctx, id), repository.ErrAssetNotFound)
}
