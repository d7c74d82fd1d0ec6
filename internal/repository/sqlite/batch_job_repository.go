package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"batchfetch/internal/domain"
	"batchfetch/internal/repository"
)

const createBatchJobsTable = `
CREATE TABLE IF NOT EXISTS batch_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	url TEXT NOT NULL,
	path TEXT NOT NULL,
	create_asset INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	results_json TEXT NOT NULL DEFAULT '[]',
	finished_at DATETIME NULL,
	FOREIGN KEY(batch_id) REFERENCES batches(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_batch_jobs_batch_id ON batch_jobs(batch_id);
`

type BatchJobRepository struct {
	db *sql.DB
}

func NewBatchJobRepository(db *sql.DB) repository.BatchJobRepository {
	return &BatchJobRepository{db: db}
}

func (r *BatchJobRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createBatchJobsTable); err != nil {
		return fmt.Errorf("create batch_jobs table: %w", err)
	}
	return nil
}

// ReplaceForBatch stores jobs for batchID and fills in their IDs.
func (r *BatchJobRepository) ReplaceForBatch(ctx context.Context, batchID int64, jobs []domain.BatchJob) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM batch_jobs WHERE batch_id=?`, batchID); err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}

	for i := range jobs {
		job := &jobs[i]
		job.BatchID = batchID
		if job.Status == "" {
			job.Status = domain.JobStatusPending
		}
		resultsJSON, err := encodeResults(job.Results)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
INSERT INTO batch_jobs (batch_id, seq, url, path, create_asset, status, results_json)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			batchID,
			job.Seq,
			job.URL,
			job.Path,
			job.CreateAsset,
			string(job.Status),
			resultsJSON,
		)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if job.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("job last insert id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *BatchJobRepository) ListByBatch(ctx context.Context, batchID int64) ([]domain.BatchJob, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, batch_id, seq, url, path, create_asset, status, results_json, finished_at
FROM batch_jobs
WHERE batch_id=?
ORDER BY seq ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query batch jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.BatchJob
	for rows.Next() {
		var (
			job         domain.BatchJob
			status      string
			resultsJSON string
			finishedAt  sql.NullTime
		)
		if err := rows.Scan(&job.ID, &job.BatchID, &job.Seq, &job.URL, &job.Path, &job.CreateAsset, &status, &resultsJSON, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Status = domain.JobStatus(status)
		if err := json.Unmarshal([]byte(resultsJSON), &job.Results); err != nil {
			return nil, fmt.Errorf("decode job results: %w", err)
		}
		job.FinishedAt = localTime(finishedAt)
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (r *BatchJobRepository) RecordResult(ctx context.Context, jobID int64, status domain.JobStatus, results []domain.ExecutionResult, finishedAt time.Time) error {
	resultsJSON, err := encodeResults(results)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE batch_jobs
SET status=?, results_json=?, finished_at=?
WHERE id=?`,
		string(status),
		resultsJSON,
		finishedAt.UTC(),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("record job result: %w", err)
	}
	if aff, err := res.RowsAffected(); err == nil && aff == 0 {
		return fmt.Errorf("job %d not found", jobID)
	}
	return nil
}

func encodeResults(results []domain.ExecutionResult) (string, error) {
	if results == nil {
		results = []domain.ExecutionResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("encode job results: %w", err)
	}
	return string(data), nil
}
