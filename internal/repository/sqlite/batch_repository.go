package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"batchfetch/internal/domain"
	"batchfetch/internal/repository"
)

const createBatchesTable = `
CREATE TABLE IF NOT EXISTS batches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	status TEXT NOT NULL,
	owner TEXT NOT NULL DEFAULT '',
	context_json TEXT NOT NULL DEFAULT '{}',
	job_count INTEGER NOT NULL DEFAULT 0,
	succeeded INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	started_at DATETIME NULL,
	finished_at DATETIME NULL
);
CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
`

const selectBatchColumns = `
SELECT id, status, owner, context_json, job_count, succeeded, failed, error_message, created_at, updated_at, started_at, finished_at
FROM batches`

type BatchRepository struct {
	db *sql.DB
}

func NewBatchRepository(db *sql.DB) repository.BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createBatchesTable); err != nil {
		return fmt.Errorf("create batches table: %w", err)
	}
	return nil
}

func (r *BatchRepository) Create(ctx context.Context, batch *domain.Batch) (int64, error) {
	now := time.Now().UTC()
	batch.CreatedAt = now
	batch.UpdatedAt = now

	contextJSON, err := encodeContext(batch.Context)
	if err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO batches (status, owner, context_json, job_count, succeeded, failed, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(batch.Status),
		batch.Owner,
		contextJSON,
		batch.JobCount,
		batch.Succeeded,
		batch.Failed,
		batch.ErrorMessage,
		batch.CreatedAt,
		batch.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert batch: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	batch.ID = id
	return id, nil
}

func (r *BatchRepository) UpdateStatus(ctx context.Context, id int64, status domain.BatchStatus, errorMessage *string) error {
	msg := ""
	if errorMessage != nil {
		msg = *errorMessage
	}
	return r.exec(ctx, "update batch status", `
UPDATE batches
SET status=?, error_message=?, updated_at=?
WHERE id=?`,
		string(status),
		msg,
		time.Now().UTC(),
		id,
	)
}

func (r *BatchRepository) MarkStarted(ctx context.Context, id int64, startedAt time.Time) error {
	return r.exec(ctx, "mark batch started", `
UPDATE batches
SET status=?, started_at=?, updated_at=?
WHERE id=?`,
		string(domain.BatchStatusRunning),
		startedAt.UTC(),
		time.Now().UTC(),
		id,
	)
}

func (r *BatchRepository) MarkFinished(ctx context.Context, id int64, status domain.BatchStatus, succeeded, failed int, finishedAt time.Time) error {
	return r.exec(ctx, "mark batch finished", `
UPDATE batches
SET status=?, succeeded=?, failed=?, finished_at=?, updated_at=?
WHERE id=?`,
		string(status),
		succeeded,
		failed,
		finishedAt.UTC(),
		time.Now().UTC(),
		id,
	)
}

func (r *BatchRepository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if aff == 0 {
		return repository.ErrBatchNotFound
	}
	return nil
}

func (r *BatchRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM batch_jobs WHERE batch_id=?`, id); err != nil {
		return fmt.Errorf("delete batch jobs: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM batches WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("batch delete rows affected: %w", err)
	}
	if aff == 0 {
		return repository.ErrBatchNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch delete: %w", err)
	}
	return nil
}

func (r *BatchRepository) Get(ctx context.Context, id int64) (*domain.Batch, error) {
	row := r.db.QueryRowContext(ctx, selectBatchColumns+`
WHERE id=?`,
		id,
	)
	return scanBatch(row)
}

func (r *BatchRepository) List(ctx context.Context) ([]domain.Batch, error) {
	return r.query(ctx, selectBatchColumns+`
ORDER BY id DESC`)
}

func (r *BatchRepository) ListByStatuses(ctx context.Context, statuses ...domain.BatchStatus) ([]domain.Batch, error) {
	if len(statuses) == 0 {
		return []domain.Batch{}, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}

	return r.query(ctx, fmt.Sprintf(selectBatchColumns+`
WHERE status IN (%s)
ORDER BY id ASC`, strings.Join(placeholders, ",")), args...)
}

func (r *BatchRepository) query(ctx context.Context, query string, args ...any) ([]domain.Batch, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *batch)
	}

	return batches, rows.Err()
}

func scanBatch(scanner interface {
	Scan(dest ...any) error
}) (*domain.Batch, error) {
	var (
		batch       domain.Batch
		status      string
		contextJSON string
		startedAt   sql.NullTime
		finishedAt  sql.NullTime
	)

	if err := scanner.Scan(
		&batch.ID,
		&status,
		&batch.Owner,
		&contextJSON,
		&batch.JobCount,
		&batch.Succeeded,
		&batch.Failed,
		&batch.ErrorMessage,
		&batch.CreatedAt,
		&batch.UpdatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrBatchNotFound
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}

	batch.Status = domain.BatchStatus(status)
	if err := json.Unmarshal([]byte(contextJSON), &batch.Context); err != nil {
		return nil, fmt.Errorf("decode batch context: %w", err)
	}
	batch.CreatedAt = batch.CreatedAt.Local()
	batch.UpdatedAt = batch.UpdatedAt.Local()
	batch.StartedAt = localTime(startedAt)
	batch.FinishedAt = localTime(finishedAt)

	return &batch, nil
}

func encodeContext(values map[string]string) (string, error) {
	if values == nil {
		values = map[string]string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode batch context: %w", err)
	}
	return string(data), nil
}

func localTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.Local()
	return &v
}
