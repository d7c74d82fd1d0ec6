package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"batchfetch/internal/domain"
	"batchfetch/internal/repository"
)

const createAssetsTable = `
CREATE TABLE IF NOT EXISTS assets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	object_key TEXT NOT NULL UNIQUE,
	location TEXT NOT NULL,
	local_path TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	owner TEXT NOT NULL DEFAULT '',
	site TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
`

type AssetRepository struct {
	db *sql.DB
}

func NewAssetRepository(db *sql.DB) repository.AssetRepository {
	return &AssetRepository{db: db}
}

func (r *AssetRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createAssetsTable); err != nil {
		return fmt.Errorf("create assets table: %w", err)
	}
	return nil
}

func (r *AssetRepository) Create(ctx context.Context, asset *domain.Asset) (int64, error) {
	asset.CreatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
INSERT INTO assets (object_key, location, local_path, size, owner, site, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		asset.Key,
		asset.Location,
		asset.LocalPath,
		asset.Size,
		asset.Owner,
		asset.Site,
		asset.CreatedAt,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return 0, fmt.Errorf("asset key already registered: %w", err)
		}
		return 0, fmt.Errorf("insert asset: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("asset last insert id: %w", err)
	}
	asset.ID = id
	return id, nil
}

func (r *AssetRepository) Get(ctx context.Context, id int64) (*domain.Asset, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, object_key, location, local_path, size, owner, site, created_at
FROM assets
WHERE id = ?`,
		id,
	)
	return scanAsset(row)
}

func (r *AssetRepository) List(ctx context.Context) ([]domain.Asset, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, object_key, location, local_path, size, owner, site, created_at
FROM assets
ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	return assets, rows.Err()
}

func (r *AssetRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM assets WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("asset delete rows affected: %w", err)
	}
	if aff == 0 {
		return repository.ErrAssetNotFound
	}
	return nil
}

func scanAsset(row interface {
	Scan(dest ...any) error
}) (*domain.Asset, error) {
	var asset domain.Asset
	if err := row.Scan(
		&asset.ID,
		&asset.Key,
		&asset.Location,
		&asset.LocalPath,
		&asset.Size,
		&asset.Owner,
		&asset.Site,
		&asset.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrAssetNotFound
		}
		return nil, fmt.Errorf("scan asset: %w", err)
	}
	asset.CreatedAt = asset.CreatedAt.Local()
	return &asset, nil
}
