package repository

import (
	"context"
	"errors"

	"batchfetch/internal/domain"
)

var ErrAssetNotFound = errors.New("asset not found")

// AssetRepository defines persistence operations for registered assets.
type AssetRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, asset *domain.Asset) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Asset, error)
	List(ctx context.Context) ([]domain.Asset, error)
	Delete(ctx context.Context, id int64) error
}
