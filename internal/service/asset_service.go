package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"batchfetch/internal/ambient"
	"batchfetch/internal/domain"
	"batchfetch/internal/repository"
	"batchfetch/internal/storage"
)

// ErrStorageDisabled is returned by asset operations when no bucket is configured.
var ErrStorageDisabled = errors.New("asset storage is not configured")

const defaultSite = "default"

// AssetService registers fetched files in object storage and keeps a
// record of them.
type AssetService interface {
	RegisterAsset(ctx context.Context, info ambient.Info, localPath string) (string, error)
	GetAsset(ctx context.Context, id int64) (*domain.Asset, error)
	ListAssets(ctx context.Context) ([]domain.Asset, error)
	ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	AssetURL(ctx context.Context, id int64, expires time.Duration) (string, error)
	DeleteAsset(ctx context.Context, id int64, deleteRemote bool) error
}

type AssetConfig struct {
	Bucket    string
	KeyPrefix string
	Logger    *logrus.Logger
}

type assetService struct {
	assets  repository.AssetRepository
	storage storage.Service
	cfg     AssetConfig
}

// NewAssetService returns an AssetService. store may be nil, in which case
// registration and presigning fail with ErrStorageDisabled.
func NewAssetService(assets repository.AssetRepository, store storage.Service, cfg AssetConfig) AssetService {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	cfg.KeyPrefix = strings.Trim(cfg.KeyPrefix, "/")
	return &assetService{
		assets:  assets,
		storage: store,
		cfg:     cfg,
	}
}

func (s *assetService) enabled() bool {
	return s.storage != nil && s.cfg.Bucket != ""
}

// RegisterAsset uploads localPath under prefix/site/uuid/name and returns
// its s3:// location. Directories are uploaded file by file below that key.
func (s *assetService) RegisterAsset(ctx context.Context, info ambient.Info, localPath string) (string, error) {
	if !s.enabled() {
		return "", ErrStorageDisabled
	}

	stat, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("stat asset: %w", err)
	}

	site := info.Site()
	if site == "" {
		site = defaultSite
	}
	key := path.Join(s.cfg.KeyPrefix, site, uuid.NewString(), filepath.Base(localPath))

	logger := s.cfg.Logger.WithFields(logrus.Fields{
		"key":        key,
		"request_id": info.Get(ambient.KeyRequestID),
	})
	opts := storage.UploadOptions{
		Bucket: s.cfg.Bucket,
		Key:    key,
		ProgressCallback: func(done, total int64) {
			logger.Debugf("upload progress %d/%d bytes", done, total)
		},
	}

	var (
		location string
		size     int64
	)
	if stat.IsDir() {
		if size, err = dirSize(localPath); err != nil {
			return "", err
		}
		location, err = s.storage.UploadDirectory(ctx, localPath, opts)
	} else {
		size = stat.Size()
		location, err = s.storage.UploadFile(ctx, localPath, opts)
	}
	if err != nil {
		return "", err
	}

	asset := &domain.Asset{
		Key:       key,
		Location:  location,
		LocalPath: localPath,
		Size:      size,
		Owner:     info.User(),
		Site:      site,
	}
	if _, err := s.assets.Create(ctx, asset); err != nil {
		return "", err
	}

	logger.WithField("asset_id", asset.ID).Info("asset registered")
	return location, nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk asset dir: %w", err)
	}
	return total, nil
}

func (s *assetService) GetAsset(ctx context.Context, id int64) (*domain.Asset, error) {
	return s.assets.Get(ctx, id)
}

func (s *assetService) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	return s.assets.List(ctx)
}

// ListObjects lists stored objects below the configured key prefix.
func (s *assetService) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if !s.enabled() {
		return nil, ErrStorageDisabled
	}
	return s.storage.ListObjects(ctx, s.cfg.Bucket, path.Join(s.cfg.KeyPrefix, prefix))
}

// AssetURL returns a presigned GET URL for the asset's object.
func (s *assetService) AssetURL(ctx context.Context, id int64, expires time.Duration) (string, error) {
	if !s.enabled() {
		return "", ErrStorageDisabled
	}
	asset, err := s.assets.Get(ctx, id)
	if err != nil {
		return "", err
	}
	key, err := storage.ParseLocation(asset.Location, s.cfg.Bucket)
	if err != nil {
		return "", fmt.Errorf("asset %d: %w", id, err)
	}
	return s.storage.PresignURL(ctx, s.cfg.Bucket, key, expires)
}

// DeleteAsset removes the asset record and, when deleteRemote is set, every
// object stored under its key.
func (s *assetService) DeleteAsset(ctx context.Context, id int64, deleteRemote bool) error {
	asset, err := s.assets.Get(ctx, id)
	if err != nil {
		return err
	}
	if deleteRemote {
		if !s.enabled() {
			return ErrStorageDisabled
		}
		if err := s.storage.DeletePrefix(ctx, s.cfg.Bucket, asset.Key); err != nil {
			return fmt.Errorf("delete remote asset: %w", err)
		}
	}
	return s.assets.Delete(ctx, id)
}
