// Package app assembles the pieces shared by the server and the command
// line tool from a loaded configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"batchfetch/internal/config"
	"batchfetch/internal/fetch"
	"batchfetch/internal/repository"
	"batchfetch/internal/repository/sqlite"
	"batchfetch/internal/storage"
)

// BuildFetcher returns a fetcher for http, https and, when enabled, magnet
// URLs. The returned func releases the torrent client.
func BuildFetcher(cfg config.Config, logger *logrus.Logger) (fetch.Fetcher, func(), error) {
	client := fetch.NewHTTPClient(fetch.ClientConfig{BlockPrivate: cfg.Download.BlockPrivate})
	mux := fetch.NewMux()
	mux.Handle(fetch.NewHTTPFetcher(client, fetch.HTTPConfig{
		UserAgent:      cfg.Download.UserAgent,
		AllowMIMETypes: cfg.Download.AllowMIME,
		MaxBytes:       cfg.Download.MaxBytes,
		Logger:         logger,
	}), "http", "https")

	if !cfg.Torrent.Enabled {
		return mux, func() {}, nil
	}

	tf, err := fetch.NewTorrentFetcher(fetch.TorrentConfig{
		DataDir: cfg.Torrent.DataDir,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	mux.Handle(tf, "magnet")
	logger.Infof("magnet fetches enabled, scratch dir %s", cfg.Torrent.DataDir)
	return mux, tf.Close, nil
}

// BuildStorage returns nil when no bucket is configured.
func BuildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("no storage bucket configured, asset registration disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}

type Repositories struct {
	DB      *sql.DB
	Batches repository.BatchRepository
	Jobs    repository.BatchJobRepository
	Assets  repository.AssetRepository
}

// OpenRepositories opens the database at path and creates missing tables.
func OpenRepositories(ctx context.Context, path string) (*Repositories, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Repositories{
		DB:      db,
		Batches: sqlite.NewBatchRepository(db),
		Jobs:    sqlite.NewBatchJobRepository(db),
		Assets:  sqlite.NewAssetRepository(db),
	}
	if err := sqlite.InitAll(ctx, r.Batches, r.Jobs, r.Assets); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repositories) Close() error {
	return r.DB.Close()
}
