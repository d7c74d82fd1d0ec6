package storage

import (
	"context"
	"errors"
	"time"
)

// ErrBucketRequired is returned when an operation has no bucket to target.
var ErrBucketRequired = errors.New("storage bucket is required")

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// UploadOptions conveys upload destination metadata.
type UploadOptions struct {
	Bucket           string
	Key              string
	ContentType      string
	ProgressCallback func(done, total int64)
}

// Service stores registered assets in remote object storage.
// Upload methods return the object location as s3://bucket/key.
type Service interface {
	UploadFile(ctx context.Context, localPath string, opts UploadOptions) (string, error)
	UploadDirectory(ctx context.Context, localPath string, opts UploadOptions) (string, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	DeletePrefix(ctx context.Context, bucket, prefix string) error
	PresignURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}
