package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"batchfetch/internal/ambient"
	"batchfetch/internal/domain"
	"batchfetch/internal/fetch"
)

var ErrNoAssetRegistrar = errors.New("asset registration is not configured")

// AssetRegistrar registers a fetched file as a managed asset and returns
// its location.
type AssetRegistrar interface {
	RegisterAsset(ctx context.Context, info ambient.Info, localPath string) (string, error)
}

// jobRunner executes exactly one DownloadJob with its own copy of the
// ambient info and records one result per step.
type jobRunner struct {
	job     domain.DownloadJob
	info    ambient.Info
	fetcher fetch.Fetcher
	assets  AssetRegistrar
	timeout time.Duration
	logger  *logrus.Entry

	results []domain.ExecutionResult
}

func newJobRunner(job domain.DownloadJob, info ambient.Info, fetcher fetch.Fetcher, assets AssetRegistrar, timeout time.Duration, logger *logrus.Entry) *jobRunner {
	return &jobRunner{
		job:     job,
		info:    info,
		fetcher: fetcher,
		assets:  assets,
		timeout: timeout,
		logger: logger.WithFields(logrus.Fields{
			"url":  job.URL,
			"path": job.Path,
		}),
	}
}

// run never panics; failures of any kind end up as failed results.
func (r *jobRunner) run(ctx context.Context) []domain.ExecutionResult {
	r.execute(ctx)
	return r.results
}

func (r *jobRunner) execute(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(fmt.Errorf("job panicked: %v", p))
		}
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	localPath, err := r.fetcher.Fetch(ctx, fetch.Request{
		URL:         r.job.URL,
		Destination: r.job.Path,
		Info:        r.info,
	})
	if err != nil {
		r.fail(fmt.Errorf("download %s: %w", r.job.URL, err))
		return
	}
	r.logger.Debug("download finished")
	r.results = append(r.results, domain.Succeeded(localPath))

	if !r.job.CreateAsset {
		return
	}
	if r.assets == nil {
		r.fail(ErrNoAssetRegistrar)
		return
	}

	location, err := r.assets.RegisterAsset(ctx, r.info, localPath)
	if err != nil {
		r.fail(fmt.Errorf("register asset %s: %w", localPath, err))
		return
	}
	r.logger.Debugf("asset registered at %s", location)
	r.results = append(r.results, domain.Succeeded(location))
}

func (r *jobRunner) fail(err error) {
	r.logger.Warn(err.Error())
	r.results = append(r.results, domain.Failed(err))
}
