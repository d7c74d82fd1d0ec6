package downloader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"batchfetch/internal/ambient"
	"batchfetch/internal/domain"
	"batchfetch/internal/fetch"
)

// DefaultMaxWorkers is used when CoordinatorConfig.MaxWorkers is not positive.
const DefaultMaxWorkers = 6

// ErrAlreadyRunning is returned by Download while another Download on the
// same coordinator is in progress.
var ErrAlreadyRunning = errors.New("download already in progress")

type CoordinatorConfig struct {
	// MaxWorkers caps the number of jobs executing at once. Defaults to 6.
	MaxWorkers int
	// StrictBatches starts jobs in groups of MaxWorkers and waits for the
	// whole group before starting the next one. By default a slot is reused
	// as soon as any job finishes.
	StrictBatches bool
	// JobTimeout bounds a single job, zero means no limit.
	JobTimeout time.Duration
	// OnJobDone is called from the worker goroutine once a job has an
	// outcome. index is the job's position in the drained queue.
	OnJobDone func(index int, job domain.DownloadJob, results []domain.ExecutionResult)
	Logger    *logrus.Logger
}

// Coordinator runs queued download jobs with bounded parallelism and
// collects their results.
type Coordinator struct {
	cfg     CoordinatorConfig
	info    ambient.Info
	fetcher fetch.Fetcher
	assets  AssetRegistrar

	mu       sync.Mutex
	pending  []domain.DownloadJob
	results  []domain.ExecutionResult
	complete bool
	running  bool
}

// NewCoordinator returns a coordinator whose jobs see a clone of info.
// assets may be nil, in which case asset registration fails per job.
func NewCoordinator(cfg CoordinatorConfig, info ambient.Info, fetcher fetch.Fetcher, assets AssetRegistrar) *Coordinator {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Coordinator{
		cfg:     cfg,
		info:    info.Clone(),
		fetcher: fetcher,
		assets:  assets,
	}
}

// AddDownload enqueues a job. Nothing runs until Download is called.
func (c *Coordinator) AddDownload(path, url string, createAsset bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, domain.NewDownloadJob(path, url, createAsset))
	c.complete = false
}

// Pending returns the number of queued jobs not yet taken by Download.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Download drains the queue and blocks until every drained job has an
// outcome. Job failures are reported through Results, never as an error.
// When ctx is cancelled, jobs that were not started yet get a failed
// result and ctx.Err() is returned. A cancellation that arrives after every
// job has finished is not reported.
func (c *Coordinator) Download(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	jobs := c.pending
	c.pending = nil
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.complete = len(c.pending) == 0
		c.mu.Unlock()
	}()

	if len(jobs) == 0 {
		return nil
	}

	snapshot := c.info.Clone()
	logger := c.cfg.Logger.WithFields(logrus.Fields{
		"jobs":       len(jobs),
		"request_id": snapshot.Get(ambient.KeyRequestID),
	})
	logger.Infof("download started with %d workers", c.cfg.MaxWorkers)
	started := time.Now()

	group := len(jobs)
	if c.cfg.StrictBatches {
		group = c.cfg.MaxWorkers
	}
	sem := make(chan struct{}, c.cfg.MaxWorkers)

	failed := 0
	interrupted := false
	for start := 0; start < len(jobs); start += group {
		end := min(start+group, len(jobs))
		results, cut := c.runGroup(ctx, sem, jobs[start:end], start, snapshot, logger)
		interrupted = interrupted || cut
		for _, r := range results {
			if !r.OK {
				failed++
			}
		}

		c.mu.Lock()
		c.results = append(c.results, results...)
		c.mu.Unlock()
	}

	logger.WithField("failed_results", failed).Infof("download finished in %s", time.Since(started).Round(time.Millisecond))
	if interrupted {
		return ctx.Err()
	}
	return nil
}

// runGroup runs jobs through the semaphore and returns their results in
// submission order once all of them are done. interrupted is true when
// cancellation left a job unstarted or cut a running job short.
func (c *Coordinator) runGroup(ctx context.Context, sem chan struct{}, jobs []domain.DownloadJob, offset int, snapshot ambient.Info, logger *logrus.Entry) (results []domain.ExecutionResult, interrupted bool) {
	slots := make([][]domain.ExecutionResult, len(jobs))
	var (
		wg  sync.WaitGroup
		cut atomic.Bool
	)

	for i, job := range jobs {
		if !c.acquire(ctx, sem) {
			cut.Store(true)
			slots[i] = []domain.ExecutionResult{domain.Failed(fmt.Errorf("download %s not started: %w", job.URL, ctx.Err()))}
			c.notify(offset+i, job, slots[i])
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			runner := newJobRunner(job, snapshot.Clone(), c.fetcher, c.assets, c.cfg.JobTimeout, logger)
			slots[i] = runner.run(ctx)
			if ctx.Err() != nil && !domain.AllOK(slots[i]) {
				cut.Store(true)
			}
			c.notify(offset+i, job, slots[i])
		}()
	}
	wg.Wait()

	for _, s := range slots {
		results = append(results, s...)
	}
	return results, cut.Load()
}

func (c *Coordinator) acquire(ctx context.Context, sem chan struct{}) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case sem <- struct{}{}:
		return true
	}
}

func (c *Coordinator) notify(index int, job domain.DownloadJob, results []domain.ExecutionResult) {
	if c.cfg.OnJobDone != nil {
		c.cfg.OnJobDone(index, job, slices.Clone(results))
	}
}

// Results returns a copy of the results accumulated so far. Results of a
// group only appear once the whole group has finished.
func (c *Coordinator) Results() []domain.ExecutionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.results)
}

// HasCompleted reports whether the last Download drained the queue and no
// job has been added since.
func (c *Coordinator) HasCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complete
}
