package downloader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"batchfetch/internal/ambient"
	"batchfetch/internal/domain"
	"batchfetch/internal/fetch"
	"batchfetch/internal/service"
)

var ErrNotStarted = errors.New("batch manager not started")

// Manager runs persisted batches in the background and records their
// progress.
type Manager interface {
	Start(ctx context.Context) error
	Shutdown()
	Enqueue(ctx context.Context, batchID int64) error
	Resume(ctx context.Context) error
	Cancel(ctx context.Context, batchID int64) error
}

type Config struct {
	// MaxBatches caps the number of batches running at once. Defaults to 2.
	MaxBatches int
	// Coordinator is applied to every batch. OnJobDone is set by the manager.
	Coordinator CoordinatorConfig
	Logger      *logrus.Logger
}

type manager struct {
	cfg     Config
	batches service.BatchService
	fetcher fetch.Fetcher
	assets  AssetRegistrar

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	active map[int64]*batchHandle
}

type batchHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, batches service.BatchService, fetcher fetch.Fetcher, assets AssetRegistrar) Manager {
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Coordinator.Logger == nil {
		cfg.Coordinator.Logger = cfg.Logger
	}
	return &manager{
		cfg:     cfg,
		batches: batches,
		fetcher: fetcher,
		assets:  assets,
		sem:     make(chan struct{}, cfg.MaxBatches),
		active:  make(map[int64]*batchHandle),
	}
}

func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.cfg.Logger.Infof("batch manager started, max %d batches", m.cfg.MaxBatches)
	return nil
}

// Shutdown stops running batches and waits for them. Interrupted batches
// stay running in the store so Resume picks them up again.
func (m *manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.cfg.Logger.Info("batch manager stopped")
}

func (m *manager) Enqueue(ctx context.Context, batchID int64) error {
	batch, err := m.batches.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	return m.spawnBatch(*batch)
}

// Resume enqueues every batch that is pending or was interrupted while running.
func (m *manager) Resume(ctx context.Context) error {
	batches, err := m.batches.ListByStatuses(ctx,
		domain.BatchStatusPending,
		domain.BatchStatusRunning,
	)
	if err != nil {
		return err
	}

	for i := range batches {
		if err := m.spawnBatch(batches[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *manager) spawnBatch(batch domain.Batch) error {
	m.mu.Lock()
	if m.ctx == nil {
		m.mu.Unlock()
		return ErrNotStarted
	}
	if _, ok := m.active[batch.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	batchCtx, cancel := context.WithCancel(m.ctx)
	handle := &batchHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.active[batch.ID] = handle
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.unregisterBatch(batch.ID)
			close(handle.done)
		}()
		select {
		case <-batchCtx.Done():
			m.abandon(batch.ID)
			return
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
			m.handleBatch(batchCtx, &batch)
		}
	}()
	return nil
}

func (m *manager) unregisterBatch(id int64) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

func (m *manager) shuttingDown() bool {
	return m.ctx.Err() != nil
}

// abandon handles a batch cancelled before it got a slot.
func (m *manager) abandon(id int64) {
	if m.shuttingDown() {
		return
	}
	if err := m.batches.UpdateStatus(context.Background(), id, domain.BatchStatusCancelled, nil); err != nil {
		m.cfg.Logger.WithField("batch_id", id).Warnf("mark cancelled: %v", err)
	}
}

// Cancel stops a running or queued batch and waits until it has been
// accounted for. Unknown or finished batches are ignored.
func (m *manager) Cancel(ctx context.Context, batchID int64) error {
	m.mu.Lock()
	handle, ok := m.active[batchID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	handle.cancel()

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *manager) handleBatch(ctx context.Context, batch *domain.Batch) {
	logger := m.cfg.Logger.WithField("batch_id", batch.ID)
	// writes must land even after ctx is cancelled
	store := context.WithoutCancel(ctx)

	if err := m.batches.MarkStarted(store, batch.ID); err != nil {
		logger.Errorf("mark started: %v", err)
		return
	}

	var (
		succeeded atomic.Int64
		failed    atomic.Int64
		todo      []domain.BatchJob
	)
	for _, job := range batch.Jobs {
		switch {
		case job.Status == domain.JobStatusSucceeded:
			succeeded.Add(1)
		case job.Status == domain.JobStatusFailed:
			failed.Add(1)
		default:
			todo = append(todo, job)
		}
	}
	if skipped := len(batch.Jobs) - len(todo); skipped > 0 {
		logger.Infof("resuming batch, %d jobs already finished", skipped)
	}

	cfg := m.cfg.Coordinator
	cfg.OnJobDone = func(index int, _ domain.DownloadJob, results []domain.ExecutionResult) {
		job := todo[index]
		ok := domain.AllOK(results)
		if !ok && m.shuttingDown() {
			// leave it pending for the next Resume
			return
		}
		if ok {
			succeeded.Add(1)
		} else {
			failed.Add(1)
		}
		if err := m.batches.RecordJobResult(store, job.ID, results); err != nil {
			logger.WithField("job_id", job.ID).Errorf("record job result: %v", err)
		}
	}

	coord := NewCoordinator(cfg, ambient.Info(batch.Context), m.fetcher, m.assets)
	for _, job := range todo {
		coord.AddDownload(job.Path, job.URL, job.CreateAsset)
	}

	err := coord.Download(ctx)
	switch {
	case err != nil && m.shuttingDown():
		logger.Info("batch interrupted by shutdown")
		return
	case err != nil:
		logger.Info("batch cancelled")
		m.finish(store, logger, batch.ID, domain.BatchStatusCancelled, int(succeeded.Load()), int(failed.Load()))
	default:
		m.finish(store, logger, batch.ID, domain.BatchStatusCompleted, int(succeeded.Load()), int(failed.Load()))
	}
}

func (m *manager) finish(ctx context.Context, logger *logrus.Entry, id int64, status domain.BatchStatus, succeeded, failed int) {
	if err := m.batches.MarkFinished(ctx, id, status, succeeded, failed); err != nil {
		logger.Errorf("mark finished: %v", err)
		return
	}
	logger.WithFields(logrus.Fields{
		"status":    status,
		"succeeded": succeeded,
		"failed":    failed,
	}).Info("batch finished")
}

var _ Manager = (*manager)(nil)
