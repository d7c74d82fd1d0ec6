package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"batchfetch/internal/app"
	"batchfetch/internal/config"
	"batchfetch/internal/domain"
	"batchfetch/internal/downloader"
	"batchfetch/internal/manifest"
	"batchfetch/internal/service"
)

var errJobsFailed = errors.New("one or more jobs failed")

var (
	runWorkers int
	runStrict  bool
	runTimeout time.Duration
	runSite    string
)

var runCmd = &cobra.Command{
	Use:   "run <manifest.yaml>",
	Short: "Run the jobs of a manifest locally",
	Long: `Run fetches every job of a YAML manifest and prints one line per result.
Flags override the manifest's own settings. The exit status is non-zero
when any job failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runManifest,
}

func init() {
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "jobs running at once (default from manifest, then download.maxworkers)")
	runCmd.Flags().BoolVar(&runStrict, "strict-batches", false, "wait for each group of jobs before starting the next")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "per job timeout (default from manifest, then download.jobtimeout)")
	runCmd.Flags().StringVar(&runSite, "site", "", "site recorded with registered assets")
	rootCmd.AddCommand(runCmd)
}

func runManifest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	m, err := manifest.Load(args[0])
	if err != nil {
		return err
	}
	if m.Workers == 0 {
		m.Workers = cfg.Download.MaxWorkers
	}
	if m.Timeout == 0 {
		m.Timeout = cfg.Download.JobTimeout
	}
	applyRunFlags(cmd, m)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher, closeFetcher, err := app.BuildFetcher(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFetcher()

	registrar, closeRegistrar, err := buildRegistrar(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer closeRegistrar()

	jobs := m.DownloadJobs()
	outcomes := newOutcomes(len(jobs))
	coord := downloader.NewCoordinator(downloader.CoordinatorConfig{
		MaxWorkers:    m.Workers,
		StrictBatches: m.StrictBatches,
		JobTimeout:    m.Timeout,
		OnJobDone:     outcomes.record,
		Logger:        logger,
	}, m.Info(), fetcher, registrar)
	for _, job := range jobs {
		coord.AddDownload(job.Path, job.URL, job.CreateAsset)
	}

	runErr := coord.Download(ctx)
	fmt.Fprintln(cmd.OutOrStdout(), renderResults(jobs, outcomes.results))

	if runErr != nil {
		return fmt.Errorf("download interrupted: %w", runErr)
	}
	if !outcomes.allOK() {
		return errJobsFailed
	}
	return nil
}

func applyRunFlags(cmd *cobra.Command, m *manifest.Manifest) {
	if cmd.Flags().Changed("workers") {
		m.Workers = runWorkers
	}
	if cmd.Flags().Changed("strict-batches") {
		m.StrictBatches = runStrict
	}
	if cmd.Flags().Changed("timeout") {
		m.Timeout = runTimeout
	}
	if runSite != "" {
		if m.Context == nil {
			m.Context = map[string]string{}
		}
		m.Context["site"] = runSite
	}
}

// buildRegistrar returns nil when no job asks for an asset or no bucket is
// configured. Jobs asking for an asset then fail their registration step.
func buildRegistrar(ctx context.Context, cfg config.Config, m *manifest.Manifest, logger *logrus.Logger) (downloader.AssetRegistrar, func(), error) {
	wantsAsset := false
	for _, job := range m.Jobs {
		wantsAsset = wantsAsset || job.Asset
	}
	if !wantsAsset || cfg.Storage.Bucket == "" {
		return nil, func() {}, nil
	}

	store, err := app.BuildStorage(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	repos, err := app.OpenRepositories(ctx, cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	assets := service.NewAssetService(repos.Assets, store, service.AssetConfig{
		Bucket:    cfg.Storage.Bucket,
		KeyPrefix: cfg.Storage.KeyPrefix,
		Logger:    logger,
	})
	return assets, func() { repos.Close() }, nil
}

// outcomes keeps each job's results by queue position.
type outcomes struct {
	mu      sync.Mutex
	results [][]domain.ExecutionResult
}

func newOutcomes(n int) *outcomes {
	return &outcomes{results: make([][]domain.ExecutionResult, n)}
}

func (o *outcomes) record(index int, _ domain.DownloadJob, results []domain.ExecutionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results[index] = results
}

func (o *outcomes) allOK() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, rs := range o.results {
		if !domain.AllOK(rs) {
			return false
		}
	}
	return true
}
