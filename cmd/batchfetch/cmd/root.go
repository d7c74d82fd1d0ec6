package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"batchfetch/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "batchfetch",
	Short: "Fetch batches of files with bounded parallelism",
	Long: `batchfetch downloads lists of http(s) and magnet URLs into local files,
running a bounded number of jobs at once, and can register each fetched
file as an asset in S3 compatible object storage.

Configuration is read from ./config.yaml, BATCHFETCH_* environment
variables and an optional .env file.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func loadConfig() (config.Config, *logrus.Logger, error) {
	if cfgFile != "" {
		if err := os.Setenv("BATCHFETCH_CONFIG", cfgFile); err != nil {
			return config.Config{}, nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger.SetOutput(os.Stderr)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return cfg, logger, nil
}
