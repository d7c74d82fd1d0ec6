package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	Download struct {
		DataDir       string
		MaxWorkers    int
		MaxBatches    int
		JobTimeout    time.Duration
		StrictBatches bool
		UserAgent     string
		AllowMIME     []string
		BlockPrivate  bool
		MaxBytes      int64
	}
	Torrent struct {
		Enabled bool
		DataDir string
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		JWTSecret       string
		TokenTTLMinutes int
	}
	Log LogConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables and optional config files.
// Variables use the BATCHFETCH_ prefix, e.g. BATCHFETCH_DOWNLOAD_MAXWORKERS.
func Load() (Config, error) {
	// .env never overrides variables that are already set
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("BATCHFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if path := os.Getenv("BATCHFETCH_CONFIG"); path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/batchfetch.db")
	v.SetDefault("download.datadir", "data/downloads")
	v.SetDefault("download.maxworkers", 6)
	v.SetDefault("download.maxbatches", 2)
	v.SetDefault("download.jobtimeout", "0s")
	v.SetDefault("download.strictbatches", false)
	v.SetDefault("download.useragent", "batchfetch/1.0")
	v.SetDefault("download.allowmime", []string{})
	v.SetDefault("download.blockprivate", true)
	v.SetDefault("download.maxbytes", 0)
	v.SetDefault("torrent.enabled", false)
	v.SetDefault("torrent.datadir", "data/torrents")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "assets")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.tokenttlminutes", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func (c Config) validate() error {
	if c.Download.MaxWorkers <= 0 {
		return fmt.Errorf("download.maxworkers must be positive, got %d", c.Download.MaxWorkers)
	}
	if c.Download.MaxBatches <= 0 {
		return fmt.Errorf("download.maxbatches must be positive, got %d", c.Download.MaxBatches)
	}
	if c.Download.JobTimeout < 0 {
		return fmt.Errorf("download.jobtimeout must not be negative")
	}
	if strings.TrimSpace(c.Download.DataDir) == "" {
		return fmt.Errorf("download.datadir is required")
	}
	return nil
}

// NewLogger builds the process logger. Format is "text" or "json".
func (c LogConfig) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(c.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", c.Format)
	}
	return logger, nil
}
