package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"batchfetch/internal/app"
	"batchfetch/internal/config"
	"batchfetch/internal/downloader"
	apphttp "batchfetch/internal/http"
	"batchfetch/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		logrus.Fatalf("setup logger: %v", err)
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwtsecret is empty, the API is unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, err := app.OpenRepositories(ctx, cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer repos.Close()

	storageSvc, err := app.BuildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}

	fetcher, closeFetcher, err := app.BuildFetcher(cfg, logger)
	if err != nil {
		logger.Fatalf("setup fetcher: %v", err)
	}
	defer closeFetcher()

	batchService := service.NewBatchService(repos.Batches, repos.Jobs, cfg.Download.DataDir)
	assetService := service.NewAssetService(repos.Assets, storageSvc, service.AssetConfig{
		Bucket:    cfg.Storage.Bucket,
		KeyPrefix: cfg.Storage.KeyPrefix,
		Logger:    logger,
	})

	manager := downloader.NewManager(downloader.Config{
		MaxBatches: cfg.Download.MaxBatches,
		Coordinator: downloader.CoordinatorConfig{
			MaxWorkers:    cfg.Download.MaxWorkers,
			StrictBatches: cfg.Download.StrictBatches,
			JobTimeout:    cfg.Download.JobTimeout,
		},
		Logger: logger,
	}, batchService, fetcher, assetService)

	if err := manager.Start(ctx); err != nil {
		logger.Fatalf("start manager: %v", err)
	}
	if err := manager.Resume(ctx); err != nil {
		logger.Warnf("resume batches: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(batchService, assetService, manager, apphttp.Options{
		DataRoot:  cfg.Download.DataDir,
		JWTSecret: cfg.Auth.JWTSecret,
		UserAgent: cfg.Download.UserAgent,
		Logger:    logger,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	manager.Shutdown()

	logger.WithFields(logrus.Fields{"addr": cfg.Server.Addr}).Info("bye")
}
