package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"batchfetch/internal/ambient"
	"batchfetch/internal/domain"
	"batchfetch/internal/downloader"
	"batchfetch/internal/repository"
	"batchfetch/internal/service"
)

const (
	defaultURLExpiry = 15 * time.Minute
	// S3 rejects presigned URLs valid for longer than a week.
	maxURLExpiry = 7 * 24 * time.Hour
)

type Options struct {
	DataRoot string
	// JWTSecret enables bearer authentication on every route except health.
	JWTSecret string
	// UserAgent is sent on outbound fetches started through the API.
	UserAgent string
	Logger    *logrus.Logger
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	batches service.BatchService
	assets  service.AssetService
	manager downloader.Manager
	opts    Options
}

func NewHandler(batches service.BatchService, assets service.AssetService, manager downloader.Manager, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Handler{
		batches: batches,
		assets:  assets,
		manager: manager,
		opts:    opts,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	router.GET("/api/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := router.Group("/api")
	if h.opts.JWTSecret != "" {
		api.Use(authMiddleware(h.opts.JWTSecret))
	}
	api.Use(ambientMiddleware(h.opts.UserAgent, h.opts.Logger))
	{
		api.POST("/batches", h.createBatch)
		api.GET("/batches", h.listBatches)
		api.GET("/batches/:id", h.getBatch)
		api.DELETE("/batches/:id", h.deleteBatch)
		api.GET("/assets", h.listAssets)
		api.GET("/assets/:id/url", h.assetURL)
		api.DELETE("/assets/:id", h.deleteAsset)
		api.GET("/storage/objects", h.listObjects)
	}
}

type createBatchRequest struct {
	Jobs []jobRequest `json:"jobs" binding:"required,min=1,dive"`
}

type jobRequest struct {
	URL   string `json:"url"`
	Path  string `json:"path"`
	Asset bool   `json:"asset"`
}

func (h *Handler) createBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobs := make([]domain.DownloadJob, len(req.Jobs))
	for i, j := range req.Jobs {
		jobs[i] = domain.NewDownloadJob(j.Path, j.URL, j.Asset)
	}

	info := ambient.FromContext(c.Request.Context())
	batch, err := h.batches.CreateBatch(c.Request.Context(), info.User(), info, jobs)
	if err != nil {
		h.fail(c, err)
		return
	}

	if err := h.manager.Enqueue(c.Request.Context(), batch.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.opts.Logger.WithFields(logrus.Fields{
		"batch_id":   batch.ID,
		"jobs":       batch.JobCount,
		"request_id": info.Get(ambient.KeyRequestID),
	}).Info("batch accepted")
	c.JSON(http.StatusAccepted, batchToResponse(*batch))
}

func (h *Handler) listBatches(c *gin.Context) {
	batches, err := h.batches.ListBatches(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := make([]BatchResponse, len(batches))
	for i := range batches {
		resp[i] = batchToResponse(batches[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getBatch(c *gin.Context) {
	id, ok := parseID(c, "batch")
	if !ok {
		return
	}

	batch, err := h.batches.GetBatch(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, batchToResponse(*batch))
}

// deleteBatch cancels a running batch, then removes it. With
// delete_files=true the fetched files inside the data root go too.
func (h *Handler) deleteBatch(c *gin.Context) {
	id, ok := parseID(c, "batch")
	if !ok {
		return
	}

	deleteFiles, err := strconv.ParseBool(c.DefaultQuery("delete_files", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_files"})
		return
	}

	batch, err := h.batches.GetBatch(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	var warnings []string
	cancelCtx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := h.manager.Cancel(cancelCtx, batch.ID); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		warnings = append(warnings, fmt.Sprintf("cancel batch: %v", err))
	}

	if deleteFiles {
		warnings = append(warnings, h.cleanupLocalData(batch)...)
	}

	if err := h.batches.DeleteBatch(c.Request.Context(), batch.ID); err != nil {
		h.fail(c, err)
		return
	}

	resp := gin.H{"deleted": batch.ID}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

// cleanupLocalData removes job destinations that lie inside the data root.
func (h *Handler) cleanupLocalData(batch *domain.Batch) []string {
	root := filepath.Clean(h.opts.DataRoot)
	var warnings []string
	for _, job := range batch.Jobs {
		if job.Path == "" {
			continue
		}
		clean := filepath.Clean(job.Path)
		if rel, err := filepath.Rel(root, clean); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		if err := os.RemoveAll(clean); err != nil && !os.IsNotExist(err) {
			warnings = append(warnings, fmt.Sprintf("remove local data %s: %v", clean, err))
		}
	}
	return warnings
}

func (h *Handler) listAssets(c *gin.Context) {
	assets, err := h.assets.ListAssets(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := make([]AssetResponse, len(assets))
	for i := range assets {
		resp[i] = assetToResponse(assets[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) assetURL(c *gin.Context) {
	id, ok := parseID(c, "asset")
	if !ok {
		return
	}

	expires, err := time.ParseDuration(c.DefaultQuery("expires", defaultURLExpiry.String()))
	if err != nil || expires <= 0 || expires > maxURLExpiry {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expires"})
		return
	}

	url, err := h.assets.AssetURL(c.Request.Context(), id, expires)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"expires_at": time.Now().Add(expires).Format(time.RFC3339),
	})
}

func (h *Handler) deleteAsset(c *gin.Context) {
	id, ok := parseID(c, "asset")
	if !ok {
		return
	}

	deleteRemote, err := strconv.ParseBool(c.DefaultQuery("delete_remote", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_remote"})
		return
	}

	remoteCtx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	if err := h.assets.DeleteAsset(remoteCtx, id, deleteRemote); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *Handler) listObjects(c *gin.Context) {
	objects, err := h.assets.ListObjects(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func parseID(c *gin.Context, kind string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + kind + " id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrBatchNotFound), errors.Is(err, repository.ErrAssetNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNoJobs), errors.Is(err, service.ErrPathOutsideRoot):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrStorageDisabled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.opts.Logger.WithField("path", c.FullPath()).Errorf("request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
