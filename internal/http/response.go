package http

import (
	"time"

	"batchfetch/internal/ambient"
	"batchfetch/internal/domain"
	"batchfetch/internal/storage"
)

type BatchResponse struct {
	ID           int64              `json:"id"`
	Status       domain.BatchStatus `json:"status"`
	Owner        string             `json:"owner"`
	Context      map[string]string  `json:"context"`
	JobCount     int                `json:"job_count"`
	Succeeded    int                `json:"succeeded"`
	Failed       int                `json:"failed"`
	ErrorMessage string             `json:"error_message,omitempty"`
	CreatedAt    string             `json:"created_at"`
	UpdatedAt    string             `json:"updated_at"`
	StartedAt    *string            `json:"started_at,omitempty"`
	FinishedAt   *string            `json:"finished_at,omitempty"`
	Jobs         []BatchJobResponse `json:"jobs"`
}

type BatchJobResponse struct {
	ID          int64                    `json:"id"`
	Seq         int                      `json:"seq"`
	URL         string                   `json:"url"`
	Path        string                   `json:"path"`
	CreateAsset bool                     `json:"asset"`
	Status      domain.JobStatus         `json:"status"`
	Results     []domain.ExecutionResult `json:"results"`
	FinishedAt  *string                  `json:"finished_at,omitempty"`
}

type AssetResponse struct {
	ID        int64  `json:"id"`
	Key       string `json:"key"`
	Location  string `json:"location"`
	LocalPath string `json:"local_path"`
	Size      int64  `json:"size"`
	Owner     string `json:"owner"`
	Site      string `json:"site"`
	CreatedAt string `json:"created_at"`
}

type StorageObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

// authorization is a credential and never leaves the service
var hiddenContextKeys = []string{ambient.KeyAuthorization}

func formatTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Format(time.RFC3339)
	return &v
}

func batchToResponse(batch domain.Batch) BatchResponse {
	resp := BatchResponse{
		ID:           batch.ID,
		Status:       batch.Status,
		Owner:        batch.Owner,
		Context:      make(map[string]string, len(batch.Context)),
		JobCount:     batch.JobCount,
		Succeeded:    batch.Succeeded,
		Failed:       batch.Failed,
		ErrorMessage: batch.ErrorMessage,
		CreatedAt:    batch.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    batch.UpdatedAt.Format(time.RFC3339),
		StartedAt:    formatTime(batch.StartedAt),
		FinishedAt:   formatTime(batch.FinishedAt),
		Jobs:         make([]BatchJobResponse, len(batch.Jobs)),
	}
	for k, v := range batch.Context {
		resp.Context[k] = v
	}
	for _, k := range hiddenContextKeys {
		delete(resp.Context, k)
	}

	for i, job := range batch.Jobs {
		results := job.Results
		if results == nil {
			results = []domain.ExecutionResult{}
		}
		resp.Jobs[i] = BatchJobResponse{
			ID:          job.ID,
			Seq:         job.Seq,
			URL:         job.URL,
			Path:        job.Path,
			CreateAsset: job.CreateAsset,
			Status:      job.Status,
			Results:     results,
			FinishedAt:  formatTime(job.FinishedAt),
		}
	}
	return resp
}

func assetToResponse(asset domain.Asset) AssetResponse {
	return AssetResponse{
		ID:        asset.ID,
		Key:       asset.Key,
		Location:  asset.Location,
		LocalPath: asset.LocalPath,
		Size:      asset.Size,
		Owner:     asset.Owner,
		Site:      asset.Site,
		CreatedAt: asset.CreatedAt.Format(time.RFC3339),
	}
}

func objectToResponse(obj storage.ObjectInfo) StorageObjectResponse {
	return StorageObjectResponse{
		Key:          obj.Key,
		Size:         obj.Size,
		LastModified: formatTime(obj.LastModified),
	}
}
