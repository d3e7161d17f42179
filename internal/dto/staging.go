package dto

import "github.com/noah-isme/research-staging-api/internal/models"

// IngestBatchRequest is the payload of POST /staging/batches.
type IngestBatchRequest struct {
	Schema  string              `json:"schema" binding:"required"`
	BatchID string              `json:"batch_id,omitempty"`
	Rows    []map[string]string `json:"rows" binding:"required,min=1"`
}

// IngestBatchResponse summarises a staged batch.
type IngestBatchResponse struct {
	BatchID string                `json:"batch_id"`
	Staged  int                   `json:"staged"`
	Invalid int                   `json:"invalid"`
	Entries []models.StagingEntry `json:"entries"`
}

// SetStatusRequest carries a review decision.
type SetStatusRequest struct {
	Status models.StagingStatus `json:"status" binding:"required"`
}

// PurgeResponse reports how many staging entries were removed.
type PurgeResponse struct {
	Deleted int64 `json:"deleted"`
}
