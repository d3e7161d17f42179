package dto

import "github.com/noah-isme/research-staging-api/internal/models"

// ReportRequest captures POST /staging/reports payload.
type ReportRequest struct {
	Format  models.ReportFormat `json:"format" binding:"required"`
	Schema  string              `json:"schema,omitempty"`
	BatchID string              `json:"batch_id,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
}
