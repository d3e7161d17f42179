package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/research-staging-api/internal/dto"
	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/service"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
	"github.com/noah-isme/research-staging-api/pkg/response"
)

type stagingService interface {
	Ingest(ctx context.Context, req service.IngestRequest) ([]models.StagingEntry, error)
	List(ctx context.Context, filter models.StagingFilter) ([]models.StagingEntry, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.StagingEntry, error)
	SetStatus(ctx context.Context, id string, status models.StagingStatus, reviewer string) (*models.StagingEntry, error)
	Revalidate(ctx context.Context, id string) (*models.StagingEntry, error)
	Purge(ctx context.Context, filter models.PurgeFilter) (int64, error)
}

type promoter interface {
	Promote(ctx context.Context, id, reviewer string) (*models.PermanentEntry, error)
}

// StagingHandler exposes the staging review endpoints.
type StagingHandler struct {
	staging  stagingService
	promoter promoter
	now      func() time.Time
}

// NewStagingHandler constructs StagingHandler.
func NewStagingHandler(staging stagingService, promoter promoter) *StagingHandler {
	return &StagingHandler{staging: staging, promoter: promoter, now: time.Now}
}

// Ingest godoc
// @Summary Stage a batch of rows
// @Tags Staging
// @Accept json
// @Produce json
// @Param payload body dto.IngestBatchRequest true "Batch payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /staging/batches [post]
func (h *StagingHandler) Ingest(c *gin.Context) {
	var req dto.IngestBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid batch payload"))
		return
	}
	entries, err := h.staging.Ingest(c.Request.Context(), service.IngestRequest{
		Schema:  req.Schema,
		BatchID: req.BatchID,
		Rows:    req.Rows,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	res := dto.IngestBatchResponse{Staged: len(entries), Entries: entries}
	for _, e := range entries {
		res.BatchID = e.SourceBatchID
		if !e.Validated() {
			res.Invalid++
		}
	}
	response.Created(c, res)
}

// List godoc
// @Summary List staging entries
// @Tags Staging
// @Produce json
// @Param status query string false "PENDING, APPROVED or REJECTED"
// @Param schema query string false "Schema name"
// @Param batch_id query string false "Source batch id"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /staging/entries [get]
func (h *StagingHandler) List(c *gin.Context) {
	filter := models.StagingFilter{
		Schema:        strings.TrimSpace(c.Query("schema")),
		SourceBatchID: strings.TrimSpace(c.Query("batch_id")),
	}
	if status := c.Query("status"); status != "" {
		st := models.StagingStatus(strings.ToUpper(status))
		filter.Status = &st
	}
	filter.Page, filter.PageSize = pageParams(c)

	entries, pagination, err := h.staging.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Get godoc
// @Summary Get staging entry
// @Tags Staging
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /staging/entries/{id} [get]
func (h *StagingHandler) Get(c *gin.Context) {
	entry, err := h.staging.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// SetStatus godoc
// @Summary Approve or reject a staging entry
// @Tags Staging
// @Accept json
// @Produce json
// @Param id path string true "Entry ID"
// @Param payload body dto.SetStatusRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /staging/entries/{id}/status [post]
func (h *StagingHandler) SetStatus(c *gin.Context) {
	var req dto.SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "status required"))
		return
	}
	status := models.StagingStatus(strings.ToUpper(string(req.Status)))
	entry, err := h.staging.SetStatus(c.Request.Context(), c.Param("id"), status, reviewerFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Promote godoc
// @Summary Promote a staging entry to the permanent store
// @Tags Staging
// @Produce json
// @Param id path string true "Entry ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /staging/entries/{id}/promote [post]
func (h *StagingHandler) Promote(c *gin.Context) {
	entry, err := h.promoter.Promote(c.Request.Context(), c.Param("id"), reviewerFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Revalidate godoc
// @Summary Re-run schema validation on a pending entry
// @Tags Staging
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Router /staging/entries/{id}/revalidate [post]
func (h *StagingHandler) Revalidate(c *gin.Context) {
	entry, err := h.staging.Revalidate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}

// Purge godoc
// @Summary Delete staging entries
// @Tags Staging
// @Produce json
// @Param batch_id query string false "Source batch id"
// @Param status query string false "Status"
// @Param older_than query string false "Duration such as 720h or an RFC3339 timestamp"
// @Success 200 {object} response.Envelope
// @Router /staging/entries [delete]
func (h *StagingHandler) Purge(c *gin.Context) {
	filter := models.PurgeFilter{SourceBatchID: strings.TrimSpace(c.Query("batch_id"))}
	if status := c.Query("status"); status != "" {
		st := models.StagingStatus(strings.ToUpper(status))
		filter.Status = &st
	}
	if raw := c.Query("older_than"); raw != "" {
		cutoff, err := parseCutoff(raw, h.now())
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "older_than must be a duration or RFC3339 timestamp"))
			return
		}
		filter.OlderThan = &cutoff
	}

	deleted, err := h.staging.Purge(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.PurgeResponse{Deleted: deleted}, nil)
}

func parseCutoff(raw string, now time.Time) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-d).UTC(), nil
}
