package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/repository"
	"github.com/noah-isme/research-staging-api/internal/service"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
	"github.com/noah-isme/research-staging-api/pkg/response"
)

type enrichmentService interface {
	Enrich(ctx context.Context, req service.EnrichRequest) (*service.EnrichmentReport, error)
	QueueRun(ctx context.Context, req service.EnrichRequest, createdBy string) (*models.EnrichmentRun, error)
	GetRun(ctx context.Context, id string) (*models.EnrichmentRun, error)
	ListRuns(ctx context.Context, filter repository.EnrichmentRunFilter) ([]models.EnrichmentRun, *models.Pagination, error)
}

// EnrichmentHandler exposes publication enrichment.
type EnrichmentHandler struct {
	enrichment enrichmentService
}

// NewEnrichmentHandler constructs EnrichmentHandler.
func NewEnrichmentHandler(enrichment enrichmentService) *EnrichmentHandler {
	return &EnrichmentHandler{enrichment: enrichment}
}

// Enrich godoc
// @Summary Fetch and stage publications for a researcher
// @Tags Enrichment
// @Accept json
// @Produce json
// @Param payload body service.EnrichRequest true "Researcher and sources"
// @Success 200 {object} response.Envelope
// @Router /enrichment [post]
func (h *EnrichmentHandler) Enrich(c *gin.Context) {
	var req service.EnrichRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrichment payload"))
		return
	}
	report, err := h.enrichment.Enrich(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// QueueRun godoc
// @Summary Queue an asynchronous enrichment run
// @Tags Enrichment
// @Accept json
// @Produce json
// @Param payload body service.EnrichRequest true "Researcher and sources"
// @Success 202 {object} response.Envelope
// @Router /enrichment/runs [post]
func (h *EnrichmentHandler) QueueRun(c *gin.Context) {
	var req service.EnrichRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid enrichment payload"))
		return
	}
	run, err := h.enrichment.QueueRun(c.Request.Context(), req, reviewerFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, run)
}

// GetRun godoc
// @Summary Get enrichment run status
// @Tags Enrichment
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Router /enrichment/runs/{id} [get]
func (h *EnrichmentHandler) GetRun(c *gin.Context) {
	run, err := h.enrichment.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// ListRuns godoc
// @Summary List enrichment runs
// @Tags Enrichment
// @Produce json
// @Param status query string false "QUEUED, RUNNING, FINISHED or FAILED"
// @Param researcher_key query string false "ORCID or normalized name"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrichment/runs [get]
func (h *EnrichmentHandler) ListRuns(c *gin.Context) {
	filter := repository.EnrichmentRunFilter{ResearcherKey: strings.TrimSpace(c.Query("researcher_key"))}
	if status := c.Query("status"); status != "" {
		st := models.EnrichmentRunStatus(strings.ToUpper(status))
		filter.Status = &st
	}
	filter.Page, filter.PageSize = pageParams(c)

	runs, pagination, err := h.enrichment.ListRuns(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, pagination)
}
