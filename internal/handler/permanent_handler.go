package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/pkg/response"
)

type permanentReader interface {
	GetPermanent(ctx context.Context, id string) (*models.PermanentEntry, error)
	ListPermanent(ctx context.Context, filter models.PermanentFilter) ([]models.PermanentEntry, *models.Pagination, error)
}

// PermanentHandler exposes approved records.
type PermanentHandler struct {
	reader permanentReader
}

// NewPermanentHandler constructs PermanentHandler.
func NewPermanentHandler(reader permanentReader) *PermanentHandler {
	return &PermanentHandler{reader: reader}
}

// List godoc
// @Summary List permanent entries
// @Tags Permanent
// @Produce json
// @Param schema query string false "Schema name"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /permanent/entries [get]
func (h *PermanentHandler) List(c *gin.Context) {
	filter := models.PermanentFilter{Schema: strings.TrimSpace(c.Query("schema"))}
	filter.Page, filter.PageSize = pageParams(c)

	entries, pagination, err := h.reader.ListPermanent(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Get godoc
// @Summary Get permanent entry
// @Tags Permanent
// @Produce json
// @Param id path string true "Entry ID"
// @Success 200 {object} response.Envelope
// @Router /permanent/entries/{id} [get]
func (h *PermanentHandler) Get(c *gin.Context) {
	entry, err := h.reader.GetPermanent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entry, nil)
}
