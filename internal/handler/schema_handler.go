package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/research-staging-api/internal/dto"
	"github.com/noah-isme/research-staging-api/internal/schema"
	"github.com/noah-isme/research-staging-api/pkg/response"
)

// SchemaHandler exposes the loaded schema registry.
type SchemaHandler struct {
	registry *schema.Registry
}

// NewSchemaHandler constructs SchemaHandler.
func NewSchemaHandler(registry *schema.Registry) *SchemaHandler {
	return &SchemaHandler{registry: registry}
}

// List godoc
// @Summary List schemas
// @Tags Schemas
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /schemas [get]
func (h *SchemaHandler) List(c *gin.Context) {
	names := h.registry.Names()
	out := make([]dto.SchemaDescriptor, 0, len(names))
	for _, name := range names {
		s, err := h.registry.Get(name)
		if err != nil {
			response.Error(c, err)
			return
		}
		out = append(out, dto.SchemaDescriptor{Name: name, Columns: s.Columns()})
	}
	response.JSON(c, http.StatusOK, out, nil)
}
