package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/research-staging-api/internal/dto"
	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/service"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
	"github.com/noah-isme/research-staging-api/pkg/response"
)

type identityService interface {
	Resolve(ctx context.Context, req service.ResolveRequest) (*service.IdentityResolution, error)
	Mapping(ctx context.Context, name, institution string) (*models.OrcidMapping, error)
	Search(ctx context.Context, req service.SearchRequest) ([]models.ResearcherIdentity, error)
}

type profileImporter interface {
	Profile(ctx context.Context, id string) (*models.ResearcherProfile, error)
	Import(ctx context.Context, req service.ImportProfilesRequest) (*service.ProfileImportReport, error)
}

// IdentityHandler exposes ORCID resolution, search and profile import.
type IdentityHandler struct {
	identities identityService
	profiles   profileImporter
}

// NewIdentityHandler constructs IdentityHandler.
func NewIdentityHandler(identities identityService, profiles profileImporter) *IdentityHandler {
	return &IdentityHandler{identities: identities, profiles: profiles}
}

// Resolve godoc
// @Summary Resolve a researcher to an ORCID
// @Tags Identities
// @Accept json
// @Produce json
// @Param payload body dto.ResolveIdentityRequest true "Researcher"
// @Success 200 {object} response.Envelope
// @Router /identities/resolve [post]
func (h *IdentityHandler) Resolve(c *gin.Context) {
	var req dto.ResolveIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid resolve payload"))
		return
	}
	res, err := h.identities.Resolve(c.Request.Context(), service.ResolveRequest{
		Name:        req.Name,
		Institution: req.Institution,
		Keywords:    req.Keywords,
		Candidates:  req.Candidates,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Mapping godoc
// @Summary Get the stored ORCID mapping
// @Tags Identities
// @Produce json
// @Param name query string true "Researcher name"
// @Param institution query string false "Institution"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /identities/mapping [get]
func (h *IdentityHandler) Mapping(c *gin.Context) {
	m, err := h.identities.Mapping(c.Request.Context(), c.Query("name"), c.Query("institution"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, m, nil)
}

// Search godoc
// @Summary Search the ORCID registry
// @Tags Identities
// @Produce json
// @Param name query string true "Researcher name"
// @Param institution query string false "Institution"
// @Param keywords query string false "Comma separated keywords"
// @Param rows query int false "Maximum results"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /identities/orcid/search [get]
func (h *IdentityHandler) Search(c *gin.Context) {
	req := service.SearchRequest{
		Name:        strings.TrimSpace(c.Query("name")),
		Institution: strings.TrimSpace(c.Query("institution")),
	}
	for _, kw := range strings.Split(c.Query("keywords"), ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			req.Keywords = append(req.Keywords, kw)
		}
	}
	if raw := c.Query("rows"); raw != "" {
		rows, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "rows must be an integer"))
			return
		}
		req.Rows = rows
	}

	found, err := h.identities.Search(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, found, nil)
}

// Profile godoc
// @Summary Read a public ORCID record
// @Tags Identities
// @Produce json
// @Param orcid path string true "ORCID iD"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /identities/orcid/{orcid} [get]
func (h *IdentityHandler) Profile(c *gin.Context) {
	p, err := h.profiles.Profile(c.Request.Context(), c.Param("orcid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, p, nil)
}

// Import godoc
// @Summary Stage researchers from public ORCID records
// @Tags Identities
// @Accept json
// @Produce json
// @Param payload body dto.ImportProfilesRequest true "ORCID iDs"
// @Success 201 {object} response.Envelope
// @Router /identities/orcid/import [post]
func (h *IdentityHandler) Import(c *gin.Context) {
	var req dto.ImportProfilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid import payload"))
		return
	}
	report, err := h.profiles.Import(c.Request.Context(), service.ImportProfilesRequest{ORCIDs: req.ORCIDs, BatchID: req.BatchID})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, report)
}
