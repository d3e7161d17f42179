package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/research-staging-api/internal/matching"
	"github.com/noah-isme/research-staging-api/internal/models"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
)

const candidateCacheKey = "identity:candidates:" + models.SchemaResearcher

type candidateRepository interface {
	ListWithColumn(ctx context.Context, schema, column string) ([]models.PermanentEntry, error)
}

// remoteCandidateSearcher finds candidate identities in an external registry.
type remoteCandidateSearcher interface {
	Search(ctx context.Context, q models.ResearcherIdentity, rows int) ([]models.ResearcherIdentity, error)
}

type mappingRepository interface {
	FindMapping(ctx context.Context, nameKey, institutionKey string) (*models.OrcidMapping, error)
	UpsertMapping(ctx context.Context, m *models.OrcidMapping) (bool, error)
}

// ResolveRequest asks for the ORCID of a researcher. Without explicit
// candidates the approved researchers carrying an ORCID are used.
type ResolveRequest struct {
	Name        string                      `validate:"required"`
	Institution string                      `validate:"omitempty,max=300"`
	Keywords    []string                    `validate:"omitempty,dive,max=200"`
	Candidates  []models.ResearcherIdentity `validate:"omitempty,dive"`
}

// Where the candidates of a resolution came from.
const (
	CandidateOriginRequest = "request"
	CandidateOriginStore   = "store"
	CandidateOriginORCID   = "orcid"
)

// SearchRequest asks the ORCID registry for researchers by name.
type SearchRequest struct {
	Name        string   `validate:"required"`
	Institution string   `validate:"omitempty,max=300"`
	Keywords    []string `validate:"omitempty,dive,max=200"`
	Rows        int      `validate:"omitempty,min=1,max=200"`
}

// IdentityResolution is a matcher result plus whether it updated the stored mapping.
type IdentityResolution struct {
	matching.Result
	Recorded        bool   `json:"recorded"`
	CandidateOrigin string `json:"candidate_origin"`
}

// IdentityService resolves researcher identities to ORCIDs.
type IdentityService struct {
	candidates candidateRepository
	mappings   mappingRepository
	remote     remoteCandidateSearcher
	remoteRows int
	matcher    *matching.Matcher
	cache      *CacheService
	cacheTTL   time.Duration
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewIdentityService constructs an IdentityService.
func NewIdentityService(candidates candidateRepository, mappings mappingRepository, matcher *matching.Matcher, cache *CacheService, cacheTTL time.Duration, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &IdentityService{
		candidates: candidates,
		mappings:   mappings,
		matcher:    matcher,
		cache:      cache,
		cacheTTL:   cacheTTL,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
	}
}

// SetRemote wires the registry searched when no approved researcher can be a
// candidate. Call it before serving; rows caps each search.
func (s *IdentityService) SetRemote(remote remoteCandidateSearcher, rows int) {
	s.remote = remote
	s.remoteRows = rows
}

// Resolve scores the candidates and, on a match, records the mapping when it
// beats the stored confidence for the name and institution pair. Without
// request or stored candidates the remote registry is searched.
func (s *IdentityService) Resolve(ctx context.Context, req ResolveRequest) (*IdentityResolution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resolve payload")
	}

	candidates, origin := req.Candidates, CandidateOriginRequest
	if len(candidates) == 0 {
		loaded, err := s.loadCandidates(ctx)
		if err != nil {
			return nil, err
		}
		candidates, origin = loaded, CandidateOriginStore
	}
	if len(candidates) == 0 && s.remote != nil {
		found, err := s.remote.Search(ctx, models.ResearcherIdentity{Name: req.Name, Institution: req.Institution, Keywords: req.Keywords}, s.remoteRows)
		if err != nil {
			s.logger.Sugar().Warnw("remote candidate search failed", "name", req.Name, "error", err)
		}
		candidates, origin = found, CandidateOriginORCID
	}

	res := s.matcher.Resolve(matching.Query{Name: req.Name, Institution: req.Institution, Keywords: req.Keywords}, candidates)
	s.metrics.RecordResolution(string(res.Outcome))
	out := &IdentityResolution{Result: res, CandidateOrigin: origin}
	if res.Outcome != matching.OutcomeMatched {
		s.logger.Sugar().Infow("identity unresolved", "name", req.Name, "outcome", res.Outcome, "candidates", len(candidates))
		return out, nil
	}

	written, err := s.mappings.UpsertMapping(ctx, &models.OrcidMapping{
		NameKey:        matching.Normalize(req.Name),
		InstitutionKey: matching.Normalize(req.Institution),
		Name:           strings.TrimSpace(req.Name),
		Institution:    strings.TrimSpace(req.Institution),
		ORCID:          res.ORCID,
		Confidence:     res.Score,
		Method:         models.MappingMethodMatcher,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record orcid mapping")
	}
	out.Recorded = written
	s.logger.Sugar().Infow("identity resolved", "name", req.Name, "orcid", res.ORCID, "score", res.Score, "recorded", written)
	return out, nil
}

// Search queries the remote registry directly, bypassing the matcher.
func (s *IdentityService) Search(ctx context.Context, req SearchRequest) ([]models.ResearcherIdentity, error) {
	if s.remote == nil {
		return nil, appErrors.Clone(appErrors.ErrDisabled, "orcid search is disabled")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid search payload")
	}
	rows := req.Rows
	if rows == 0 {
		rows = s.remoteRows
	}
	found, err := s.remote.Search(ctx, models.ResearcherIdentity{Name: req.Name, Institution: req.Institution, Keywords: req.Keywords}, rows)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "orcid search failed")
	}
	return found, nil
}

// Mapping returns the stored mapping for a name and institution.
func (s *IdentityService) Mapping(ctx context.Context, name, institution string) (*models.OrcidMapping, error) {
	if strings.TrimSpace(name) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "name is required")
	}
	m, err := s.mappings.FindMapping(ctx, matching.Normalize(name), matching.Normalize(institution))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no orcid mapping for researcher")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load orcid mapping")
	}
	return m, nil
}

// LookupORCID returns the mapped ORCID or "" when none is stored.
func (s *IdentityService) LookupORCID(ctx context.Context, name, institution string) (string, error) {
	m, err := s.Mapping(ctx, name, institution)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return m.ORCID, nil
}

// Candidates returns approved researchers that carry an ORCID.
func (s *IdentityService) Candidates(ctx context.Context) ([]models.ResearcherIdentity, error) {
	return s.loadCandidates(ctx)
}

// InvalidateCandidates drops the cached candidate list.
func (s *IdentityService) InvalidateCandidates(ctx context.Context) error {
	return s.cache.Invalidate(ctx, candidateCacheKey)
}

func (s *IdentityService) loadCandidates(ctx context.Context) ([]models.ResearcherIdentity, error) {
	var cached []models.ResearcherIdentity
	if hit, err := s.cache.Get(ctx, candidateCacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	entries, err := s.candidates.ListWithColumn(ctx, models.SchemaResearcher, "orcid")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load researcher candidates")
	}
	candidates := make([]models.ResearcherIdentity, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, ResearcherFromValues(e.Values))
	}
	_ = s.cache.Set(ctx, candidateCacheKey, candidates, s.cacheTTL)
	return candidates, nil
}

// ResearcherFromValues builds an identity from researcher schema values.
func ResearcherFromValues(values models.RecordValues) models.ResearcherIdentity {
	name := strings.TrimSpace(valueString(values["first_name"]) + " " + valueString(values["last_name"]))
	return models.ResearcherIdentity{
		Name:        name,
		ORCID:       matching.NormalizeORCID(valueString(values["orcid"])),
		Institution: valueString(values["institution"]),
		Keywords:    matching.SplitKeywords(valueString(values["keywords"])),
	}
}

func valueString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
