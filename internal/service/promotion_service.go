package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/research-staging-api/internal/matching"
	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/repository"
	"github.com/noah-isme/research-staging-api/internal/schema"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
	"github.com/noah-isme/research-staging-api/pkg/keylock"
)

type promotionStagingReader interface {
	FindByID(ctx context.Context, id string) (*models.StagingEntry, error)
}

type permanentRepository interface {
	Promote(ctx context.Context, p repository.PromotionParams) error
	FindByID(ctx context.Context, id string) (*models.PermanentEntry, error)
	List(ctx context.Context, filter models.PermanentFilter) ([]models.PermanentEntry, int, error)
}

// PromotionService approves staging entries into the permanent store.
type PromotionService struct {
	staging   promotionStagingReader
	permanent permanentRepository
	registry  *schema.Registry
	locks     *keylock.Locker
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewPromotionService constructs a PromotionService.
func NewPromotionService(staging promotionStagingReader, permanent permanentRepository, registry *schema.Registry, locks *keylock.Locker, metrics *MetricsService, logger *zap.Logger) *PromotionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &PromotionService{
		staging:   staging,
		permanent: permanent,
		registry:  registry,
		locks:     locks,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Promote approves the staging entry and copies it into the permanent store
// as one atomic step. At most one promotion per unique key succeeds; later
// ones fail with ErrDuplicateKey and leave their entry PENDING.
func (s *PromotionService) Promote(ctx context.Context, id, reviewer string) (*models.PermanentEntry, error) {
	entry, err := s.staging.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "staging entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load staging entry")
	}
	if entry.Status != models.StagingStatusPending {
		return nil, s.fail(appErrors.Clone(appErrors.ErrInvalidTransition, "staging entry is already "+string(entry.Status)))
	}
	if !entry.Validated() {
		return nil, s.fail(appErrors.Clone(appErrors.ErrNotValidated, ""))
	}

	sch, err := s.registry.Get(entry.Schema)
	if err != nil {
		return nil, err
	}
	res := sch.Validate(entry.Raw, nil)
	if !res.OK {
		return nil, s.fail(appErrors.Clone(appErrors.ErrNotValidated, "staging entry no longer matches its schema, revalidate it first"))
	}

	lockKeys := make([]string, len(res.UniqueKeys))
	for i, k := range res.UniqueKeys {
		lockKeys[i] = k.LockKey()
	}
	unlock, err := s.locks.Lock(ctx, lockKeys...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "promotion cancelled")
	}
	defer unlock()

	approvedAt := s.now()
	permanent := &models.PermanentEntry{
		Schema:     entry.Schema,
		Values:     res.Values,
		ApprovedAt: approvedAt,
		ApprovedBy: optionalString(reviewer),
	}
	params := repository.PromotionParams{
		StagingID: id,
		Entry:     permanent,
		Keys:      res.UniqueKeys,
		Mapping:   manualMapping(entry, approvedAt),
	}

	if err := s.permanent.Promote(ctx, params); err != nil {
		return nil, s.fail(translatePromotionError(err))
	}

	s.metrics.RecordPromotion("success")
	s.metrics.RecordTransition(string(models.StagingStatusApproved))
	s.logger.Sugar().Infow("staging entry promoted", "staging_id", id, "permanent_id", permanent.ID, "schema", entry.Schema, "reviewer", reviewer)
	return permanent, nil
}

// GetPermanent returns one permanent entry.
func (s *PromotionService) GetPermanent(ctx context.Context, id string) (*models.PermanentEntry, error) {
	entry, err := s.permanent.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "permanent entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load permanent entry")
	}
	return entry, nil
}

// ListPermanent lists permanent entries, optionally for one schema.
func (s *PromotionService) ListPermanent(ctx context.Context, filter models.PermanentFilter) ([]models.PermanentEntry, *models.Pagination, error) {
	entries, total, err := s.permanent.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list permanent entries")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return entries, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *PromotionService) fail(err *appErrors.Error) error {
	s.metrics.RecordPromotion(err.Code)
	return err
}

func translatePromotionError(err error) *appErrors.Error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "staging entry not found")
	case errors.Is(err, repository.ErrNotPending):
		return appErrors.Clone(appErrors.ErrInvalidTransition, "staging entry was reviewed concurrently")
	case errors.Is(err, repository.ErrHasValidationErrors):
		return appErrors.Clone(appErrors.ErrNotValidated, "")
	case errors.Is(err, repository.ErrUniqueKeyTaken):
		return appErrors.Wrap(err, appErrors.ErrDuplicateKey.Code, appErrors.ErrDuplicateKey.Status, appErrors.ErrDuplicateKey.Message)
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote staging entry")
	}
}

// manualMapping records an approved researcher's ORCID as a confirmed mapping.
func manualMapping(entry *models.StagingEntry, at time.Time) *models.OrcidMapping {
	if entry.Schema != models.SchemaResearcher {
		return nil
	}
	orcid := matching.NormalizeORCID(entry.Raw["orcid"])
	if !matching.ValidORCID(orcid) {
		return nil
	}
	name := strings.TrimSpace(strings.TrimSpace(entry.Raw["first_name"]) + " " + strings.TrimSpace(entry.Raw["last_name"]))
	institution := strings.TrimSpace(entry.Raw["institution"])
	if name == "" {
		return nil
	}
	return &models.OrcidMapping{
		NameKey:        matching.Normalize(name),
		InstitutionKey: matching.Normalize(institution),
		Name:           name,
		Institution:    institution,
		ORCID:          orcid,
		Confidence:     1.0,
		Method:         models.MappingMethodManual,
		UpdatedAt:      at,
	}
}
