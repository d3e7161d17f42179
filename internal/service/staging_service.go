package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/schema"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
)

const batchScanPageSize = 100

type stagingRepository interface {
	CreateBatch(ctx context.Context, entries []*models.StagingEntry) error
	FindByID(ctx context.Context, id string) (*models.StagingEntry, error)
	List(ctx context.Context, filter models.StagingFilter) ([]models.StagingEntry, int, error)
	TransitionStatus(ctx context.Context, id string, status models.StagingStatus, reviewer *string, at time.Time) error
	ReplaceValidation(ctx context.Context, id string, values models.RecordValues, errs models.ValidationErrors, at time.Time) error
	Purge(ctx context.Context, filter models.PurgeFilter) (int64, error)
}

// entryPromoter moves an approved staging entry into the permanent store.
type entryPromoter interface {
	Promote(ctx context.Context, id, reviewer string) (*models.PermanentEntry, error)
}

// IngestRequest carries already tabular rows for one schema.
type IngestRequest struct {
	Schema  string              `validate:"required"`
	BatchID string              `validate:"omitempty,max=200"`
	Rows    []map[string]string `validate:"required,min=1"`
}

// StagingService validates rows into the staging store and drives the review
// state machine.
type StagingService struct {
	repo      stagingRepository
	registry  *schema.Registry
	promoter  entryPromoter
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewStagingService constructs a StagingService. promoter may be nil, in which
// case approval is a plain status change.
func NewStagingService(repo stagingRepository, registry *schema.Registry, promoter entryPromoter, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *StagingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &StagingService{
		repo:      repo,
		registry:  registry,
		promoter:  promoter,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest validates every row with a batch-scoped unique index and stages all
// of them as PENDING in one transaction. Rows with errors are staged too.
func (s *StagingService) Ingest(ctx context.Context, req IngestRequest) ([]models.StagingEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid ingest payload")
	}
	sch, err := s.registry.Get(req.Schema)
	if err != nil {
		return nil, err
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = "manual:" + uuid.NewString()
	}

	index := schema.NewUniqueIndex()
	entries := make([]*models.StagingEntry, 0, len(req.Rows))
	invalid := 0
	for _, row := range req.Rows {
		res := sch.Validate(row, index)
		index.AddKeys(res.UniqueKeys)
		if !res.OK {
			invalid++
		}
		raw := make(models.RawRecord, len(row))
		for k, v := range row {
			raw[k] = v
		}
		entries = append(entries, &models.StagingEntry{
			Schema:           sch.Name(),
			SourceBatchID:    batchID,
			Raw:              raw,
			Values:           res.Values,
			ValidationErrors: res.Errors,
		})
	}

	if err := s.repo.CreateBatch(ctx, entries); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stage batch")
	}
	s.metrics.RecordIngest(sch.Name(), len(entries))
	s.logger.Sugar().Infow("batch staged", "schema", sch.Name(), "batch_id", batchID, "rows", len(entries), "invalid", invalid)

	out := make([]models.StagingEntry, len(entries))
	for i, e := range entries {
		out[i] = *e
	}
	return out, nil
}

// List returns staging entries in insertion order.
func (s *StagingService) List(ctx context.Context, filter models.StagingFilter) ([]models.StagingEntry, *models.Pagination, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
	}
	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list staging entries")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return entries, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one staging entry.
func (s *StagingService) Get(ctx context.Context, id string) (*models.StagingEntry, error) {
	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "staging entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load staging entry")
	}
	return entry, nil
}

// SetStatus applies a terminal review decision. APPROVED goes through the
// promoter when one is configured.
func (s *StagingService) SetStatus(ctx context.Context, id string, status models.StagingStatus, reviewer string) (*models.StagingEntry, error) {
	if !status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be APPROVED or REJECTED")
	}
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "staging entry is already "+string(entry.Status))
	}

	if status == models.StagingStatusApproved {
		if !entry.Validated() {
			return nil, appErrors.Clone(appErrors.ErrNotValidated, "")
		}
		if s.promoter != nil {
			if _, err := s.promoter.Promote(ctx, id, reviewer); err != nil {
				return nil, err
			}
			s.markReviewed(entry, status, reviewer)
			return entry, nil
		}
	}

	if err := s.repo.TransitionStatus(ctx, id, status, optionalString(reviewer), s.now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "staging entry was reviewed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update staging status")
	}
	s.metrics.RecordTransition(string(status))
	s.markReviewed(entry, status, reviewer)
	s.logger.Sugar().Infow("staging status changed", "id", id, "status", status, "reviewer", reviewer)
	return entry, nil
}

// Revalidate re-runs the current schema over a pending entry's raw record.
// Earlier rows of the same batch are replayed first so batch uniqueness is
// judged the same way ingest judged it.
func (s *StagingService) Revalidate(ctx context.Context, id string) (*models.StagingEntry, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.StagingStatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only pending entries can be revalidated")
	}
	sch, err := s.registry.Get(entry.Schema)
	if err != nil {
		return nil, err
	}

	index, err := s.batchIndex(ctx, sch, entry)
	if err != nil {
		return nil, err
	}
	res := sch.Validate(entry.Raw, index)

	now := s.now()
	if err := s.repo.ReplaceValidation(ctx, id, res.Values, res.Errors, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "staging entry was reviewed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store validation result")
	}
	entry.Values = res.Values
	entry.ValidationErrors = res.Errors
	entry.UpdatedAt = now
	return entry, nil
}

// Purge deletes staging entries matching filter. At least one criterion is
// required; approved entries are kept unless APPROVED is asked for explicitly.
func (s *StagingService) Purge(ctx context.Context, filter models.PurgeFilter) (int64, error) {
	if filter.Empty() {
		return 0, appErrors.Clone(appErrors.ErrValidation, "purge requires batch_id, status or older_than")
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return 0, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
	}
	deleted, err := s.repo.Purge(ctx, filter)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge staging entries")
	}
	s.logger.Sugar().Infow("staging entries purged", "batch_id", filter.SourceBatchID, "deleted", deleted)
	return deleted, nil
}

func (s *StagingService) batchIndex(ctx context.Context, sch *schema.Schema, entry *models.StagingEntry) (*schema.UniqueIndex, error) {
	index := schema.NewUniqueIndex()
	if len(sch.UniqueColumns()) == 0 {
		return index, nil
	}
	filter := models.StagingFilter{Schema: entry.Schema, SourceBatchID: entry.SourceBatchID, PageSize: batchScanPageSize}
	for page := 1; ; page++ {
		filter.Page = page
		siblings, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
		}
		for _, sibling := range siblings {
			if sibling.Seq >= entry.Seq {
				return index, nil
			}
			index.AddKeys(sch.Validate(sibling.Raw, index).UniqueKeys)
		}
		if len(siblings) == 0 || page*batchScanPageSize >= total {
			return index, nil
		}
	}
}

func (s *StagingService) markReviewed(entry *models.StagingEntry, status models.StagingStatus, reviewer string) {
	now := s.now()
	entry.Status = status
	entry.ReviewedBy = optionalString(reviewer)
	entry.ReviewedAt = &now
	entry.UpdatedAt = now
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

