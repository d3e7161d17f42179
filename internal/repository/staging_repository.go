package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/research-staging-api/internal/models"
)

var stagingColumns = []string{
	"id", "seq", "schema_name", "source_batch_id", "status", "raw_record", "record_values",
	"validation_errors", "reviewed_by", "reviewed_at", "created_at", "updated_at",
}

const (
	researcherKeyExpr = "raw_record ->> 'researcher_key'"
	externalIDExpr    = "lower(btrim(raw_record ->> 'external_id'))"
)

// StagingRepository persists staging entries.
type StagingRepository struct {
	db *sqlx.DB
}

// NewStagingRepository creates a new instance of StagingRepository.
func NewStagingRepository(db *sqlx.DB) *StagingRepository {
	return &StagingRepository{db: db}
}

// CreateBatch inserts every entry in one transaction as PENDING and fills in
// the generated identifiers.
func (r *StagingRepository) CreateBatch(ctx context.Context, entries []*models.StagingEntry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin staging batch tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO staging_entries (id, schema_name, source_batch_id, status, raw_record, record_values, validation_errors, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING seq`
	now := time.Now().UTC()
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		entry.Status = models.StagingStatusPending
		entry.CreatedAt = now
		entry.UpdatedAt = now
		if err = tx.QueryRowxContext(ctx, query,
			entry.ID, entry.Schema, entry.SourceBatchID, entry.Status,
			entry.Raw, entry.Values, entry.ValidationErrors, entry.CreatedAt, entry.UpdatedAt,
		).Scan(&entry.Seq); err != nil {
			return fmt.Errorf("insert staging entry: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit staging batch tx: %w", err)
	}
	return nil
}

// FindByID returns a staging entry by identifier.
func (r *StagingRepository) FindByID(ctx context.Context, id string) (*models.StagingEntry, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(stagingColumns...).From("staging_entries").Where(sb.Equal("id", id))
	query, args := sb.Build()

	var entry models.StagingEntry
	if err := r.db.GetContext(ctx, &entry, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find staging entry: %w", err)
	}
	return &entry, nil
}

// List returns staging entries in insertion order together with the total count.
func (r *StagingRepository) List(ctx context.Context, filter models.StagingFilter) ([]models.StagingEntry, int, error) {
	page, pageSize := models.NormalizePage(filter.Page, filter.PageSize)

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(stagingColumns...).From("staging_entries")
	applyStagingFilter(sb, filter)
	sb.OrderBy("seq").Asc()
	sb.Limit(pageSize).Offset((page - 1) * pageSize)
	query, args := sb.Build()

	entries := []models.StagingEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list staging entries: %w", err)
	}

	cb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cb.Select("COUNT(*)").From("staging_entries")
	applyStagingFilter(cb, filter)
	countQuery, countArgs := cb.Build()

	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count staging entries: %w", err)
	}
	return entries, total, nil
}

// ListInvalid returns up to limit entries carrying validation errors.
func (r *StagingRepository) ListInvalid(ctx context.Context, filter models.StagingFilter, limit int) ([]models.StagingEntry, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(stagingColumns...).From("staging_entries")
	applyStagingFilter(sb, filter)
	sb.Where("jsonb_array_length(validation_errors) > 0")
	sb.OrderBy("seq").Asc()
	sb.Limit(limit)
	query, args := sb.Build()

	entries := []models.StagingEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list invalid staging entries: %w", err)
	}
	return entries, nil
}

// ListByResearcherKey returns every staged entry of schema tagged with the researcher key.
func (r *StagingRepository) ListByResearcherKey(ctx context.Context, schema, researcherKey string) ([]models.StagingEntry, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(stagingColumns...).From("staging_entries")
	sb.Where(sb.Equal("schema_name", schema), sb.Equal(researcherKeyExpr, researcherKey))
	sb.OrderBy("seq").Asc()
	query, args := sb.Build()

	entries := []models.StagingEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list staging entries by researcher: %w", err)
	}
	return entries, nil
}

// ListByExternalIDs returns staged entries of schema whose external_id matches
// one of ids, compared trimmed and case-insensitively, whatever researcher
// key they were staged under.
func (r *StagingRepository) ListByExternalIDs(ctx context.Context, schema string, ids []string) ([]models.StagingEntry, error) {
	entries := []models.StagingEntry{}
	keys := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			keys = append(keys, id)
		}
	}
	if len(keys) == 0 {
		return entries, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(stagingColumns...).From("staging_entries")
	sb.Where(sb.Equal("schema_name", schema), sb.In(externalIDExpr, keys...))
	sb.OrderBy("seq").Asc()
	query, args := sb.Build()

	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list staging entries by external id: %w", err)
	}
	return entries, nil
}

// TransitionStatus moves a PENDING entry to status. It returns sql.ErrNoRows
// when no PENDING row with the id exists.
func (r *StagingRepository) TransitionStatus(ctx context.Context, id string, status models.StagingStatus, reviewer *string, at time.Time) error {
	const query = `UPDATE staging_entries SET status = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $4 WHERE id = $1 AND status = 'PENDING'`
	res, err := r.db.ExecContext(ctx, query, id, status, reviewer, at)
	if err != nil {
		return fmt.Errorf("transition staging entry: %w", err)
	}
	return requireAffected(res, "transition staging entry")
}

// ReplaceValidation stores fresh validation output on a PENDING entry. It
// returns sql.ErrNoRows when no PENDING row with the id exists.
func (r *StagingRepository) ReplaceValidation(ctx context.Context, id string, values models.RecordValues, errs models.ValidationErrors, at time.Time) error {
	const query = `UPDATE staging_entries SET record_values = $2, validation_errors = $3, updated_at = $4 WHERE id = $1 AND status = 'PENDING'`
	res, err := r.db.ExecContext(ctx, query, id, values, errs, at)
	if err != nil {
		return fmt.Errorf("replace staging validation: %w", err)
	}
	return requireAffected(res, "replace staging validation")
}

// Purge deletes entries matching every set criterion. APPROVED entries are
// only removed when the filter asks for them by status.
func (r *StagingRepository) Purge(ctx context.Context, filter models.PurgeFilter) (int64, error) {
	del := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	del.DeleteFrom("staging_entries")
	var conds []string
	if filter.SourceBatchID != "" {
		conds = append(conds, del.Equal("source_batch_id", filter.SourceBatchID))
	}
	if filter.Status != nil {
		conds = append(conds, del.Equal("status", string(*filter.Status)))
	} else {
		conds = append(conds, del.NotEqual("status", string(models.StagingStatusApproved)))
	}
	if filter.OlderThan != nil {
		conds = append(conds, del.LessThan("created_at", *filter.OlderThan))
	}
	del.Where(conds...)
	query, args := del.Build()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge staging entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge staging entries: %w", err)
	}
	return n, nil
}

func applyStagingFilter(sb *sqlbuilder.SelectBuilder, filter models.StagingFilter) {
	if filter.Status != nil {
		sb.Where(sb.Equal("status", string(*filter.Status)))
	}
	if filter.Schema != "" {
		sb.Where(sb.Equal("schema_name", filter.Schema))
	}
	if filter.SourceBatchID != "" {
		sb.Where(sb.Equal("source_batch_id", filter.SourceBatchID))
	}
	if filter.ResearcherKey != "" {
		sb.Where(sb.Equal(researcherKeyExpr, filter.ResearcherKey))
	}
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
