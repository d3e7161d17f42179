package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/research-staging-api/internal/models"
)

// Promotion precondition failures detected inside the promotion transaction.
var (
	ErrNotPending          = errors.New("staging entry is not pending")
	ErrHasValidationErrors = errors.New("staging entry has validation errors")
	ErrUniqueKeyTaken      = errors.New("unique key already present")
)

const uniqueViolation = "23505"

// PromotionParams describes one promotion. Mapping is optional.
type PromotionParams struct {
	StagingID string
	Entry     *models.PermanentEntry
	Keys      []models.UniqueKey
	Mapping   *models.OrcidMapping
}

// PermanentRepository persists approved records and their unique keys.
type PermanentRepository struct {
	db *sqlx.DB
}

// NewPermanentRepository creates a new instance of PermanentRepository.
func NewPermanentRepository(db *sqlx.DB) *PermanentRepository {
	return &PermanentRepository{db: db}
}

// Promote copies a staging entry into the permanent store in one
// transaction: the staging row is locked, its state re-checked, every unique
// key claimed and the row flipped to APPROVED. Nothing is written on failure.
// A missing staging row yields sql.ErrNoRows.
func (r *PermanentRepository) Promote(ctx context.Context, p PromotionParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promotion tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current struct {
		Status           models.StagingStatus    `db:"status"`
		ValidationErrors models.ValidationErrors `db:"validation_errors"`
	}
	if err = tx.GetContext(ctx, &current, `SELECT status, validation_errors FROM staging_entries WHERE id = $1 FOR UPDATE`, p.StagingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock staging entry: %w", err)
	}
	if current.Status != models.StagingStatusPending {
		err = ErrNotPending
		return err
	}
	if len(current.ValidationErrors) > 0 {
		err = ErrHasValidationErrors
		return err
	}

	for _, key := range p.Keys {
		var taken bool
		if err = tx.GetContext(ctx, &taken, `SELECT EXISTS (SELECT 1 FROM permanent_unique_keys WHERE schema_name = $1 AND column_name = $2 AND value = $3)`, key.Schema, key.Column, key.Value); err != nil {
			return fmt.Errorf("check unique key: %w", err)
		}
		if taken {
			err = fmt.Errorf("%w: %s.%s=%s", ErrUniqueKeyTaken, key.Schema, key.Column, key.Value)
			return err
		}
	}

	entry := p.Entry
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.SourceStagingID = p.StagingID
	const insertEntry = `INSERT INTO permanent_entries (id, schema_name, record_values, approved_at, approved_by, source_staging_id) VALUES (:id, :schema_name, :record_values, :approved_at, :approved_by, :source_staging_id)`
	if _, err = tx.NamedExecContext(ctx, insertEntry, entry); err != nil {
		if isUniqueViolation(err) {
			err = ErrNotPending
			return err
		}
		return fmt.Errorf("insert permanent entry: %w", err)
	}

	const insertKey = `INSERT INTO permanent_unique_keys (schema_name, column_name, value, permanent_id) VALUES ($1, $2, $3, $4)`
	for _, key := range p.Keys {
		if _, err = tx.ExecContext(ctx, insertKey, key.Schema, key.Column, key.Value, entry.ID); err != nil {
			if isUniqueViolation(err) {
				err = fmt.Errorf("%w: %s.%s=%s", ErrUniqueKeyTaken, key.Schema, key.Column, key.Value)
				return err
			}
			return fmt.Errorf("insert unique key: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `UPDATE staging_entries SET status = 'APPROVED', reviewed_by = $2, reviewed_at = $3, updated_at = $3 WHERE id = $1 AND status = 'PENDING'`, p.StagingID, entry.ApprovedBy, entry.ApprovedAt)
	if err != nil {
		return fmt.Errorf("approve staging entry: %w", err)
	}
	if err = requireAffected(res, "approve staging entry"); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNotPending
		}
		return err
	}

	if p.Mapping != nil {
		if _, err = upsertMapping(ctx, tx, p.Mapping, true); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit promotion tx: %w", err)
	}
	return nil
}

// FindByID returns a permanent entry by identifier.
func (r *PermanentRepository) FindByID(ctx context.Context, id string) (*models.PermanentEntry, error) {
	const query = `SELECT id, schema_name, record_values, approved_at, approved_by, source_staging_id FROM permanent_entries WHERE id = $1 LIMIT 1`
	var entry models.PermanentEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find permanent entry: %w", err)
	}
	return &entry, nil
}

// List returns permanent entries, newest approval first, with the total count.
func (r *PermanentRepository) List(ctx context.Context, filter models.PermanentFilter) ([]models.PermanentEntry, int, error) {
	page, pageSize := models.NormalizePage(filter.Page, filter.PageSize)

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "schema_name", "record_values", "approved_at", "approved_by", "source_staging_id").From("permanent_entries")
	if filter.Schema != "" {
		sb.Where(sb.Equal("schema_name", filter.Schema))
	}
	sb.OrderBy("approved_at").Desc()
	sb.Limit(pageSize).Offset((page - 1) * pageSize)
	query, args := sb.Build()

	entries := []models.PermanentEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list permanent entries: %w", err)
	}

	cb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cb.Select("COUNT(*)").From("permanent_entries")
	if filter.Schema != "" {
		cb.Where(cb.Equal("schema_name", filter.Schema))
	}
	countQuery, countArgs := cb.Build()

	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count permanent entries: %w", err)
	}
	return entries, total, nil
}

// ListWithColumn returns every permanent entry of schema whose column is non-empty.
func (r *PermanentRepository) ListWithColumn(ctx context.Context, schema, column string) ([]models.PermanentEntry, error) {
	const query = `SELECT id, schema_name, record_values, approved_at, approved_by, source_staging_id FROM permanent_entries WHERE schema_name = $1 AND COALESCE(record_values ->> $2, '') <> '' ORDER BY approved_at ASC`
	entries := []models.PermanentEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, schema, column); err != nil {
		return nil, fmt.Errorf("list permanent entries with %s: %w", column, err)
	}
	return entries, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
