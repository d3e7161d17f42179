package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/research-staging-api/internal/models"
)

var enrichmentRunColumns = []string{
	"id", "researcher_key", "request", "status", "fetched", "staged", "duplicates", "failures",
	"error_message", "created_by", "created_at", "started_at", "finished_at",
}

// EnrichmentRunFilter constrains run listings.
type EnrichmentRunFilter struct {
	Status        *models.EnrichmentRunStatus
	ResearcherKey string
	Page          int
	PageSize      int
}

// EnrichmentRepository persists enrichment runs.
type EnrichmentRepository struct {
	db *sqlx.DB
}

// NewEnrichmentRepository creates a new instance of EnrichmentRepository.
func NewEnrichmentRepository(db *sqlx.DB) *EnrichmentRepository {
	return &EnrichmentRepository{db: db}
}

// Create inserts a queued run.
func (r *EnrichmentRepository) Create(ctx context.Context, run *models.EnrichmentRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.EnrichmentRunQueued
	}
	const query = `INSERT INTO enrichment_runs (id, researcher_key, request, status, failures, created_by, created_at) VALUES (:id, :researcher_key, :request, :status, :failures, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("create enrichment run: %w", err)
	}
	return nil
}

// MarkRunning flags a run as started.
func (r *EnrichmentRepository) MarkRunning(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE enrichment_runs SET status = 'RUNNING', started_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark enrichment run running: %w", err)
	}
	return nil
}

// Complete stores the final counters and status of a run.
func (r *EnrichmentRepository) Complete(ctx context.Context, run *models.EnrichmentRun) error {
	const query = `UPDATE enrichment_runs SET status = :status, fetched = :fetched, staged = :staged, duplicates = :duplicates, failures = :failures, error_message = :error_message, finished_at = :finished_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("complete enrichment run: %w", err)
	}
	return nil
}

// FindByID returns a run by identifier.
func (r *EnrichmentRepository) FindByID(ctx context.Context, id string) (*models.EnrichmentRun, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(enrichmentRunColumns...).From("enrichment_runs").Where(sb.Equal("id", id))
	query, args := sb.Build()

	var run models.EnrichmentRun
	if err := r.db.GetContext(ctx, &run, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find enrichment run: %w", err)
	}
	return &run, nil
}

// List returns runs, newest first, with the total count.
func (r *EnrichmentRepository) List(ctx context.Context, filter EnrichmentRunFilter) ([]models.EnrichmentRun, int, error) {
	page, pageSize := models.NormalizePage(filter.Page, filter.PageSize)

	apply := func(sb *sqlbuilder.SelectBuilder) {
		if filter.Status != nil {
			sb.Where(sb.Equal("status", string(*filter.Status)))
		}
		if filter.ResearcherKey != "" {
			sb.Where(sb.Equal("researcher_key", filter.ResearcherKey))
		}
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(enrichmentRunColumns...).From("enrichment_runs")
	apply(sb)
	sb.OrderBy("created_at").Desc()
	sb.Limit(pageSize).Offset((page - 1) * pageSize)
	query, args := sb.Build()

	runs := []models.EnrichmentRun{}
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrichment runs: %w", err)
	}

	cb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	cb.Select("COUNT(*)").From("enrichment_runs")
	apply(cb)
	countQuery, countArgs := cb.Build()

	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count enrichment runs: %w", err)
	}
	return runs, total, nil
}
