package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/research-staging-api/internal/models"
)

// IdentityRepository stores resolved ORCID mappings.
type IdentityRepository struct {
	db *sqlx.DB
}

// NewIdentityRepository creates a new instance of IdentityRepository.
func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// FindMapping returns the mapping for a normalized name and institution.
func (r *IdentityRepository) FindMapping(ctx context.Context, nameKey, institutionKey string) (*models.OrcidMapping, error) {
	const query = `SELECT name_key, institution_key, display_name, institution, orcid, confidence, method, updated_at FROM orcid_mappings WHERE name_key = $1 AND institution_key = $2 LIMIT 1`
	var m models.OrcidMapping
	if err := r.db.GetContext(ctx, &m, query, nameKey, institutionKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find orcid mapping: %w", err)
	}
	return &m, nil
}

// UpsertMapping stores m unless an existing mapping for the pair has equal
// or higher confidence. It reports whether a row was written.
func (r *IdentityRepository) UpsertMapping(ctx context.Context, m *models.OrcidMapping) (bool, error) {
	return upsertMapping(ctx, r.db, m, false)
}

func upsertMapping(ctx context.Context, db sqlx.ExtContext, m *models.OrcidMapping, allowEqual bool) (bool, error) {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	cmp := "<"
	if allowEqual {
		cmp = "<="
	}
	query := `INSERT INTO orcid_mappings (name_key, institution_key, display_name, institution, orcid, confidence, method, updated_at)
VALUES (:name_key, :institution_key, :display_name, :institution, :orcid, :confidence, :method, :updated_at)
ON CONFLICT (name_key, institution_key)
DO UPDATE SET display_name = EXCLUDED.display_name, institution = EXCLUDED.institution, orcid = EXCLUDED.orcid,
              confidence = EXCLUDED.confidence, method = EXCLUDED.method, updated_at = EXCLUDED.updated_at
WHERE orcid_mappings.confidence ` + cmp + ` EXCLUDED.confidence`
	res, err := sqlx.NamedExecContext(ctx, db, query, m)
	if err != nil {
		return false, fmt.Errorf("upsert orcid mapping: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert orcid mapping: %w", err)
	}
	return n > 0, nil
}
