package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-staging-api/internal/models"
)

func TestUpsertMappingOnlyWhenHigher(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	mock.ExpectExec(`INSERT INTO orcid_mappings (.+) WHERE orcid_mappings.confidence < EXCLUDED.confidence`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO orcid_mappings").WillReturnResult(sqlmock.NewResult(0, 0))

	m := &models.OrcidMapping{NameKey: "john smith", InstitutionKey: "mit", ORCID: "0000-0001-2345-6789", Confidence: 0.9, Method: models.MappingMethodMatcher}
	written, err := repo.UpsertMapping(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = repo.UpsertMapping(context.Background(), m)
	require.NoError(t, err)
	assert.False(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMapping(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewIdentityRepository(db)

	mock.ExpectQuery("FROM orcid_mappings WHERE name_key = \\$1 AND institution_key = \\$2").
		WithArgs("john smith", "mit").
		WillReturnRows(sqlmock.NewRows([]string{"name_key", "institution_key", "display_name", "institution", "orcid", "confidence", "method", "updated_at"}).
			AddRow("john smith", "mit", "John Smith", "MIT", "0000-0001-2345-6789", 0.95, "MATCHER", time.Now()))
	mock.ExpectQuery("FROM orcid_mappings").WillReturnError(sql.ErrNoRows)

	m, err := repo.FindMapping(context.Background(), "john smith", "mit")
	require.NoError(t, err)
	assert.Equal(t, 0.95, m.Confidence)

	_, err = repo.FindMapping(context.Background(), "nobody", "mit")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
