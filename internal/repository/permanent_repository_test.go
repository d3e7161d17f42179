package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-staging-api/internal/models"
)

const lockStaging = "SELECT status, validation_errors FROM staging_entries WHERE id = $1 FOR UPDATE"

func promotionParams() PromotionParams {
	reviewer := "u1"
	return PromotionParams{
		StagingID: "s1",
		Entry: &models.PermanentEntry{
			Schema:     "researcher",
			Values:     models.RecordValues{"orcid": "0000-0001-2345-6789"},
			ApprovedAt: time.Now().UTC(),
			ApprovedBy: &reviewer,
		},
		Keys: []models.UniqueKey{{Schema: "researcher", Column: "orcid", Value: "0000-0001-2345-6789"}},
	}
}

func TestPromoteCommits(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPermanentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockStaging)).WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "validation_errors"}).AddRow("PENDING", []byte(`[]`)))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("researcher", "orcid", "0000-0001-2345-6789").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO permanent_entries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO permanent_unique_keys").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE staging_entries SET status = 'APPROVED'").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO orcid_mappings").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p := promotionParams()
	p.Mapping = &models.OrcidMapping{NameKey: "ada lovelace", InstitutionKey: "mit", ORCID: "0000-0001-2345-6789", Confidence: 1, Method: models.MappingMethodManual}
	require.NoError(t, repo.Promote(context.Background(), p))
	assert.NotEmpty(t, p.Entry.ID)
	assert.Equal(t, "s1", p.Entry.SourceStagingID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteRejectsTakenKey(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPermanentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockStaging)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "validation_errors"}).AddRow("PENDING", []byte(`[]`)))
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := repo.Promote(context.Background(), promotionParams())
	assert.True(t, errors.Is(err, ErrUniqueKeyTaken))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPermanentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockStaging)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "validation_errors"}).AddRow("PENDING", []byte(`[]`)))
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO permanent_entries").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO permanent_unique_keys").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err := repo.Promote(context.Background(), promotionParams())
	assert.True(t, errors.Is(err, ErrUniqueKeyTaken))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromotePreconditions(t *testing.T) {
	cases := []struct {
		name   string
		status string
		errs   string
		want   error
	}{
		{name: "already reviewed", status: "REJECTED", errs: `[]`, want: ErrNotPending},
		{name: "invalid entry", status: "PENDING", errs: `[{"column":"age","rule":"type"}]`, want: ErrHasValidationErrors},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, cleanup := newMock(t)
			defer cleanup()
			repo := NewPermanentRepository(db)

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta(lockStaging)).
				WillReturnRows(sqlmock.NewRows([]string{"status", "validation_errors"}).AddRow(tc.status, []byte(tc.errs)))
			mock.ExpectRollback()

			err := repo.Promote(context.Background(), promotionParams())
			assert.ErrorIs(t, err, tc.want)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPromoteMissingEntry(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPermanentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockStaging)).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.Promote(context.Background(), promotionParams())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListWithColumn(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPermanentRepository(db)

	now := time.Now()
	mock.ExpectQuery("FROM permanent_entries WHERE schema_name = \\$1").
		WithArgs("researcher", "orcid").
		WillReturnRows(sqlmock.NewRows([]string{"id", "schema_name", "record_values", "approved_at", "approved_by", "source_staging_id"}).
			AddRow("p1", "researcher", []byte(`{"first_name":"John","orcid":"0000-0001-2345-6789"}`), now, nil, "s1"))

	entries, err := repo.ListWithColumn(context.Background(), "researcher", "orcid")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "0000-0001-2345-6789", entries[0].Values["orcid"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
