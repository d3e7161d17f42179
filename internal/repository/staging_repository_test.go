package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-staging-api/internal/models"
)

func stagingRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "seq", "schema_name", "source_batch_id", "status", "raw_record", "record_values", "validation_errors", "reviewed_by", "reviewed_at", "created_at", "updated_at"})
}

func TestCreateBatch(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStagingRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO staging_entries").WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(7))
	mock.ExpectQuery("INSERT INTO staging_entries").WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(8))
	mock.ExpectCommit()

	entries := []*models.StagingEntry{
		{Schema: "researcher", SourceBatchID: "b1", Raw: models.RawRecord{"first_name": "Ada"}},
		{Schema: "researcher", SourceBatchID: "b1", Raw: models.RawRecord{}},
	}
	require.NoError(t, repo.CreateBatch(context.Background(), entries))

	assert.Equal(t, int64(7), entries[0].Seq)
	assert.Equal(t, int64(8), entries[1].Seq)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, models.StagingStatusPending, entries[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBatchRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStagingRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO staging_entries").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.CreateBatch(context.Background(), []*models.StagingEntry{{Schema: "researcher"}})
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStagingFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStagingRepository(db)

	now := time.Now()
	rows := stagingRows().AddRow("s1", 3, "researcher", "b1", "PENDING",
		[]byte(`{"first_name":"Ada","age":"thirty"}`), []byte(`{"first_name":"Ada"}`),
		[]byte(`[{"column":"age","rule":"type","message":"expected an integer","value":"thirty"}]`),
		nil, nil, now, now)
	mock.ExpectQuery(`SELECT (.+) FROM staging_entries WHERE id = \$1`).WithArgs("s1").WillReturnRows(rows)

	entry, err := repo.FindByID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StagingStatusPending, entry.Status)
	assert.Equal(t, "thirty", entry.Raw["age"])
	require.Len(t, entry.ValidationErrors, 1)
	assert.Equal(t, "age", entry.ValidationErrors[0].Column)
	assert.False(t, entry.Validated())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStagingList(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStagingRepository(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM staging_entries WHERE (.+) ORDER BY seq ASC`).
		WillReturnRows(stagingRows().AddRow("s1", 1, "researcher", "b1", "PENDING", []byte(`{}`), []byte(`{}`), []byte(`[]`), nil, nil, now, now))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM staging_entries WHERE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	status := models.StagingStatusPending
	entries, total, err := repo.List(context.Background(), models.StagingFilter{Status: &status, Schema: "researcher"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByExternalIDs(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStagingRepository(db)

	now := time.Now()
	mock.ExpectQuery(`SELECT (.+) FROM staging_entries WHERE schema_name = \$1 AND lower\(btrim\(raw_record ->> 'external_id'\)\) IN \(\$2, \$3\) ORDER BY seq ASC`).
		WithArgs(models.SchemaExternalPublication, "pmid:1", "doi:10.1/x").
		WillReturnRows(stagingRows().AddRow("s1", 1, models.SchemaExternalPublication, "b1", "PENDING",
			[]byte(`{"external_id":"PMID:1","researcher_key":"name:ada lovelace"}`), []byte(`{}`), []byte(`[]`), nil, nil, now, now))

	entries, err := repo.ListByExternalIDs(context.Background(), models.SchemaExternalPublication, []string{" PMID:1 ", "", "DOI:10.1/X"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "name:ada lovelace", entries[0].Raw["researcher_key"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByExternalIDsSkipsEmpty(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStagingRepository(db)

	entries, err := repo.ListByExternalIDs(context.Background(), models.SchemaExternalPublication, []string{"", "  "})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStagingRepository(db)

	query := regexp.QuoteMeta("UPDATE staging_entries SET status = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $4 WHERE id = $1 AND status = 'PENDING'")
	mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 0))

	reviewer := "u1"
	require.NoError(t, repo.TransitionStatus(context.Background(), "s1", models.StagingStatusRejected, &reviewer, time.Now()))
	err := repo.TransitionStatus(context.Background(), "s1", models.StagingStatusRejected, &reviewer, time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeKeepsApprovedUnlessAsked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewStagingRepository(db)

	mock.ExpectExec(`DELETE FROM staging_entries WHERE source_batch_id = \$1 AND status <> \$2`).
		WithArgs("b1", "APPROVED").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.Purge(context.Background(), models.PurgeFilter{SourceBatchID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
