package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/schema"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
)

type memStagingRepo struct {
	mu      sync.Mutex
	seq     int64
	entries map[string]*models.StagingEntry
	failErr error
}

func newMemStagingRepo() *memStagingRepo {
	return &memStagingRepo{entries: map[string]*models.StagingEntry{}}
}

func (r *memStagingRepo) CreateBatch(_ context.Context, entries []*models.StagingEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	now := time.Now().UTC()
	for _, e := range entries {
		r.seq++
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.Seq = r.seq
		e.Status = models.StagingStatusPending
		e.CreatedAt = now
		e.UpdatedAt = now
		cp := *e
		r.entries[e.ID] = &cp
	}
	return nil
}

func (r *memStagingRepo) FindByID(_ context.Context, id string) (*models.StagingEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (r *memStagingRepo) List(_ context.Context, filter models.StagingFilter) ([]models.StagingEntry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := []models.StagingEntry{}
	for _, e := range r.entries {
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.Schema != "" && e.Schema != filter.Schema {
			continue
		}
		if filter.SourceBatchID != "" && e.SourceBatchID != filter.SourceBatchID {
			continue
		}
		if filter.ResearcherKey != "" && e.Raw["researcher_key"] != filter.ResearcherKey {
			continue
		}
		matched = append(matched, *e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Seq < matched[j].Seq })
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	start := (page - 1) * size
	if start > len(matched) {
		start = len(matched)
	}
	end := min(start+size, len(matched))
	return matched[start:end], len(matched), nil
}

func (r *memStagingRepo) ListInvalid(ctx context.Context, filter models.StagingFilter, limit int) ([]models.StagingEntry, error) {
	filter.PageSize = 100
	all, _, err := r.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := []models.StagingEntry{}
	for _, e := range all {
		if len(e.ValidationErrors) > 0 && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memStagingRepo) ListByResearcherKey(ctx context.Context, schemaName, key string) ([]models.StagingEntry, error) {
	entries, _, err := r.List(ctx, models.StagingFilter{Schema: schemaName, ResearcherKey: key, PageSize: 100})
	return entries, err
}

func (r *memStagingRepo) ListByExternalIDs(_ context.Context, schemaName string, ids []string) ([]models.StagingEntry, error) {
	want := map[string]bool{}
	for _, id := range ids {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			want[id] = true
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.StagingEntry{}
	for _, e := range r.entries {
		if e.Schema == schemaName && want[strings.ToLower(strings.TrimSpace(e.Raw["external_id"]))] {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *memStagingRepo) TransitionStatus(_ context.Context, id string, status models.StagingStatus, reviewer *string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != models.StagingStatusPending {
		return sql.ErrNoRows
	}
	e.Status = status
	e.ReviewedBy = reviewer
	e.ReviewedAt = &at
	e.UpdatedAt = at
	return nil
}

func (r *memStagingRepo) ReplaceValidation(_ context.Context, id string, values models.RecordValues, errs models.ValidationErrors, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != models.StagingStatusPending {
		return sql.ErrNoRows
	}
	e.Values = values
	e.ValidationErrors = errs
	e.UpdatedAt = at
	return nil
}

func (r *memStagingRepo) Purge(_ context.Context, filter models.PurgeFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, e := range r.entries {
		if filter.SourceBatchID != "" && e.SourceBatchID != filter.SourceBatchID {
			continue
		}
		if filter.Status != nil {
			if e.Status != *filter.Status {
				continue
			}
		} else if e.Status == models.StagingStatusApproved {
			continue
		}
		delete(r.entries, id)
		n++
	}
	return n, nil
}

func (r *memStagingRepo) status(id string) models.StagingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id].Status
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	defs := schema.Builtins()
	defs["people"] = schema.Definition{
		"name":  {Type: schema.TypeString, Required: true},
		"age":   {Type: schema.TypeInt, Required: true},
		"email": {Type: schema.TypeString, Unique: true},
	}
	reg, err := schema.NewRegistry(defs)
	require.NoError(t, err)
	return reg
}

func TestStagingIngestStagesEveryRow(t *testing.T) {
	repo := newMemStagingRepo()
	svc := NewStagingService(repo, testRegistry(t), nil, nil, nil, nil)

	entries, err := svc.Ingest(context.Background(), IngestRequest{
		Schema: "people",
		Rows: []map[string]string{
			{"name": "Ada", "age": "36", "email": "ada@example.com"},
			{"name": "Bob", "age": "thirty"},
			{"name": "Cy", "age": "40", "email": "ada@example.com", "extra": "kept"},
		},
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.True(t, strings.HasPrefix(entries[0].SourceBatchID, "manual:"))
	for _, e := range entries {
		assert.Equal(t, models.StagingStatusPending, e.Status)
		assert.Equal(t, entries[0].SourceBatchID, e.SourceBatchID)
	}
	assert.Empty(t, entries[0].ValidationErrors)
	assert.Equal(t, int64(36), entries[0].Values["age"])

	require.Len(t, entries[1].ValidationErrors, 1)
	assert.Equal(t, "age", entries[1].ValidationErrors[0].Column)
	assert.Equal(t, models.RuleType, entries[1].ValidationErrors[0].Rule)
	assert.Equal(t, "thirty", entries[1].ValidationErrors[0].Value)

	require.Len(t, entries[2].ValidationErrors, 1)
	assert.Equal(t, models.RuleUnique, entries[2].ValidationErrors[0].Rule)
	assert.Equal(t, "kept", entries[2].Raw["extra"])
	assert.Less(t, entries[0].Seq, entries[2].Seq)
}

func TestStagingIngestErrors(t *testing.T) {
	repo := newMemStagingRepo()
	svc := NewStagingService(repo, testRegistry(t), nil, nil, nil, nil)

	_, err := svc.Ingest(context.Background(), IngestRequest{Schema: "nope", Rows: []map[string]string{{"a": "b"}}})
	assert.True(t, errors.Is(err, appErrors.ErrUnknownSchema))

	_, err = svc.Ingest(context.Background(), IngestRequest{Schema: "people"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	repo.failErr = errors.New("db down")
	_, err = svc.Ingest(context.Background(), IngestRequest{Schema: "people", Rows: []map[string]string{{"name": "A", "age": "1"}}})
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestStagingSetStatus(t *testing.T) {
	repo := newMemStagingRepo()
	svc := NewStagingService(repo, testRegistry(t), nil, nil, nil, nil)
	entries, err := svc.Ingest(context.Background(), IngestRequest{Schema: "people", BatchID: "b1", Rows: []map[string]string{
		{"name": "Ada", "age": "36"},
		{"age": "x"},
		{"name": "Cy", "age": "40"},
	}})
	require.NoError(t, err)
	valid, invalid, other := entries[0].ID, entries[1].ID, entries[2].ID

	_, err = svc.SetStatus(context.Background(), valid, models.StagingStatusPending, "rev")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.SetStatus(context.Background(), "missing", models.StagingStatusApproved, "rev")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.SetStatus(context.Background(), invalid, models.StagingStatusApproved, "rev")
	assert.True(t, errors.Is(err, appErrors.ErrNotValidated))
	assert.Equal(t, models.StagingStatusPending, repo.status(invalid))

	rejected, err := svc.SetStatus(context.Background(), invalid, models.StagingStatusRejected, "rev")
	require.NoError(t, err)
	assert.Equal(t, models.StagingStatusRejected, rejected.Status)
	require.NotNil(t, rejected.ReviewedBy)
	assert.Equal(t, "rev", *rejected.ReviewedBy)

	approved, err := svc.SetStatus(context.Background(), valid, models.StagingStatusApproved, "rev")
	require.NoError(t, err)
	assert.Equal(t, models.StagingStatusApproved, approved.Status)
	assert.Equal(t, models.StagingStatusApproved, repo.status(valid))

	_, err = svc.SetStatus(context.Background(), valid, models.StagingStatusRejected, "rev")
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))

	_, err = svc.SetStatus(context.Background(), other, models.StagingStatus("bogus"), "rev")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestStagingSetStatusConcurrentFirstWins(t *testing.T) {
	repo := newMemStagingRepo()
	svc := NewStagingService(repo, testRegistry(t), nil, nil, nil, nil)
	entries, err := svc.Ingest(context.Background(), IngestRequest{Schema: "people", Rows: []map[string]string{{"name": "Ada", "age": "36"}}})
	require.NoError(t, err)
	id := entries[0].ID

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, status := range []models.StagingStatus{models.StagingStatusApproved, models.StagingStatusRejected} {
		wg.Add(1)
		go func(i int, status models.StagingStatus) {
			defer wg.Done()
			_, results[i] = svc.SetStatus(context.Background(), id, status, "rev")
		}(i, status)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
	}
	assert.Equal(t, 1, succeeded)
	assert.True(t, repo.status(id).Terminal())
}

func TestStagingRevalidate(t *testing.T) {
	repo := newMemStagingRepo()
	strict := testRegistry(t)
	svc := NewStagingService(repo, strict, nil, nil, nil, nil)
	entries, err := svc.Ingest(context.Background(), IngestRequest{Schema: "people", BatchID: "b1", Rows: []map[string]string{
		{"name": "Ada", "age": "36", "email": "a@example.com"},
		{"name": "Bob", "age": "3.5", "email": "a@example.com"},
	}})
	require.NoError(t, err)
	require.Len(t, entries[1].ValidationErrors, 2)

	relaxed, err := schema.NewRegistry(map[string]schema.Definition{
		"people": {
			"name":  {Type: schema.TypeString, Required: true},
			"age":   {Type: schema.TypeFloat, Required: true},
			"email": {Type: schema.TypeString, Unique: true},
		},
	})
	require.NoError(t, err)
	svc.registry = relaxed

	updated, err := svc.Revalidate(context.Background(), entries[1].ID)
	require.NoError(t, err)
	require.Len(t, updated.ValidationErrors, 1)
	assert.Equal(t, models.RuleUnique, updated.ValidationErrors[0].Rule)
	assert.Equal(t, 3.5, updated.Values["age"])

	first, err := svc.Revalidate(context.Background(), entries[0].ID)
	require.NoError(t, err)
	assert.Empty(t, first.ValidationErrors)

	_, err = svc.SetStatus(context.Background(), entries[0].ID, models.StagingStatusRejected, "rev")
	require.NoError(t, err)
	_, err = svc.Revalidate(context.Background(), entries[0].ID)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidTransition))
}

func TestStagingPurge(t *testing.T) {
	repo := newMemStagingRepo()
	svc := NewStagingService(repo, testRegistry(t), nil, nil, nil, nil)
	entries, err := svc.Ingest(context.Background(), IngestRequest{Schema: "people", BatchID: "b1", Rows: []map[string]string{
		{"name": "Ada", "age": "36"},
		{"name": "Bob", "age": "40"},
	}})
	require.NoError(t, err)
	_, err = svc.SetStatus(context.Background(), entries[0].ID, models.StagingStatusApproved, "rev")
	require.NoError(t, err)

	_, err = svc.Purge(context.Background(), models.PurgeFilter{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	deleted, err := svc.Purge(context.Background(), models.PurgeFilter{SourceBatchID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = svc.Get(context.Background(), entries[0].ID)
	assert.NoError(t, err)
	_, err = svc.Get(context.Background(), entries[1].ID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestStagingList(t *testing.T) {
	repo := newMemStagingRepo()
	svc := NewStagingService(repo, testRegistry(t), nil, nil, nil, nil)
	_, err := svc.Ingest(context.Background(), IngestRequest{Schema: "people", Rows: []map[string]string{
		{"name": "Ada", "age": "36"},
		{"name": "Bob", "age": "x"},
		{"name": "Cy", "age": "40"},
	}})
	require.NoError(t, err)

	entries, pagination, err := svc.List(context.Background(), models.StagingFilter{Schema: "people", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 3, pagination.TotalCount)
	assert.Equal(t, "Ada", entries[0].Raw["name"])

	entries, pagination, err = svc.List(context.Background(), models.StagingFilter{Schema: "people", PageSize: 150})
	require.NoError(t, err)
	assert.Equal(t, models.MaxPageSize, pagination.PageSize)
	assert.Len(t, entries, 3)

	bad := models.StagingStatus("DONE")
	_, _, err = svc.List(context.Background(), models.StagingFilter{Status: &bad})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
