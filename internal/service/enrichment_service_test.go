package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/repository"
	"github.com/noah-isme/research-staging-api/internal/source"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
	"github.com/noah-isme/research-staging-api/pkg/jobs"
)

type fakeSource struct {
	name    string
	records []models.ExternalPublicationRecord
	err     error
	calls   int32
	queries []source.Query
	mu      sync.Mutex
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(_ context.Context, q source.Query, _ int) ([]models.ExternalPublicationRecord, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.err != nil {
		return nil, &source.FetchError{Source: f.name, Query: q.String(), Err: f.err}
	}
	out := make([]models.ExternalPublicationRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

type memRunRepo struct {
	mu   sync.Mutex
	runs map[string]*models.EnrichmentRun
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{runs: map[string]*models.EnrichmentRun{}}
}

func (r *memRunRepo) Create(_ context.Context, run *models.EnrichmentRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.ID = uuid.NewString()
	run.CreatedAt = time.Now().UTC()
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *memRunRepo) MarkRunning(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return sql.ErrNoRows
	}
	run.Status = models.EnrichmentRunRunning
	run.StartedAt = &at
	return nil
}

func (r *memRunRepo) Complete(_ context.Context, run *models.EnrichmentRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *memRunRepo) FindByID(_ context.Context, id string) (*models.EnrichmentRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *run
	return &cp, nil
}

func (r *memRunRepo) List(_ context.Context, _ repository.EnrichmentRunFilter) ([]models.EnrichmentRun, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.EnrichmentRun{}
	for _, run := range r.runs {
		out = append(out, *run)
	}
	return out, len(out), nil
}

type captureQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
}

func (q *captureQueue) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

type staticDirectory []models.ResearcherIdentity

func (d staticDirectory) Candidates(context.Context) ([]models.ResearcherIdentity, error) {
	return d, nil
}

type staticLookup map[string]string

func (l staticLookup) LookupORCID(_ context.Context, name, _ string) (string, error) {
	return l[name], nil
}

type enrichmentFixture struct {
	staging *memStagingRepo
	runs    *memRunRepo
	svc     *EnrichmentService
}

func newEnrichmentFixture(t *testing.T, lookup orcidLookup, sources ...source.Source) *enrichmentFixture {
	t.Helper()
	staging := newMemStagingRepo()
	stagingSvc := NewStagingService(staging, testRegistry(t), nil, nil, nil, nil)
	runs := newMemRunRepo()
	svc := NewEnrichmentService(source.NewRegistry(sources...), stagingSvc, staging, runs, lookup, nil, nil, nil, nil, EnrichmentOptions{
		Sources:      []string{models.SourcePubMed},
		MaxResults:   10,
		FetchTimeout: time.Second,
		Concurrency:  2,
	})
	return &enrichmentFixture{staging: staging, runs: runs, svc: svc}
}

const testORCID = "0000-0002-1825-0097"

func pub(id, title string) models.ExternalPublicationRecord {
	return models.ExternalPublicationRecord{
		Title:           title,
		Authors:         []string{"Josiah Carberry", "Ada Lovelace"},
		Source:          models.SourcePubMed,
		ExternalID:      id,
		PublicationDate: "2021-03-15",
	}
}

func TestEnrichDeduplicatesExternalIDs(t *testing.T) {
	pubmed := &fakeSource{name: models.SourcePubMed, records: []models.ExternalPublicationRecord{
		pub("111", "Genome assembly at scale"),
		pub("111", "Genome assembly at scale (corrected)"),
		pub("222", "Protein folding"),
	}}
	f := newEnrichmentFixture(t, nil, pubmed)

	report, err := f.svc.Enrich(context.Background(), EnrichRequest{Researcher: models.ResearcherIdentity{ORCID: "https://orcid.org/" + testORCID}})
	require.NoError(t, err)
	require.Len(t, report.Staged, 2)
	assert.Equal(t, 1, report.Duplicates)
	assert.Empty(t, report.Failures)
	assert.Equal(t, testORCID, report.ResearcherKey)

	entry := report.Staged[0]
	assert.Equal(t, models.SchemaExternalPublication, entry.Schema)
	assert.True(t, strings.HasPrefix(entry.SourceBatchID, "enrichment:pubmed:"))
	assert.Empty(t, entry.ValidationErrors)
	assert.Equal(t, testORCID, entry.Raw["researcher_key"])
	assert.Equal(t, "Josiah Carberry; Ada Lovelace", entry.Raw["authors"])
	assert.Equal(t, source.Query{ORCID: testORCID}, pubmed.queries[0])

	again, err := f.svc.Enrich(context.Background(), EnrichRequest{Researcher: models.ResearcherIdentity{ORCID: testORCID}})
	require.NoError(t, err)
	assert.Empty(t, again.Staged)
	assert.Equal(t, 3, again.Duplicates)
}

func TestEnrichSkipsRowsStagedUnderEarlierKey(t *testing.T) {
	pubmed := &fakeSource{name: models.SourcePubMed, records: []models.ExternalPublicationRecord{
		pub("PMID:111", "Genome assembly at scale"),
		pub("PMID:222", "Protein folding"),
	}}
	f := newEnrichmentFixture(t, nil, pubmed)
	ctx := context.Background()

	byName, err := f.svc.Enrich(ctx, EnrichRequest{Researcher: models.ResearcherIdentity{Name: "Josiah Carberry"}})
	require.NoError(t, err)
	require.Len(t, byName.Staged, 2)
	assert.Equal(t, "josiah carberry", byName.ResearcherKey)

	pubmed.records = []models.ExternalPublicationRecord{
		pub("pmid:111 ", "Genome assembly at scale"),
		pub("PMID:333", "Cell imaging"),
	}
	byORCID, err := f.svc.Enrich(ctx, EnrichRequest{Researcher: models.ResearcherIdentity{Name: "Josiah Carberry", ORCID: testORCID}})
	require.NoError(t, err)
	assert.Equal(t, testORCID, byORCID.ResearcherKey)
	assert.Equal(t, 1, byORCID.Duplicates)
	require.Len(t, byORCID.Staged, 1)
	assert.Equal(t, "PMID:333", byORCID.Staged[0].Raw["external_id"])
	assert.Len(t, f.staging.entries, 3)
}

func TestEnrichTitleDedupIsPerSource(t *testing.T) {
	pubmed := &fakeSource{name: models.SourcePubMed, records: []models.ExternalPublicationRecord{
		pub("1", "Deep Learning for Genomics"),
		pub("2", "deep learning, for genomics!"),
	}}
	scholar := &fakeSource{name: models.SourceScholar, records: []models.ExternalPublicationRecord{
		{Title: "Deep Learning for Genomics", Source: models.SourceScholar, ExternalID: "sch-9"},
	}}
	f := newEnrichmentFixture(t, nil, pubmed, scholar)

	report, err := f.svc.Enrich(context.Background(), EnrichRequest{
		Researcher: models.ResearcherIdentity{Name: "Josiah Carberry"},
		Sources:    []string{"pubmed", "scholar"},
	})
	require.NoError(t, err)
	assert.Len(t, report.Staged, 2)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, "josiah carberry", report.ResearcherKey)
	assert.Equal(t, source.Query{Name: "Josiah Carberry"}, pubmed.queries[0])
}

func TestEnrichIsolatesSourceFailures(t *testing.T) {
	pubmed := &fakeSource{name: models.SourcePubMed, err: errors.New("status 503")}
	scholar := &fakeSource{name: models.SourceScholar, records: []models.ExternalPublicationRecord{
		{Title: "Working paper", Source: models.SourceScholar, ExternalID: "sch-1"},
	}}
	f := newEnrichmentFixture(t, nil, pubmed, scholar)

	report, err := f.svc.Enrich(context.Background(), EnrichRequest{
		Researcher: models.ResearcherIdentity{ORCID: testORCID},
		Sources:    []string{"pubmed", "scholar"},
	})
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, models.SourcePubMed, report.Failures[0].Source)
	assert.Contains(t, report.Failures[0].Error, "503")
	require.Len(t, report.Staged, 1)
	assert.Equal(t, "sch-1", report.Staged[0].Raw["external_id"])
}

func TestEnrichConcurrentRunsStageOnce(t *testing.T) {
	pubmed := &fakeSource{name: models.SourcePubMed, records: []models.ExternalPublicationRecord{
		pub("111", "A"), pub("222", "B"), pub("333", "C"),
	}}
	f := newEnrichmentFixture(t, nil, pubmed)

	var wg sync.WaitGroup
	staged := make([]int, 4)
	for i := range staged {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := f.svc.Enrich(context.Background(), EnrichRequest{Researcher: models.ResearcherIdentity{ORCID: testORCID}})
			if err == nil {
				staged[i] = len(report.Staged)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, n := range staged {
		total += n
	}
	assert.Equal(t, 3, total)
	assert.Len(t, f.staging.entries, 3)
}

func TestEnrichValidation(t *testing.T) {
	f := newEnrichmentFixture(t, nil, &fakeSource{name: models.SourcePubMed})

	_, err := f.svc.Enrich(context.Background(), EnrichRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Enrich(context.Background(), EnrichRequest{Researcher: models.ResearcherIdentity{ORCID: "not-an-orcid"}})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.Enrich(context.Background(), EnrichRequest{Researcher: models.ResearcherIdentity{Name: "X"}, Sources: []string{"social"}})
	assert.True(t, errors.Is(err, appErrors.ErrUnknownSource))
}

func TestEnrichUsesStoredMapping(t *testing.T) {
	pubmed := &fakeSource{name: models.SourcePubMed}
	f := newEnrichmentFixture(t, staticLookup{"Josiah Carberry": testORCID}, pubmed)

	report, err := f.svc.Enrich(context.Background(), EnrichRequest{Researcher: models.ResearcherIdentity{Name: "Josiah Carberry", Institution: "Brown"}})
	require.NoError(t, err)
	assert.Equal(t, testORCID, report.ResearcherKey)
	assert.Equal(t, testORCID, pubmed.queries[0].ORCID)
}

func TestEnrichMany(t *testing.T) {
	pubmed := &fakeSource{name: models.SourcePubMed, records: []models.ExternalPublicationRecord{pub("1", "A")}}
	f := newEnrichmentFixture(t, nil, pubmed)

	results := f.svc.EnrichMany(context.Background(), []EnrichRequest{
		{Researcher: models.ResearcherIdentity{ORCID: testORCID}},
		{Researcher: models.ResearcherIdentity{}},
		{Researcher: models.ResearcherIdentity{Name: "Ada Lovelace"}},
	})
	require.Len(t, results, 3)
	require.NotNil(t, results[0].Report)
	assert.Len(t, results[0].Report.Staged, 1)
	assert.NotEmpty(t, results[1].Error)
	require.NotNil(t, results[2].Report)
	assert.Len(t, results[2].Report.Staged, 1)
}

func TestQueueRunAndHandleJob(t *testing.T) {
	pubmed := &fakeSource{name: models.SourcePubMed, records: []models.ExternalPublicationRecord{pub("1", "A"), pub("1", "A again")}}
	f := newEnrichmentFixture(t, nil, pubmed)

	_, err := f.svc.QueueRun(context.Background(), EnrichRequest{Researcher: models.ResearcherIdentity{ORCID: testORCID}}, "u1")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	queue := &captureQueue{}
	f.svc.SetQueue(queue)
	run, err := f.svc.QueueRun(context.Background(), EnrichRequest{Researcher: models.ResearcherIdentity{ORCID: testORCID}}, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrichmentRunQueued, run.Status)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, JobTypeEnrichment, queue.jobs[0].Type)

	require.NoError(t, f.svc.HandleJob(context.Background(), queue.jobs[0]))
	done, err := f.svc.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrichmentRunFinished, done.Status)
	assert.Equal(t, 2, done.Fetched)
	assert.Equal(t, 1, done.Staged)
	assert.Equal(t, 1, done.Duplicates)
	assert.NotNil(t, done.FinishedAt)

	err = f.svc.HandleJob(context.Background(), jobs.Job{ID: "x", Payload: "missing"})
	require.Error(t, err)

	_, err = f.svc.GetRun(context.Background(), "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestSweepQueuesResearchersWithORCID(t *testing.T) {
	f := newEnrichmentFixture(t, nil, &fakeSource{name: models.SourcePubMed})
	queue := &captureQueue{}
	f.svc.SetQueue(queue)

	_, err := f.svc.Sweep(context.Background())
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	f.svc.SetDirectory(staticDirectory{
		{Name: "Josiah Carberry", ORCID: testORCID},
		{Name: "No Orcid"},
	})
	queued, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	assert.Len(t, queue.jobs, 1)
}

func TestEnrichmentSchedulerEmptySpec(t *testing.T) {
	s, err := NewEnrichmentScheduler("  ", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, s)
	s.Start()
	s.Stop()

	_, err = NewEnrichmentScheduler("not a cron", &EnrichmentService{}, nil)
	assert.Error(t, err)
}
