package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/research-staging-api/internal/matching"
	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/repository"
	"github.com/noah-isme/research-staging-api/internal/source"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
	"github.com/noah-isme/research-staging-api/pkg/jobs"
	"github.com/noah-isme/research-staging-api/pkg/keylock"
)

// JobTypeEnrichment identifies queued enrichment runs.
const JobTypeEnrichment = "enrichment"

const batchTimestampLayout = "20060102T150405Z"

type stagingIngester interface {
	Ingest(ctx context.Context, req IngestRequest) ([]models.StagingEntry, error)
}

type stagedPublicationReader interface {
	ListByResearcherKey(ctx context.Context, schema, researcherKey string) ([]models.StagingEntry, error)
	ListByExternalIDs(ctx context.Context, schema string, ids []string) ([]models.StagingEntry, error)
}

type enrichmentRunRepository interface {
	Create(ctx context.Context, run *models.EnrichmentRun) error
	MarkRunning(ctx context.Context, id string, at time.Time) error
	Complete(ctx context.Context, run *models.EnrichmentRun) error
	FindByID(ctx context.Context, id string) (*models.EnrichmentRun, error)
	List(ctx context.Context, filter repository.EnrichmentRunFilter) ([]models.EnrichmentRun, int, error)
}

type orcidLookup interface {
	LookupORCID(ctx context.Context, name, institution string) (string, error)
}

type researcherDirectory interface {
	Candidates(ctx context.Context) ([]models.ResearcherIdentity, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// EnrichmentOptions carries the coordinator's tunables.
type EnrichmentOptions struct {
	Sources      []string
	MaxResults   int
	FetchTimeout time.Duration
	Concurrency  int
	CacheTTL     time.Duration
}

// EnrichRequest asks for the publications of one researcher.
type EnrichRequest struct {
	Researcher models.ResearcherIdentity `json:"researcher"`
	Sources    []string                  `json:"sources,omitempty"`
	MaxResults int                       `json:"max_results,omitempty"`
}

// EnrichmentReport summarises one researcher's enrichment.
type EnrichmentReport struct {
	ResearcherKey string                             `json:"researcher_key"`
	Query         string                             `json:"query"`
	Staged        []models.StagingEntry              `json:"staged"`
	Records       []models.ExternalPublicationRecord `json:"records"`
	Duplicates    int                                `json:"duplicates"`
	Failures      []models.SourceFailure             `json:"failures"`
}

// BatchEnrichmentResult is one researcher's outcome within EnrichMany.
type BatchEnrichmentResult struct {
	Researcher models.ResearcherIdentity `json:"researcher"`
	Report     *EnrichmentReport         `json:"report,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// EnrichmentService fetches external publications and stages them for review.
type EnrichmentService struct {
	sources  *source.Registry
	staging  stagingIngester
	staged   stagedPublicationReader
	runs     enrichmentRunRepository
	identity orcidLookup
	cache    *CacheService
	locks    *keylock.Locker
	metrics  *MetricsService
	logger   *zap.Logger
	opts     EnrichmentOptions
	now      func() time.Time

	mu    sync.RWMutex
	queue jobEnqueuer
	dir   researcherDirectory
}

// NewEnrichmentService constructs an EnrichmentService. identity and cache may be nil.
func NewEnrichmentService(sources *source.Registry, staging stagingIngester, staged stagedPublicationReader, runs enrichmentRunRepository, identity orcidLookup, cache *CacheService, locks *keylock.Locker, metrics *MetricsService, logger *zap.Logger, opts EnrichmentOptions) *EnrichmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = keylock.New()
	}
	if len(opts.Sources) == 0 {
		opts.Sources = []string{models.SourcePubMed}
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 25
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &EnrichmentService{
		sources:  sources,
		staging:  staging,
		staged:   staged,
		runs:     runs,
		identity: identity,
		cache:    cache,
		locks:    locks,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetQueue wires the asynchronous run queue.
func (s *EnrichmentService) SetQueue(q jobEnqueuer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = q
}

// SetDirectory wires the researcher list used by Sweep.
func (s *EnrichmentService) SetDirectory(dir researcherDirectory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = dir
}

// Enrich fetches every requested source in parallel, drops records already
// staged for the researcher or seen earlier in this run, and stages the rest
// as external_publication rows. A failing source is reported in Failures and
// never aborts the others.
func (s *EnrichmentService) Enrich(ctx context.Context, req EnrichRequest) (*EnrichmentReport, error) {
	plan, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	results := s.fetchAll(ctx, plan)

	report := &EnrichmentReport{
		ResearcherKey: plan.key,
		Query:         plan.query.String(),
		Staged:        []models.StagingEntry{},
		Records:       []models.ExternalPublicationRecord{},
		Failures:      []models.SourceFailure{},
	}
	for _, r := range results {
		if r.err != nil {
			report.Failures = append(report.Failures, models.SourceFailure{
				Source:        r.source,
				ResearcherKey: plan.key,
				Query:         plan.query.String(),
				Error:         r.err.Error(),
			})
		}
	}

	unlock, err := s.locks.Lock(ctx, "enrichment\x00"+plan.key)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "enrichment cancelled")
	}
	defer unlock()

	seen, err := s.loadSeen(ctx, plan.key, results)
	if err != nil {
		return nil, err
	}

	stamp := s.now().Format(batchTimestampLayout)
	for _, r := range results {
		rows := make([]map[string]string, 0, len(r.records))
		for _, rec := range r.records {
			if rec.Source == "" {
				rec.Source = r.source
			}
			if seen.contains(rec) {
				report.Duplicates++
				continue
			}
			seen.add(rec)
			report.Records = append(report.Records, rec)
			rows = append(rows, publicationRow(rec, plan))
		}
		if len(rows) == 0 {
			continue
		}
		staged, err := s.staging.Ingest(ctx, IngestRequest{
			Schema:  models.SchemaExternalPublication,
			BatchID: fmt.Sprintf("enrichment:%s:%s", r.source, stamp),
			Rows:    rows,
		})
		if err != nil {
			return nil, err
		}
		report.Staged = append(report.Staged, staged...)
	}

	s.logger.Sugar().Infow("enrichment finished",
		"researcher_key", plan.key,
		"staged", len(report.Staged),
		"duplicates", report.Duplicates,
		"failures", len(report.Failures),
	)
	return report, nil
}

// EnrichMany enriches several researchers in parallel. One researcher's
// failure is reported in its result and does not affect the others.
func (s *EnrichmentService) EnrichMany(ctx context.Context, reqs []EnrichRequest) []BatchEnrichmentResult {
	results := make([]BatchEnrichmentResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			results[i].Researcher = req.Researcher
			report, err := s.Enrich(ctx, req)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Report = report
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// QueueRun persists a run and hands it to the background queue.
func (s *EnrichmentService) QueueRun(ctx context.Context, req EnrichRequest, createdBy string) (*models.EnrichmentRun, error) {
	s.mu.RLock()
	queue := s.queue
	s.mu.RUnlock()
	if queue == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "asynchronous enrichment is disabled")
	}
	plan, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	run := &models.EnrichmentRun{
		ResearcherKey: plan.key,
		Request: models.EnrichmentRequestPayload{
			Researcher: req.Researcher,
			Sources:    req.Sources,
			MaxResults: req.MaxResults,
		},
		Status:    models.EnrichmentRunQueued,
		Failures:  models.SourceFailures{},
		CreatedBy: optionalString(createdBy),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrichment run")
	}
	if err := queue.Enqueue(jobs.Job{ID: run.ID, Type: JobTypeEnrichment, Payload: run.ID}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue enrichment run")
	}
	return run, nil
}

// HandleJob executes a queued run. It is the jobs.Handler of the enrichment queue.
func (s *EnrichmentService) HandleJob(ctx context.Context, job jobs.Job) error {
	runID, ok := job.Payload.(string)
	if !ok || runID == "" {
		return jobs.Permanent(fmt.Errorf("enrichment job %s: missing run id", job.ID))
	}
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.Permanent(fmt.Errorf("enrichment run %s not found", runID))
		}
		return err
	}
	if run.Status == models.EnrichmentRunFinished {
		return nil
	}
	if err := s.runs.MarkRunning(ctx, runID, s.now()); err != nil {
		return err
	}

	report, enrichErr := s.Enrich(ctx, EnrichRequest{
		Researcher: run.Request.Researcher,
		Sources:    run.Request.Sources,
		MaxResults: run.Request.MaxResults,
	})

	finished := s.now()
	run.FinishedAt = &finished
	if enrichErr != nil {
		msg := enrichErr.Error()
		run.Status = models.EnrichmentRunFailed
		run.ErrorMessage = &msg
	} else {
		run.Status = models.EnrichmentRunFinished
		run.Fetched = len(report.Records) + report.Duplicates
		run.Staged = len(report.Staged)
		run.Duplicates = report.Duplicates
		run.Failures = report.Failures
	}
	if err := s.runs.Complete(ctx, run); err != nil {
		return err
	}
	if enrichErr != nil {
		var appErr *appErrors.Error
		if errors.As(enrichErr, &appErr) && appErr.Status < 500 {
			return jobs.Permanent(enrichErr)
		}
		return enrichErr
	}
	return nil
}

// GetRun returns a persisted run.
func (s *EnrichmentService) GetRun(ctx context.Context, id string) (*models.EnrichmentRun, error) {
	run, err := s.runs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrichment run not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrichment run")
	}
	return run, nil
}

// ListRuns lists persisted runs, newest first.
func (s *EnrichmentService) ListRuns(ctx context.Context, filter repository.EnrichmentRunFilter) ([]models.EnrichmentRun, *models.Pagination, error) {
	runs, total, err := s.runs.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrichment runs")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return runs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Sweep queues a run for every approved researcher with an ORCID.
func (s *EnrichmentService) Sweep(ctx context.Context) (int, error) {
	s.mu.RLock()
	dir := s.dir
	s.mu.RUnlock()
	if dir == nil {
		return 0, appErrors.Clone(appErrors.ErrValidation, "no researcher directory configured")
	}
	researchers, err := dir.Candidates(ctx)
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, r := range researchers {
		if r.ORCID == "" {
			continue
		}
		if _, err := s.QueueRun(ctx, EnrichRequest{Researcher: r}, ""); err != nil {
			s.logger.Sugar().Warnw("failed to queue scheduled enrichment", "orcid", r.ORCID, "error", err)
			continue
		}
		queued++
	}
	s.logger.Sugar().Infow("enrichment sweep queued runs", "queued", queued, "researchers", len(researchers))
	return queued, nil
}

type enrichmentPlan struct {
	researcher models.ResearcherIdentity
	key        string
	query      source.Query
	sources    []source.Source
	maxResults int
}

func (s *EnrichmentService) plan(ctx context.Context, req EnrichRequest) (*enrichmentPlan, error) {
	r := req.Researcher
	r.Name = strings.TrimSpace(r.Name)
	r.ORCID = matching.NormalizeORCID(r.ORCID)
	if r.ORCID != "" && !matching.ValidORCID(r.ORCID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid orcid")
	}
	if r.ORCID == "" && r.Name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "researcher orcid or name is required")
	}
	if r.ORCID == "" && s.identity != nil {
		orcid, err := s.identity.LookupORCID(ctx, r.Name, r.Institution)
		if err != nil {
			s.logger.Sugar().Warnw("orcid lookup failed", "name", r.Name, "error", err)
		}
		r.ORCID = orcid
	}

	names := req.Sources
	if len(names) == 0 {
		names = s.opts.Sources
	}
	sources := make([]source.Source, 0, len(names))
	picked := map[string]struct{}{}
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, dup := picked[name]; dup {
			continue
		}
		src, err := s.sources.Get(name)
		if err != nil {
			return nil, err
		}
		picked[name] = struct{}{}
		sources = append(sources, src)
	}

	maxResults := req.MaxResults
	if maxResults <= 0 || maxResults > s.opts.MaxResults {
		maxResults = s.opts.MaxResults
	}

	key := r.ORCID
	if key == "" {
		key = matching.Normalize(r.Name)
	}
	return &enrichmentPlan{
		researcher: r,
		key:        key,
		query:      source.Query{ORCID: r.ORCID, Name: r.Name},
		sources:    sources,
		maxResults: maxResults,
	}, nil
}

type fetchResult struct {
	source  string
	records []models.ExternalPublicationRecord
	err     error
}

func (s *EnrichmentService) fetchAll(ctx context.Context, plan *enrichmentPlan) []fetchResult {
	results := make([]fetchResult, len(plan.sources))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, src := range plan.sources {
		i, src := i, src
		g.Go(func() error {
			records, err := s.fetch(ctx, src, plan)
			results[i] = fetchResult{source: src.Name(), records: records, err: err}
			s.metrics.RecordFetch(src.Name(), err == nil)
			if err != nil {
				s.logger.Sugar().Warnw("source fetch failed", "source", src.Name(), "query", plan.query.String(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *EnrichmentService) fetch(ctx context.Context, src source.Source, plan *enrichmentPlan) ([]models.ExternalPublicationRecord, error) {
	cacheKey := fmt.Sprintf("enrichment:fetch:%s:%s:%d", src.Name(), plan.query.String(), plan.maxResults)
	var cached []models.ExternalPublicationRecord
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()
	records, err := src.Fetch(fetchCtx, plan.query, plan.maxResults)
	if err != nil {
		var fe *source.FetchError
		if !errors.As(err, &fe) {
			err = &source.FetchError{Source: src.Name(), Query: plan.query.String(), Err: err}
		}
		return nil, err
	}
	_ = s.cache.Set(ctx, cacheKey, records, s.opts.CacheTTL)
	return records, nil
}

type seenPublications struct {
	externalIDs map[string]struct{}
	titles      map[string]struct{}
}

// loadSeen collects what is already staged for the researcher key, plus any
// row sharing an external id with the fetched records. The latter catches
// publications staged under a name key before the ORCID was known.
func (s *EnrichmentService) loadSeen(ctx context.Context, key string, results []fetchResult) (*seenPublications, error) {
	seen := &seenPublications{externalIDs: map[string]struct{}{}, titles: map[string]struct{}{}}
	existing, err := s.staged.ListByResearcherKey(ctx, models.SchemaExternalPublication, key)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load staged publications")
	}

	ids := []string{}
	for _, r := range results {
		for _, rec := range r.records {
			if rec.ExternalID != "" {
				ids = append(ids, rec.ExternalID)
			}
		}
	}
	if len(ids) > 0 {
		byID, err := s.staged.ListByExternalIDs(ctx, models.SchemaExternalPublication, ids)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load staged publications")
		}
		existing = append(existing, byID...)
	}

	for _, e := range existing {
		seen.add(models.ExternalPublicationRecord{
			Title:      e.Raw["title"],
			Source:     e.Raw["source"],
			ExternalID: e.Raw["external_id"],
		})
	}
	return seen, nil
}

// contains applies the dedup rule: equal external id from any source, or
// equal normalized title from the same source.
func (p *seenPublications) contains(rec models.ExternalPublicationRecord) bool {
	if id := externalIDKey(rec.ExternalID); id != "" {
		if _, ok := p.externalIDs[id]; ok {
			return true
		}
	}
	if t := titleKey(rec); t != "" {
		if _, ok := p.titles[t]; ok {
			return true
		}
	}
	return false
}

func (p *seenPublications) add(rec models.ExternalPublicationRecord) {
	if id := externalIDKey(rec.ExternalID); id != "" {
		p.externalIDs[id] = struct{}{}
	}
	if t := titleKey(rec); t != "" {
		p.titles[t] = struct{}{}
	}
}

func externalIDKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func titleKey(rec models.ExternalPublicationRecord) string {
	title := matching.Normalize(rec.Title)
	if title == "" {
		return ""
	}
	return strings.ToLower(rec.Source) + "\x00" + title
}

func publicationRow(rec models.ExternalPublicationRecord, plan *enrichmentPlan) map[string]string {
	return map[string]string{
		"title":            rec.Title,
		"external_id":      rec.ExternalID,
		"source":           rec.Source,
		"authors":          strings.Join(rec.Authors, "; "),
		"orcid":            plan.researcher.ORCID,
		"researcher_key":   plan.key,
		"publication_date": rec.PublicationDate,
		"doi":              rec.DOI,
		"journal":          rec.Journal,
	}
}
