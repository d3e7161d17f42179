// Package orcid reads the ORCID public API: researcher search, public
// records and the works list.
package orcid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/noah-isme/research-staging-api/internal/matching"
	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/source"
	"github.com/noah-isme/research-staging-api/pkg/config"
)

const (
	defaultRetryDelay = 2 * time.Second
	defaultSearchRows = 10
	maxSearchRows     = 200
	maxSearchKeywords = 3
)

// ErrNotFound is returned when ORCID has no public record for an identifier.
var ErrNotFound = errors.New("orcid record not found")

// Client searches researchers, reads public records and, as a source.Source,
// lists the works on a record.
type Client struct {
	baseURL    string
	rows       int
	maxRetries int
	retryDelay time.Duration

	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a client. A non-positive rate limit disables throttling.
func New(cfg config.ORCIDConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	rows := cfg.SearchRows
	if rows <= 0 {
		rows = defaultSearchRows
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		rows:       min(rows, maxSearchRows),
		maxRetries: max(cfg.MaxRetries, 0),
		retryDelay: defaultRetryDelay,
		http:       httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// Name implements source.Source.
func (c *Client) Name() string { return models.SourceORCID }

// SearchTerm renders the expanded-search query for a researcher. The full
// name must match; institution and keywords narrow the search further.
func SearchTerm(q models.ResearcherIdentity) string {
	parts := []string{}
	if name := clean(q.Name); name != "" {
		parts = append(parts, "given-and-family-names:"+quote(name))
	}
	if inst := clean(q.Institution); inst != "" {
		parts = append(parts, "affiliation-org-name:"+quote(inst))
	}
	kws := []string{}
	for _, kw := range q.Keywords {
		if kw = clean(kw); kw != "" && len(kws) < maxSearchKeywords {
			kws = append(kws, "keyword:"+quote(kw))
		}
	}
	if len(kws) > 0 {
		parts = append(parts, "("+strings.Join(kws, " OR ")+")")
	}
	return strings.Join(parts, " AND ")
}

// Search returns candidate identities for q. Rows at or below zero use the
// configured default.
func (c *Client) Search(ctx context.Context, q models.ResearcherIdentity, rows int) ([]models.ResearcherIdentity, error) {
	term := SearchTerm(q)
	if term == "" {
		return nil, errors.New("orcid search: empty query")
	}
	if rows <= 0 {
		rows = c.rows
	}
	params := url.Values{}
	params.Set("q", term)
	params.Set("rows", strconv.Itoa(min(rows, maxSearchRows)))

	body, err := c.get(ctx, "expanded-search/", params)
	if err != nil {
		return nil, fmt.Errorf("orcid search: %w", err)
	}
	defer body.Close()

	var resp expandedSearchResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode orcid search: %w", err)
	}

	out := make([]models.ResearcherIdentity, 0, len(resp.Results))
	for _, r := range resp.Results {
		id := matching.NormalizeORCID(r.ORCID)
		if !matching.ValidORCID(id) {
			continue
		}
		name := strings.TrimSpace(strings.TrimSpace(r.GivenNames) + " " + strings.TrimSpace(r.FamilyNames))
		if name == "" {
			name = strings.TrimSpace(r.CreditName)
		}
		out = append(out, models.ResearcherIdentity{
			Name:        name,
			ORCID:       id,
			Institution: firstNonEmpty(r.InstitutionName),
		})
	}
	c.logger.Debug("orcid search complete", zap.String("term", term), zap.Int("found", resp.NumFound), zap.Int("candidates", len(out)))
	return out, nil
}

// Profile reads the public record of an ORCID.
func (c *Client) Profile(ctx context.Context, orcid string) (*models.ResearcherProfile, error) {
	id := matching.NormalizeORCID(orcid)
	if !matching.ValidORCID(id) {
		return nil, fmt.Errorf("invalid orcid %q", orcid)
	}

	body, err := c.get(ctx, id+"/record", nil)
	if err != nil {
		return nil, fmt.Errorf("orcid record %s: %w", id, err)
	}
	defer body.Close()

	var rec record
	if err := json.NewDecoder(body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode orcid record %s: %w", id, err)
	}
	return toProfile(id, &rec), nil
}

// Fetch implements source.Source by listing the works on the record. It
// needs an ORCID; name-only queries fail.
func (c *Client) Fetch(ctx context.Context, q source.Query, maxResults int) ([]models.ExternalPublicationRecord, error) {
	id := matching.NormalizeORCID(q.ORCID)
	if !matching.ValidORCID(id) {
		return nil, &source.FetchError{Source: c.Name(), Query: q.String(), Err: errors.New("orcid required")}
	}

	body, err := c.get(ctx, id+"/works", nil)
	if err != nil {
		return nil, &source.FetchError{Source: c.Name(), Query: q.String(), Err: err}
	}
	defer body.Close()

	var works worksResponse
	if err := json.NewDecoder(body).Decode(&works); err != nil {
		return nil, &source.FetchError{Source: c.Name(), Query: q.String(), Err: fmt.Errorf("decode works: %w", err)}
	}

	records := []models.ExternalPublicationRecord{}
	for _, g := range works.Groups {
		if len(g.Summaries) == 0 {
			continue
		}
		// The first summary of a group is the preferred version.
		rec, ok := toRecord(id, &g.Summaries[0])
		if !ok {
			continue
		}
		records = append(records, rec)
		if maxResults > 0 && len(records) >= maxResults {
			break
		}
	}
	c.logger.Debug("orcid works fetched", zap.String("orcid", id), zap.Int("groups", len(works.Groups)), zap.Int("records", len(records)))
	return records, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	target := c.baseURL + "/" + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := source.DoWithRetry(ctx, c.http, req, c.maxRetries, c.retryDelay)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}

func toProfile(id string, rec *record) *models.ResearcherProfile {
	p := &models.ResearcherProfile{ORCID: id}
	per := rec.Person
	if per.Name != nil {
		p.GivenNames = value(per.Name.GivenNames)
		p.FamilyName = value(per.Name.FamilyName)
		p.CreditName = value(per.Name.CreditName)
	}
	if per.Biography != nil {
		p.Biography = strings.TrimSpace(per.Biography.Content)
	}
	p.OtherNames = contents(per.OtherNames.OtherName)
	p.Keywords = contents(per.Keywords.Keyword)
	for _, e := range per.Emails.Email {
		addr := strings.TrimSpace(e.Email)
		if addr == "" {
			continue
		}
		if e.Primary {
			p.Emails = append([]string{addr}, p.Emails...)
		} else {
			p.Emails = append(p.Emails, addr)
		}
	}

	act := rec.Activities
	for _, g := range act.Employments.Groups {
		for _, s := range g.Summaries {
			if s.Employment != nil {
				p.Employments = append(p.Employments, toAffiliation(s.Employment))
			}
		}
	}
	for _, g := range act.Educations.Groups {
		for _, s := range g.Summaries {
			if s.Education != nil {
				p.Educations = append(p.Educations, toAffiliation(s.Education))
			}
		}
	}
	p.WorkCount = len(act.Works.Groups)
	return p
}

func toAffiliation(s *affiliationSummary) models.Affiliation {
	return models.Affiliation{
		Organization: strings.TrimSpace(s.Organization.Name),
		Department:   strings.TrimSpace(s.Department),
		Role:         strings.TrimSpace(s.Role),
		City:         strings.TrimSpace(s.Organization.Address.City),
		Region:       strings.TrimSpace(s.Organization.Address.Region),
		Country:      strings.TrimSpace(s.Organization.Address.Country),
		StartDate:    s.StartDate.String(),
		EndDate:      s.EndDate.String(),
	}
}

// toRecord maps a work summary. The external id prefers the PMID so the
// record deduplicates against PubMed, then the DOI, then the put-code.
func toRecord(id string, w *workSummary) (models.ExternalPublicationRecord, bool) {
	title := ""
	if w.Title != nil {
		title = value(w.Title.Title)
	}
	if title == "" {
		return models.ExternalPublicationRecord{}, false
	}

	var pmid, doi string
	for _, ext := range w.ExternalIDs.IDs {
		switch strings.ToLower(ext.Type) {
		case "pmid":
			if pmid == "" {
				pmid = strings.TrimSpace(ext.Value)
			}
		case "doi":
			if doi == "" {
				doi = strings.TrimSpace(ext.Value)
			}
		}
	}
	externalID := pmid
	if externalID == "" {
		externalID = doi
	}
	if externalID == "" {
		externalID = fmt.Sprintf("%s/work/%d", id, w.PutCode)
	}

	rec := models.ExternalPublicationRecord{
		Title:           title,
		Source:          models.SourceORCID,
		ExternalID:      externalID,
		DOI:             doi,
		Journal:         value(w.JournalTitle),
		PublicationDate: w.PublicationDate.String(),
	}
	if raw, err := json.Marshal(w); err == nil {
		rec.RawPayload = raw
	}
	return rec, true
}

// String renders the date as YYYY, YYYY-MM or YYYY-MM-DD, dropping parts
// that are missing or out of range.
func (d *fuzzyDate) String() string {
	if d == nil {
		return ""
	}
	year := value(d.Year)
	if _, err := strconv.Atoi(year); err != nil || len(year) != 4 {
		return ""
	}
	month, err := strconv.Atoi(value(d.Month))
	if err != nil || month < 1 || month > 12 {
		return year
	}
	day, err := strconv.Atoi(value(d.Day))
	if err != nil || day < 1 || day > 31 {
		return fmt.Sprintf("%s-%02d", year, month)
	}
	return fmt.Sprintf("%s-%02d-%02d", year, month, day)
}

func value(v *valueField) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(v.Value)
}

func contents(items []contentField) []string {
	var out []string
	for _, it := range items {
		if s := strings.TrimSpace(it.Content); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func clean(s string) string {
	return strings.Join(strings.Fields(strings.NewReplacer(`"`, " ", `\`, " ").Replace(s)), " ")
}

func quote(s string) string {
	return `"` + s + `"`
}
