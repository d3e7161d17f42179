// Package pubmed fetches publications from the NCBI E-utilities API.
package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/source"
	"github.com/noah-isme/research-staging-api/pkg/config"
)

const defaultRetryDelay = 2 * time.Second

// Client implements source.Source against esearch and efetch.
type Client struct {
	baseURL    string
	apiKey     string
	email      string
	tool       string
	maxRetries int
	retryDelay time.Duration

	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a client. A non-positive rate limit disables throttling.
func New(cfg config.PubMedConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		email:      cfg.Email,
		tool:       cfg.Tool,
		maxRetries: max(cfg.MaxRetries, 0),
		retryDelay: defaultRetryDelay,
		http:       httpClient,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// Name implements source.Source.
func (c *Client) Name() string { return models.SourcePubMed }

// Term renders the PubMed search term for q.
func Term(q source.Query) string {
	if orcid := strings.TrimSpace(q.ORCID); orcid != "" {
		return orcid + "[auid]"
	}
	return strings.TrimSpace(q.Name) + "[Author]"
}

// Fetch implements source.Source.
func (c *Client) Fetch(ctx context.Context, q source.Query, maxResults int) ([]models.ExternalPublicationRecord, error) {
	term := Term(q)
	if q.Empty() {
		return nil, &source.FetchError{Source: c.Name(), Query: term, Err: fmt.Errorf("empty query")}
	}

	ids, err := c.search(ctx, term, maxResults)
	if err != nil {
		return nil, &source.FetchError{Source: c.Name(), Query: term, Err: err}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	set, err := c.fetch(ctx, ids)
	if err != nil {
		return nil, &source.FetchError{Source: c.Name(), Query: term, Err: err}
	}

	records := make([]models.ExternalPublicationRecord, 0, len(set.Articles))
	for i := range set.Articles {
		records = append(records, toRecord(&set.Articles[i]))
	}
	c.logger.Debug("pubmed fetch complete", zap.String("term", term), zap.Int("ids", len(ids)), zap.Int("records", len(records)))
	return records, nil
}

func (c *Client) search(ctx context.Context, term string, maxResults int) ([]string, error) {
	params := c.params()
	params.Set("db", "pubmed")
	params.Set("retmode", "json")
	params.Set("term", term)
	if maxResults > 0 {
		params.Set("retmax", strconv.Itoa(maxResults))
	}

	body, err := c.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}
	defer body.Close()

	var resp esearchResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode esearch: %w", err)
	}
	ids := resp.ESearchResult.IDList
	if maxResults > 0 && len(ids) > maxResults {
		ids = ids[:maxResults]
	}
	return ids, nil
}

func (c *Client) fetch(ctx context.Context, ids []string) (*articleSet, error) {
	params := c.params()
	params.Set("db", "pubmed")
	params.Set("retmode", "xml")
	params.Set("id", strings.Join(ids, ","))

	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, fmt.Errorf("efetch: %w", err)
	}
	defer body.Close()

	var set articleSet
	if err := xml.NewDecoder(body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode efetch: %w", err)
	}
	return &set, nil
}

func (c *Client) params() url.Values {
	params := url.Values{}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	if c.email != "" {
		params.Set("email", c.email)
	}
	if c.tool != "" {
		params.Set("tool", c.tool)
	}
	return params
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := source.DoWithRetry(ctx, c.http, req, c.maxRetries, c.retryDelay)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp.Body, nil
}

func toRecord(a *article) models.ExternalPublicationRecord {
	mc := a.MedlineCitation
	rec := models.ExternalPublicationRecord{
		Title:           strings.TrimSpace(mc.Article.Title),
		Source:          models.SourcePubMed,
		ExternalID:      strings.TrimSpace(mc.PMID),
		Journal:         strings.TrimSpace(mc.Article.Journal.Title),
		PublicationDate: publicationDate(mc.Article.Journal.PubDate.Year, mc.Article.Journal.PubDate.Month, mc.Article.Journal.PubDate.Day, mc.Article.Journal.PubDate.MedlineDate),
		DOI:             doi(a),
	}
	for _, au := range mc.Article.Authors {
		switch {
		case au.CollectiveName != "":
			rec.Authors = append(rec.Authors, strings.TrimSpace(au.CollectiveName))
		case au.ForeName != "":
			rec.Authors = append(rec.Authors, strings.TrimSpace(au.ForeName+" "+au.LastName))
		case au.LastName != "":
			rec.Authors = append(rec.Authors, strings.TrimSpace(au.Initials+" "+au.LastName))
		}
	}
	if raw, err := json.Marshal(a); err == nil {
		rec.RawPayload = raw
	}
	return rec
}

func doi(a *article) string {
	for _, id := range a.MedlineCitation.Article.ELocationIDs {
		if strings.EqualFold(id.Type, "doi") {
			return strings.TrimSpace(id.Value)
		}
	}
	for _, id := range a.PubmedData.ArticleIDs {
		if strings.EqualFold(id.Type, "doi") {
			return strings.TrimSpace(id.Value)
		}
	}
	return ""
}

var months = map[string]string{
	"jan": "01", "feb": "02", "mar": "03", "apr": "04", "may": "05", "jun": "06",
	"jul": "07", "aug": "08", "sep": "09", "oct": "10", "nov": "11", "dec": "12",
}

// publicationDate renders the PubDate parts as YYYY, YYYY-MM or YYYY-MM-DD.
func publicationDate(year, month, day, medline string) string {
	year = strings.TrimSpace(year)
	if year == "" {
		medline = strings.TrimSpace(medline)
		if len(medline) >= 4 {
			if _, err := strconv.Atoi(medline[:4]); err == nil {
				return medline[:4]
			}
		}
		return ""
	}

	m := strings.TrimSpace(month)
	if n, err := strconv.Atoi(m); err == nil && n >= 1 && n <= 12 {
		m = fmt.Sprintf("%02d", n)
	} else if len(m) >= 3 {
		m = months[strings.ToLower(m[:3])]
	} else {
		m = ""
	}
	if m == "" {
		return year
	}

	d, err := strconv.Atoi(strings.TrimSpace(day))
	if err != nil || d < 1 || d > 31 {
		return year + "-" + m
	}
	return fmt.Sprintf("%s-%s-%02d", year, m, d)
}
