package orcid

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/research-staging-api/internal/models"
	"github.com/noah-isme/research-staging-api/internal/source"
	"github.com/noah-isme/research-staging-api/pkg/config"
)

const carberry = "0000-0002-1825-0097"

const searchBody = `{
  "expanded-result": [
    {"orcid-id": "0000-0002-1825-0097", "given-names": "Josiah", "family-names": "Carberry",
     "credit-name": "J. S. Carberry", "institution-name": ["", "Brown University", "Wesleyan University"]},
    {"orcid-id": "", "given-names": "Broken"},
    {"orcid-id": "0000-0001-5109-3700", "credit-name": "Laure Haak", "institution-name": []}
  ],
  "num-found": 3
}`

const recordBody = `{
  "orcid-identifier": {"path": "0000-0002-1825-0097"},
  "person": {
    "name": {"given-names": {"value": "Josiah"}, "family-name": {"value": "Carberry"}, "credit-name": null},
    "other-names": {"other-name": [{"content": "J. Carberry"}, {"content": " "}]},
    "biography": {"content": " Psychoceramics pioneer. "},
    "emails": {"email": [
      {"email": "jcarberry@example.edu", "primary": false},
      {"email": "josiah@example.org", "primary": true}
    ]},
    "keywords": {"keyword": [{"content": "psychoceramics"}, {"content": "ionian philology"}]}
  },
  "activities-summary": {
    "employments": {"affiliation-group": [
      {"summaries": [{"employment-summary": {
        "department-name": "Psychoceramics", "role-title": "Professor",
        "start-date": {"year": {"value": "1999"}, "month": {"value": "09"}, "day": null},
        "end-date": null,
        "organization": {"name": "Brown University", "address": {"city": "Providence", "region": "RI", "country": "US"}}
      }}]},
      {"summaries": [{"employment-summary": {
        "role-title": "Lecturer",
        "start-date": {"year": {"value": "1990"}},
        "end-date": {"year": {"value": "1999"}, "month": {"value": "06"}, "day": {"value": "30"}},
        "organization": {"name": "Wesleyan University", "address": {"city": "Middletown", "country": "US"}}
      }}]}
    ]},
    "educations": {"affiliation-group": [
      {"summaries": [{"education-summary": {"role-title": "PhD", "organization": {"name": "Brown University"}}}]}
    ]},
    "works": {"group": [{"work-summary": []}, {"work-summary": []}]}
  }
}`

const worksBody = `{
  "group": [
    {"work-summary": [
      {"put-code": 11, "type": "journal-article",
       "title": {"title": {"value": "The Ionian cracked pot"}},
       "external-ids": {"external-id": [
         {"external-id-type": "doi", "external-id-value": "10.5555/12345678"},
         {"external-id-type": "pmid", "external-id-value": "24000"}
       ]},
       "publication-date": {"year": {"value": "2011"}, "month": {"value": "4"}, "day": {"value": "1"}},
       "journal-title": {"value": "Journal of Psychoceramics"}},
      {"put-code": 12, "title": {"title": {"value": "Duplicate version"}}}
    ]},
    {"work-summary": [
      {"put-code": 21, "title": {"title": {"value": "Pots of the world"}},
       "external-ids": {"external-id": [{"external-id-type": "doi", "external-id-value": "10.1/pots"}]},
       "publication-date": {"year": {"value": "2008"}}}
    ]},
    {"work-summary": [
      {"put-code": 31, "title": {"title": {"value": "Unpublished notes"}}}
    ]},
    {"work-summary": [
      {"put-code": 41, "title": null}
    ]}
  ]
}`

func newTestClient(url string) *Client {
	c := New(config.ORCIDConfig{BaseURL: url + "/", MaxRetries: 2, SearchRows: 5}, nil, nil)
	c.retryDelay = time.Millisecond
	return c
}

func TestSearchTerm(t *testing.T) {
	assert.Equal(t, `given-and-family-names:"Josiah Carberry"`, SearchTerm(models.ResearcherIdentity{Name: "  Josiah   Carberry "}))
	assert.Equal(t,
		`given-and-family-names:"Josiah Carberry" AND affiliation-org-name:"Brown University" AND (keyword:"a" OR keyword:"b" OR keyword:"c")`,
		SearchTerm(models.ResearcherIdentity{
			Name:        `Josiah "Carberry"`,
			Institution: "Brown University",
			Keywords:    []string{"a", " ", "b", "c", "d"},
		}))
	assert.Empty(t, SearchTerm(models.ResearcherIdentity{Name: `""`}))
}

func TestSearch(t *testing.T) {
	var query, rows, accept string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/expanded-search/", r.URL.Path)
		query = r.URL.Query().Get("q")
		rows = r.URL.Query().Get("rows")
		accept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(searchBody))
	}))
	defer ts.Close()

	got, err := newTestClient(ts.URL).Search(context.Background(), models.ResearcherIdentity{Name: "Josiah Carberry"}, 0)
	require.NoError(t, err)

	assert.Equal(t, `given-and-family-names:"Josiah Carberry"`, query)
	assert.Equal(t, "5", rows)
	assert.Equal(t, "application/json", accept)
	require.Len(t, got, 2)
	assert.Equal(t, models.ResearcherIdentity{Name: "Josiah Carberry", ORCID: carberry, Institution: "Brown University"}, got[0])
	assert.Equal(t, "Laure Haak", got[1].Name)
	assert.Empty(t, got[1].Institution)
}

func TestSearchEmptyQuery(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:0").Search(context.Background(), models.ResearcherIdentity{}, 3)
	assert.Error(t, err)
}

func TestProfile(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+carberry+"/record", r.URL.Path)
		_, _ = w.Write([]byte(recordBody))
	}))
	defer ts.Close()

	p, err := newTestClient(ts.URL).Profile(context.Background(), "https://orcid.org/"+carberry)
	require.NoError(t, err)

	assert.Equal(t, carberry, p.ORCID)
	assert.Equal(t, "Josiah Carberry", p.DisplayName())
	assert.Empty(t, p.CreditName)
	assert.Equal(t, "Psychoceramics pioneer.", p.Biography)
	assert.Equal(t, []string{"J. Carberry"}, p.OtherNames)
	assert.Equal(t, []string{"josiah@example.org", "jcarberry@example.edu"}, p.Emails)
	assert.Equal(t, []string{"psychoceramics", "ionian philology"}, p.Keywords)
	assert.Equal(t, 2, p.WorkCount)

	require.Len(t, p.Employments, 2)
	assert.Equal(t, models.Affiliation{
		Organization: "Brown University",
		Department:   "Psychoceramics",
		Role:         "Professor",
		City:         "Providence",
		Region:       "RI",
		Country:      "US",
		StartDate:    "1999-09",
	}, p.Employments[0])
	assert.Equal(t, "1999-06-30", p.Employments[1].EndDate)
	assert.Equal(t, "Brown University", p.CurrentEmployment().Organization)

	require.Len(t, p.Educations, 1)
	assert.Equal(t, "PhD", p.Educations[0].Role)
}

func TestProfileNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Profile(context.Background(), carberry)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProfileRejectsMalformedORCID(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Profile(context.Background(), "0000-0002")
	assert.Error(t, err)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestFetchWorks(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+carberry+"/works", r.URL.Path)
		_, _ = w.Write([]byte(worksBody))
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	records, err := client.Fetch(context.Background(), source.Query{ORCID: carberry}, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	first := records[0]
	assert.Equal(t, models.SourceORCID, first.Source)
	assert.Equal(t, "The Ionian cracked pot", first.Title)
	assert.Equal(t, "24000", first.ExternalID)
	assert.Equal(t, "10.5555/12345678", first.DOI)
	assert.Equal(t, "Journal of Psychoceramics", first.Journal)
	assert.Equal(t, "2011-04-01", first.PublicationDate)
	assert.NotEmpty(t, first.RawPayload)

	assert.Equal(t, "10.1/pots", records[1].ExternalID)
	assert.Equal(t, "2008", records[1].PublicationDate)
	assert.Equal(t, carberry+"/work/31", records[2].ExternalID)

	capped, err := client.Fetch(context.Background(), source.Query{ORCID: carberry}, 1)
	require.NoError(t, err)
	assert.Len(t, capped, 1)
}

func TestFetchRequiresORCID(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:0").Fetch(context.Background(), source.Query{Name: "Josiah Carberry"}, 5)

	var fe *source.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, models.SourceORCID, fe.Source)
}

func TestRetriesRateLimit(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"group": []}`))
	}))
	defer ts.Close()

	records, err := newTestClient(ts.URL).Fetch(context.Background(), source.Query{ORCID: carberry}, 5)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchWrapsFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Fetch(context.Background(), source.Query{ORCID: carberry}, 5)

	var fe *source.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Error(), "503")
	assert.Contains(t, fe.Error(), "maintenance")
}
