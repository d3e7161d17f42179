package pubmed

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

	"github.com/noah-isme/research-staging-api/internal/source"
	"github.com/noah-isme/research-staging-api/pkg/config"
)

const efetchBody = `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>111</PMID>
      <Article>
        <Journal>
          <Title>Nature Genetics</Title>
          <JournalIssue><PubDate><Year>2021</Year><Month>Mar</Month><Day>4</Day></PubDate></JournalIssue>
        </Journal>
        <ArticleTitle>Genome-wide association of widgets.</ArticleTitle>
        <ELocationID EIdType="doi">10.1000/xyz</ELocationID>
        <AuthorList>
          <Author><LastName>Smith</LastName><ForeName>John</ForeName><Initials>J</Initials></Author>
          <Author><CollectiveName>Widget Consortium</CollectiveName></Author>
        </AuthorList>
      </Article>
    </MedlineCitation>
  </PubmedArticle>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>222</PMID>
      <Article>
        <Journal>
          <Title>Cell</Title>
          <JournalIssue><PubDate><MedlineDate>2019 Nov-Dec</MedlineDate></PubDate></JournalIssue>
        </Journal>
        <ArticleTitle>Second paper</ArticleTitle>
        <AuthorList>
          <Author><LastName>Doe</LastName><Initials>A</Initials></Author>
        </AuthorList>
      </Article>
    </MedlineCitation>
    <PubmedData>
      <ArticleIdList><ArticleId IdType="doi">10.2000/abc</ArticleId></ArticleIdList>
    </PubmedData>
  </PubmedArticle>
</PubmedArticleSet>`

func newTestClient(url string) *Client {
	c := New(config.PubMedConfig{BaseURL: url, APIKey: "k", Tool: "test", MaxRetries: 2}, nil, nil)
	c.retryDelay = time.Millisecond
	return c
}

func TestFetchByORCID(t *testing.T) {
	var searchTerm, fetchIDs string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("api_key"))
		switch r.URL.Path {
		case "/esearch.fcgi":
			searchTerm = r.URL.Query().Get("term")
			assert.Equal(t, "5", r.URL.Query().Get("retmax"))
			_, _ = w.Write([]byte(`{"esearchresult":{"count":"2","idlist":["111","222"]}}`))
		case "/efetch.fcgi":
			fetchIDs = r.URL.Query().Get("id")
			_, _ = w.Write([]byte(efetchBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	records, err := newTestClient(ts.URL).Fetch(context.Background(), source.Query{ORCID: "0000-0001-2345-6789", Name: "John Smith"}, 5)
	require.NoError(t, err)

	assert.Equal(t, "0000-0001-2345-6789[auid]", searchTerm)
	assert.Equal(t, "111,222", fetchIDs)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "111", first.ExternalID)
	assert.Equal(t, "pubmed", first.Source)
	assert.Equal(t, "Genome-wide association of widgets.", first.Title)
	assert.Equal(t, []string{"John Smith", "Widget Consortium"}, first.Authors)
	assert.Equal(t, "10.1000/xyz", first.DOI)
	assert.Equal(t, "Nature Genetics", first.Journal)
	assert.Equal(t, "2021-03-04", first.PublicationDate)
	assert.NotEmpty(t, first.RawPayload)

	second := records[1]
	assert.Equal(t, "2019", second.PublicationDate)
	assert.Equal(t, "10.2000/abc", second.DOI)
	assert.Equal(t, []string{"A Doe"}, second.Authors)
}

func TestFetchNoResults(t *testing.T) {
	var efetchCalled bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/efetch.fcgi" {
			efetchCalled = true
		}
		_, _ = w.Write([]byte(`{"esearchresult":{"count":"0","idlist":[]}}`))
	}))
	defer ts.Close()

	records, err := newTestClient(ts.URL).Fetch(context.Background(), source.Query{Name: "Nobody"}, 5)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.False(t, efetchCalled)
}

func TestFetchRetriesRateLimit(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"esearchresult":{"idlist":[]}}`))
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Fetch(context.Background(), source.Query{Name: "Ada"}, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchWrapsFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Fetch(context.Background(), source.Query{Name: "Ada Lovelace"}, 5)
	require.Error(t, err)

	var fe *source.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "pubmed", fe.Source)
	assert.Equal(t, "Ada Lovelace[Author]", fe.Query)
	assert.Contains(t, fe.Error(), "502")
}

func TestFetchEmptyQuery(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:0").Fetch(context.Background(), source.Query{}, 5)

	var fe *source.FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestPublicationDate(t *testing.T) {
	assert.Equal(t, "2020-07-09", publicationDate("2020", "07", "9", ""))
	assert.Equal(t, "2020-12", publicationDate("2020", "December", "", ""))
	assert.Equal(t, "2020", publicationDate("2020", "", "", ""))
	assert.Equal(t, "", publicationDate("", "", "", "Spring"))
}
