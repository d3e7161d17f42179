// Package source defines the capability external bibliographic sources
// implement and the registry the enrichment service looks them up in.
package source

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/research-staging-api/internal/models"
	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
)

// Query identifies the researcher whose publications are fetched. Sources
// search by ORCID when it is set and by name otherwise.
type Query struct {
	ORCID string `json:"orcid,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Empty reports whether the query carries nothing to search for.
func (q Query) Empty() bool {
	return strings.TrimSpace(q.ORCID) == "" && strings.TrimSpace(q.Name) == ""
}

// String renders the query for logs and failure reports.
func (q Query) String() string {
	if q.ORCID != "" {
		return "orcid:" + q.ORCID
	}
	return "name:" + q.Name
}

// Source fetches publication records from one external service.
type Source interface {
	Name() string
	Fetch(ctx context.Context, q Query, maxResults int) ([]models.ExternalPublicationRecord, error)
}

// FetchError reports a failed fetch against one source.
type FetchError struct {
	Source string
	Query  string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.Source, e.Query, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Registry maps source names to implementations. It is filled at startup and
// read-only afterwards.
type Registry struct {
	sources map[string]Source
}

// NewRegistry registers the given sources under their names.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source, len(sources))}
	for _, s := range sources {
		if s != nil {
			r.sources[s.Name()] = s
		}
	}
	return r
}

// Get returns the named source or ErrUnknownSource.
func (r *Registry) Get(name string) (Source, error) {
	if r != nil {
		if s, ok := r.sources[name]; ok {
			return s, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrUnknownSource, fmt.Sprintf("unknown enrichment source %q", name))
}

// Names lists registered sources in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
