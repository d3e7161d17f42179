package models

import "encoding/json"

// Known external publication sources.
const (
	SourcePubMed  = "pubmed"
	SourceScholar = "scholar"
	SourceSocial  = "social"
	SourceORCID   = "orcid"
)

// SchemaExternalPublication is the schema enrichment results are staged under.
const SchemaExternalPublication = "external_publication"

// SchemaResearcher is the schema for researcher rows.
const SchemaResearcher = "researcher"

// ExternalPublicationRecord is a publication fetched from an external source.
type ExternalPublicationRecord struct {
	Title           string          `json:"title"`
	Authors         []string        `json:"authors"`
	Source          string          `json:"source"`
	ExternalID      string          `json:"external_id"`
	DOI             string          `json:"doi,omitempty"`
	Journal         string          `json:"journal,omitempty"`
	PublicationDate string          `json:"publication_date,omitempty"`
	RawPayload      json.RawMessage `json:"raw_payload,omitempty"`
}
