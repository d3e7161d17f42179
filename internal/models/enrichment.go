package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EnrichmentRunStatus tracks an asynchronous enrichment run.
type EnrichmentRunStatus string

const (
	EnrichmentRunQueued   EnrichmentRunStatus = "QUEUED"
	EnrichmentRunRunning  EnrichmentRunStatus = "RUNNING"
	EnrichmentRunFinished EnrichmentRunStatus = "FINISHED"
	EnrichmentRunFailed   EnrichmentRunStatus = "FAILED"
)

// SourceFailure reports one source that could not be fetched.
type SourceFailure struct {
	Source        string `json:"source"`
	ResearcherKey string `json:"researcher_key,omitempty"`
	Query         string `json:"query"`
	Error         string `json:"error"`
}

// SourceFailures is persisted as JSON.
type SourceFailures []SourceFailure

// Value marshals failures to JSON.
func (f SourceFailures) Value() (driver.Value, error) {
	if f == nil {
		f = SourceFailures{}
	}
	data, err := json.Marshal([]SourceFailure(f))
	if err != nil {
		return nil, fmt.Errorf("marshal source failures: %w", err)
	}
	return data, nil
}

// Scan unmarshals the JSON column.
func (f *SourceFailures) Scan(value interface{}) error {
	out := SourceFailures{}
	if _, err := scanJSON(value, &out, "source failures"); err != nil {
		return err
	}
	*f = out
	return nil
}

// EnrichmentRequestPayload is the stored request of a run.
type EnrichmentRequestPayload struct {
	Researcher ResearcherIdentity `json:"researcher"`
	Sources    []string           `json:"sources,omitempty"`
	MaxResults int                `json:"max_results,omitempty"`
}

// Value marshals the payload to JSON.
func (p EnrichmentRequestPayload) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal enrichment request: %w", err)
	}
	return data, nil
}

// Scan unmarshals the JSON column.
func (p *EnrichmentRequestPayload) Scan(value interface{}) error {
	out := EnrichmentRequestPayload{}
	if _, err := scanJSON(value, &out, "enrichment request"); err != nil {
		return err
	}
	*p = out
	return nil
}

// EnrichmentRun is the persisted record of an enrichment execution.
type EnrichmentRun struct {
	ID            string                   `db:"id" json:"id"`
	ResearcherKey string                   `db:"researcher_key" json:"researcher_key"`
	Request       EnrichmentRequestPayload `db:"request" json:"request"`
	Status        EnrichmentRunStatus      `db:"status" json:"status"`
	Fetched       int                      `db:"fetched" json:"fetched"`
	Staged        int                      `db:"staged" json:"staged"`
	Duplicates    int                      `db:"duplicates" json:"duplicates"`
	Failures      SourceFailures           `db:"failures" json:"failures"`
	ErrorMessage  *string                  `db:"error_message" json:"error_message,omitempty"`
	CreatedBy     *string                  `db:"created_by" json:"created_by,omitempty"`
	CreatedAt     time.Time                `db:"created_at" json:"created_at"`
	StartedAt     *time.Time               `db:"started_at" json:"started_at,omitempty"`
	FinishedAt    *time.Time               `db:"finished_at" json:"finished_at,omitempty"`
}
