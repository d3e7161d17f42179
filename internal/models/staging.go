package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StagingStatus captures the review state of a staged record.
type StagingStatus string

const (
	StagingStatusPending  StagingStatus = "PENDING"
	StagingStatusApproved StagingStatus = "APPROVED"
	StagingStatusRejected StagingStatus = "REJECTED"
)

// Valid reports whether s is a known status.
func (s StagingStatus) Valid() bool {
	switch s {
	case StagingStatusPending, StagingStatusApproved, StagingStatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s StagingStatus) Terminal() bool {
	return s == StagingStatusApproved || s == StagingStatusRejected
}

// Validation rule names attached to ValidationError.Rule.
const (
	RuleRequired = "required"
	RuleType     = "type"
	RuleUnique   = "unique"
)

// ValidationError describes one failed column rule with the offending value.
type ValidationError struct {
	Column  string `json:"column"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// ValidationErrors is the ordered error list stored with a staging entry.
type ValidationErrors []ValidationError

// Value marshals the list to JSON, never NULL.
func (v ValidationErrors) Value() (driver.Value, error) {
	if v == nil {
		v = ValidationErrors{}
	}
	data, err := json.Marshal([]ValidationError(v))
	if err != nil {
		return nil, fmt.Errorf("marshal validation errors: %w", err)
	}
	return data, nil
}

// Scan unmarshals the JSON column.
func (v *ValidationErrors) Scan(value interface{}) error {
	out := ValidationErrors{}
	if _, err := scanJSON(value, &out, "validation errors"); err != nil {
		return err
	}
	*v = out
	return nil
}

// RawRecord is a row as supplied by the tabular source: column to text.
type RawRecord map[string]string

// Value marshals the record to JSON.
func (r RawRecord) Value() (driver.Value, error) {
	if r == nil {
		r = RawRecord{}
	}
	data, err := json.Marshal(map[string]string(r))
	if err != nil {
		return nil, fmt.Errorf("marshal raw record: %w", err)
	}
	return data, nil
}

// Scan unmarshals the JSON column.
func (r *RawRecord) Scan(value interface{}) error {
	out := RawRecord{}
	if _, err := scanJSON(value, &out, "raw record"); err != nil {
		return err
	}
	*r = out
	return nil
}

// RecordValues holds coerced column values. In memory they are string, int64,
// float64 or time.Time; once read back from storage numbers are json.Number
// and dates are RFC3339 strings.
type RecordValues map[string]interface{}

// Value marshals the values to JSON.
func (r RecordValues) Value() (driver.Value, error) {
	if r == nil {
		r = RecordValues{}
	}
	data, err := json.Marshal(map[string]interface{}(r))
	if err != nil {
		return nil, fmt.Errorf("marshal record values: %w", err)
	}
	return data, nil
}

// Scan unmarshals the JSON column.
func (r *RecordValues) Scan(value interface{}) error {
	out := RecordValues{}
	if _, err := scanJSON(value, &out, "record values"); err != nil {
		return err
	}
	*r = out
	return nil
}

// StagingEntry is a record held for review before promotion.
type StagingEntry struct {
	ID               string           `db:"id" json:"id"`
	Seq              int64            `db:"seq" json:"seq"`
	Schema           string           `db:"schema_name" json:"schema"`
	SourceBatchID    string           `db:"source_batch_id" json:"source_batch_id"`
	Status           StagingStatus    `db:"status" json:"status"`
	Raw              RawRecord        `db:"raw_record" json:"raw"`
	Values           RecordValues     `db:"record_values" json:"values"`
	ValidationErrors ValidationErrors `db:"validation_errors" json:"validation_errors"`
	ReviewedBy       *string          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// Validated reports whether the entry carries no validation errors.
func (e *StagingEntry) Validated() bool {
	return len(e.ValidationErrors) == 0
}

// StagingFilter constrains staging list queries.
type StagingFilter struct {
	Status        *StagingStatus
	Schema        string
	SourceBatchID string
	ResearcherKey string
	Page          int
	PageSize      int
}

// PurgeFilter selects staging entries to delete. At least one criterion must be set.
type PurgeFilter struct {
	SourceBatchID string
	Status        *StagingStatus
	OlderThan     *time.Time
}

// Empty reports whether no criterion is set.
func (f PurgeFilter) Empty() bool {
	return f.SourceBatchID == "" && f.Status == nil && f.OlderThan == nil
}
