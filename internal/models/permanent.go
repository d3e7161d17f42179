package models

import "time"

// PermanentEntry is an approved record in the permanent store.
type PermanentEntry struct {
	ID              string       `db:"id" json:"id"`
	Schema          string       `db:"schema_name" json:"schema"`
	Values          RecordValues `db:"record_values" json:"values"`
	ApprovedAt      time.Time    `db:"approved_at" json:"approved_at"`
	ApprovedBy      *string      `db:"approved_by" json:"approved_by,omitempty"`
	SourceStagingID string       `db:"source_staging_id" json:"source_staging_id"`
}

// UniqueKey is one schema-declared unique value claimed in the permanent store.
type UniqueKey struct {
	Schema string `db:"schema_name" json:"schema"`
	Column string `db:"column_name" json:"column"`
	Value  string `db:"value" json:"value"`
}

// LockKey is the in-process lock name for the key.
func (k UniqueKey) LockKey() string {
	return k.Schema + "\x00" + k.Column + "\x00" + k.Value
}

// PermanentFilter constrains permanent list queries.
type PermanentFilter struct {
	Schema   string
	Page     int
	PageSize int
}
