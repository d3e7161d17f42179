package dto

import "github.com/noah-isme/research-staging-api/internal/schema"

// SchemaDescriptor lists a registered schema and its column rules.
type SchemaDescriptor struct {
	Name    string              `json:"name"`
	Columns []schema.ColumnInfo `json:"columns"`
}
