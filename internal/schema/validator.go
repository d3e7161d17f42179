package schema

import (
	"strings"

	"github.com/noah-isme/research-staging-api/internal/models"
)

var typeMessages = map[ColumnType]string{
	TypeInt:   "expected an integer",
	TypeFloat: "expected a number",
	TypeDate:  "expected a date such as 2006-01-02",
}

// UniqueIndex holds the unique values already seen within one batch, per column.
type UniqueIndex struct {
	seen map[string]map[string]struct{}
}

// NewUniqueIndex returns an empty batch index.
func NewUniqueIndex() *UniqueIndex {
	return &UniqueIndex{seen: make(map[string]map[string]struct{})}
}

// Contains reports whether value was already recorded for column.
func (i *UniqueIndex) Contains(column, value string) bool {
	if i == nil {
		return false
	}
	_, ok := i.seen[column][value]
	return ok
}

// Add records value for column.
func (i *UniqueIndex) Add(column, value string) {
	values, ok := i.seen[column]
	if !ok {
		values = make(map[string]struct{})
		i.seen[column] = values
	}
	values[value] = struct{}{}
}

// AddKeys records every key of a validation result.
func (i *UniqueIndex) AddKeys(keys []models.UniqueKey) {
	for _, k := range keys {
		i.Add(k.Column, k.Value)
	}
}

// Result is the outcome of validating one record.
type Result struct {
	OK     bool
	Errors models.ValidationErrors
	Values models.RecordValues
	// UniqueKeys lists the canonical values of every present unique column.
	UniqueKeys []models.UniqueKey
}

type columnCheck struct {
	name     string
	typ      ColumnType
	required bool
	unique   bool
	coerce   coerceFunc
}

// Schema is a compiled, immutable set of column checks sorted by column name.
type Schema struct {
	name   string
	checks []columnCheck
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Columns describes the compiled columns in validation order.
func (s *Schema) Columns() []ColumnInfo {
	out := make([]ColumnInfo, len(s.checks))
	for i, c := range s.checks {
		out[i] = ColumnInfo{Name: c.name, Type: c.typ, Required: c.required, Unique: c.unique}
	}
	return out
}

// UniqueColumns lists the columns declared unique.
func (s *Schema) UniqueColumns() []string {
	var cols []string
	for _, c := range s.checks {
		if c.unique {
			cols = append(cols, c.name)
		}
	}
	return cols
}

// Validate checks record against the schema. Values found in index fail the
// unique rule; index is only read. Columns not declared by the schema are ignored.
func (s *Schema) Validate(record map[string]string, index *UniqueIndex) Result {
	res := Result{Errors: models.ValidationErrors{}, Values: models.RecordValues{}}
	for _, c := range s.checks {
		raw := strings.TrimSpace(record[c.name])
		if raw == "" {
			if c.required {
				res.Errors = append(res.Errors, models.ValidationError{
					Column:  c.name,
					Rule:    models.RuleRequired,
					Message: "value is required",
				})
			}
			continue
		}

		value, ok := c.coerce(raw)
		if !ok {
			res.Errors = append(res.Errors, models.ValidationError{
				Column:  c.name,
				Rule:    models.RuleType,
				Message: typeMessages[c.typ],
				Value:   raw,
			})
			continue
		}
		res.Values[c.name] = value

		if !c.unique {
			continue
		}
		key := Canonical(value)
		if index.Contains(c.name, key) {
			res.Errors = append(res.Errors, models.ValidationError{
				Column:  c.name,
				Rule:    models.RuleUnique,
				Message: "value already used by another row of this batch",
				Value:   raw,
			})
			continue
		}
		res.UniqueKeys = append(res.UniqueKeys, models.UniqueKey{Schema: s.name, Column: c.name, Value: key})
	}
	res.OK = len(res.Errors) == 0
	return res
}
