// Package schema holds the declarative column rules records are validated
// against and compiles them into per-schema validators.
package schema

// ColumnType is the declared type of a column.
type ColumnType string

const (
	TypeString ColumnType = "str"
	TypeInt    ColumnType = "int"
	TypeFloat  ColumnType = "float"
	TypeDate   ColumnType = "date"
)

// ColumnRule is the rule for one column as written in a schema file.
type ColumnRule struct {
	Type     ColumnType `json:"type" yaml:"type" validate:"required,oneof=str int float date"`
	Required bool       `json:"required" yaml:"required"`
	Unique   bool       `json:"unique" yaml:"unique"`
}

// Definition maps column names to rules.
type Definition map[string]ColumnRule

// ColumnInfo describes a compiled column for API consumers.
type ColumnInfo struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Required bool       `json:"required"`
	Unique   bool       `json:"unique"`
}

// Builtins returns the schemas every registry starts with.
func Builtins() map[string]Definition {
	return map[string]Definition{
		"external_publication": {
			"title":            {Type: TypeString, Required: true},
			"external_id":      {Type: TypeString, Required: true, Unique: true},
			"source":           {Type: TypeString, Required: true},
			"authors":          {Type: TypeString},
			"orcid":            {Type: TypeString},
			"researcher_key":   {Type: TypeString},
			"publication_date": {Type: TypeDate},
			"doi":              {Type: TypeString},
			"journal":          {Type: TypeString},
		},
		"researcher": {
			"first_name":  {Type: TypeString, Required: true},
			"last_name":   {Type: TypeString, Required: true},
			"institution": {Type: TypeString, Required: true},
			"orcid":       {Type: TypeString, Unique: true},
			"email":       {Type: TypeString},
			"keywords":    {Type: TypeString},
			"department":  {Type: TypeString},
			"title":       {Type: TypeString},
		},
	}
}
