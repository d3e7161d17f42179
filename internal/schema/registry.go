package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	appErrors "github.com/noah-isme/research-staging-api/pkg/errors"
)

var (
	namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	ruleChecker = validator.New()
)

// Registry is an immutable set of compiled schemas keyed by name.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry compiles defs. Every column rule must declare a known type.
func NewRegistry(defs map[string]Definition) (*Registry, error) {
	r := &Registry{schemas: make(map[string]*Schema, len(defs))}
	for name, def := range defs {
		compiled, err := Compile(name, def)
		if err != nil {
			return nil, err
		}
		r.schemas[name] = compiled
	}
	return r, nil
}

// Compile validates a definition and builds its sorted check list.
func Compile(name string, def Definition) (*Schema, error) {
	if !namePattern.MatchString(name) {
		return nil, fmt.Errorf("schema %q: invalid name", name)
	}
	if len(def) == 0 {
		return nil, fmt.Errorf("schema %q: no columns", name)
	}

	columns := make([]string, 0, len(def))
	for col := range def {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	checks := make([]columnCheck, 0, len(columns))
	for _, col := range columns {
		rule := def[col]
		if strings.TrimSpace(col) == "" {
			return nil, fmt.Errorf("schema %q: empty column name", name)
		}
		if err := ruleChecker.Struct(rule); err != nil {
			return nil, fmt.Errorf("schema %q column %q: %w", name, col, err)
		}
		checks = append(checks, columnCheck{
			name:     col,
			typ:      rule.Type,
			required: rule.Required,
			unique:   rule.Unique,
			coerce:   coercerFor(rule.Type),
		})
	}
	return &Schema{name: name, checks: checks}, nil
}

// Load builds a registry from the built-in schemas plus every .json, .yaml
// and .yml file in dir. A file named after a built-in schema replaces it.
// An empty dir yields the built-ins only.
func Load(dir string) (*Registry, error) {
	defs := Builtins()
	if dir == "" {
		return NewRegistry(defs)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema file %s: %w", entry.Name(), err)
		}
		def, err := ParseDefinition(data, ext)
		if err != nil {
			return nil, fmt.Errorf("parse schema file %s: %w", entry.Name(), err)
		}
		defs[strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))] = def
	}
	return NewRegistry(defs)
}

// ParseDefinition decodes a schema file body. ext selects the format.
func ParseDefinition(data []byte, ext string) (Definition, error) {
	def := Definition{}
	switch strings.ToLower(ext) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported schema format %q", ext)
	}
	return def, nil
}

// Get returns the named schema or ErrUnknownSchema.
func (r *Registry) Get(name string) (*Schema, error) {
	s, ok := r.schemas[name]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnknownSchema, fmt.Sprintf("unknown schema %q", name))
	}
	return s, nil
}

// Names lists registered schema names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks record against the named schema.
func (r *Registry) Validate(name string, record map[string]string, index *UniqueIndex) (Result, error) {
	s, err := r.Get(name)
	if err != nil {
		return Result{}, err
	}
	return s.Validate(record, index), nil
}
