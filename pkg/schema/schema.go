// Package schema loads the dataset schema description file. The file is the
// source of truth for which tables and columns exist; the store is never
// introspected directly for structure, only for summary statistics.
package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Column describes a single column of a dataset table.
type Column struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable"`
	// References holds a "table.column" relation target, if any.
	References string `yaml:"references,omitempty"`
}

// Table describes a dataset table with its ordered columns.
type Table struct {
	// Name is the logical name shown to users and the LLM.
	Name string `yaml:"name"`
	// PhysicalName is the relation name in the store. Defaults to Name.
	PhysicalName string `yaml:"table,omitempty"`
	Columns      []Column `yaml:"columns"`
}

// Schema is the parsed schema description file.
type Schema struct {
	Tables []Table `yaml:"tables"`
	// Annotations maps "table.column" to a natural-language description
	// produced by the offline profiler. Optional.
	Annotations map[string]string `yaml:"annotations,omitempty"`
}

// Load reads and validates a schema description file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses schema description YAML.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema file: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	for i := range s.Tables {
		if s.Tables[i].PhysicalName == "" {
			s.Tables[i].PhysicalName = s.Tables[i].Name
		}
	}
	// Tables are kept in deterministic order so every rendering of the
	// schema is stable across runs.
	sort.Slice(s.Tables, func(i, j int) bool {
		return s.Tables[i].physical() < s.Tables[j].physical()
	})
	return &s, nil
}

func (t Table) physical() string {
	if t.PhysicalName != "" {
		return t.PhysicalName
	}
	return t.Name
}

func (s *Schema) validate() error {
	if len(s.Tables) == 0 {
		return fmt.Errorf("schema file defines no tables")
	}
	seen := make(map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		if t.Name == "" {
			return fmt.Errorf("schema table with empty name")
		}
		phys := t.physical()
		if seen[phys] {
			return fmt.Errorf("duplicate table %q in schema", phys)
		}
		seen[phys] = true
		if len(t.Columns) == 0 {
			return fmt.Errorf("table %q has no columns", t.Name)
		}
		cols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if c.Name == "" {
				return fmt.Errorf("table %q has a column with empty name", t.Name)
			}
			if cols[c.Name] {
				return fmt.Errorf("duplicate column %q on table %q", c.Name, t.Name)
			}
			cols[c.Name] = true
		}
	}
	return nil
}

// Table returns the table with the given physical name, or nil.
func (s *Schema) Table(physicalName string) *Table {
	for i := range s.Tables {
		if s.Tables[i].PhysicalName == physicalName {
			return &s.Tables[i]
		}
	}
	return nil
}

// Annotation returns the profiler annotation for table.column, if any.
func (s *Schema) Annotation(table, column string) string {
	if s.Annotations == nil {
		return ""
	}
	return s.Annotations[table+"."+column]
}

// numericTypes lists declared types treated as numeric for summary purposes.
var numericTypes = map[string]bool{
	"int": true, "integer": true, "bigint": true, "smallint": true,
	"numeric": true, "decimal": true, "real": true, "float": true,
	"double": true, "double precision": true,
}

// IsNumeric reports whether the column's declared type is numeric.
func (c Column) IsNumeric() bool {
	base := strings.ToLower(c.Type)
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = base[:i]
	}
	return numericTypes[strings.TrimSpace(base)]
}

// IsText reports whether the column's declared type is textual.
func (c Column) IsText() bool {
	base := strings.ToLower(c.Type)
	if i := strings.IndexByte(base, '('); i >= 0 {
		base = base[:i]
	}
	switch strings.TrimSpace(base) {
	case "text", "varchar", "character varying", "char", "character", "string":
		return true
	}
	return false
}
