// Package dbcontext assembles the per-turn database context: the schema
// description, per-table summary statistics, and profiler annotations,
// rendered to a stable text block for LLM consumption.
package dbcontext

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/embeshi/datapulse/pkg/schema"
)

// ValueCount is one entry of a top-k value frequency list.
type ValueCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// ColumnSummary holds aggregate statistics for one column.
type ColumnSummary struct {
	Name          string       `json:"name"`
	NullCount     int64        `json:"null_count"`
	DistinctCount int64        `json:"distinct_count"`
	Min           *float64     `json:"min,omitempty"`
	Max           *float64     `json:"max,omitempty"`
	Mean          *float64     `json:"mean,omitempty"`
	TopValues     []ValueCount `json:"top_values,omitempty"`
}

// TableSummary holds aggregate statistics for one table.
type TableSummary struct {
	RowCount int64           `json:"row_count"`
	Columns  []ColumnSummary `json:"columns"`
}

// TableContext pairs a table descriptor with its summary. SummaryErr is set
// when summaries could not be computed; the table itself remains usable.
type TableContext struct {
	Table      schema.Table  `json:"table"`
	Summary    *TableSummary `json:"summary,omitempty"`
	SummaryErr string        `json:"summary_error,omitempty"`
}

// Context is the immutable per-turn database context. It is constructed
// once per turn and shared by reference through every pipeline stage;
// nothing mutates it after construction.
type Context struct {
	Tables      []TableContext    `json:"tables"`
	Annotations map[string]string `json:"annotations,omitempty"`

	rendered string
	catalog  map[string][]string
}

// New builds a finalized context from already-computed parts. The provider
// uses it after summarization; tests use it to fabricate contexts directly.
func New(tables []TableContext, annotations map[string]string) *Context {
	c := &Context{Tables: tables, Annotations: annotations}
	c.finalize()
	return c
}

// Render returns the text block fed to LLM prompts. The output is
// byte-identical for identical schema and summaries.
func (c *Context) Render() string {
	return c.rendered
}

// Catalog maps physical table names to their column names.
func (c *Context) Catalog() map[string][]string {
	return c.catalog
}

// TableNames returns physical table names in rendered order.
func (c *Context) TableNames() []string {
	names := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		names[i] = t.Table.PhysicalName
	}
	sort.Strings(names)
	return names
}

// finalize computes the catalog and rendered text. Called once at build
// time; the context is read-only afterwards.
func (c *Context) finalize() {
	c.catalog = make(map[string][]string, len(c.Tables))
	for _, t := range c.Tables {
		cols := make([]string, len(t.Table.Columns))
		for i, col := range t.Table.Columns {
			cols[i] = col.Name
		}
		c.catalog[t.Table.PhysicalName] = cols
	}
	c.rendered = c.render()
}

func (c *Context) render() string {
	var b strings.Builder
	b.WriteString("Database context\n")

	// Tables arrive sorted by physical name from the schema loader, but the
	// rendering must not depend on caller ordering.
	tables := make([]TableContext, len(c.Tables))
	copy(tables, c.Tables)
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].Table.PhysicalName < tables[j].Table.PhysicalName
	})

	for _, t := range tables {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Table %s", t.Table.PhysicalName)
		if t.Table.Name != t.Table.PhysicalName {
			fmt.Fprintf(&b, " (%s)", t.Table.Name)
		}
		b.WriteString("\n")

		switch {
		case t.SummaryErr != "":
			b.WriteString("  summary unavailable\n")
		case t.Summary != nil:
			fmt.Fprintf(&b, "  rows: %d\n", t.Summary.RowCount)
		}

		summaries := map[string]ColumnSummary{}
		if t.Summary != nil {
			for _, cs := range t.Summary.Columns {
				summaries[cs.Name] = cs
			}
		}

		b.WriteString("  columns:\n")
		for _, col := range t.Table.Columns {
			fmt.Fprintf(&b, "    - %s %s", col.Name, col.Type)
			if !col.Nullable {
				b.WriteString(" not null")
			}
			if col.References != "" {
				fmt.Fprintf(&b, " -> %s", col.References)
			}
			b.WriteString("\n")

			if cs, ok := summaries[col.Name]; ok {
				fmt.Fprintf(&b, "      nulls: %d, distinct: %d", cs.NullCount, cs.DistinctCount)
				if cs.Min != nil {
					fmt.Fprintf(&b, ", min: %s", formatFloat(*cs.Min))
				}
				if cs.Max != nil {
					fmt.Fprintf(&b, ", max: %s", formatFloat(*cs.Max))
				}
				if cs.Mean != nil {
					fmt.Fprintf(&b, ", mean: %s", formatFloat(*cs.Mean))
				}
				b.WriteString("\n")
				if len(cs.TopValues) > 0 {
					parts := make([]string, len(cs.TopValues))
					for i, v := range cs.TopValues {
						parts[i] = fmt.Sprintf("%q (%d)", v.Value, v.Count)
					}
					fmt.Fprintf(&b, "      top values: %s\n", strings.Join(parts, ", "))
				}
			}

			if note := c.Annotations[t.Table.PhysicalName+"."+col.Name]; note != "" {
				fmt.Fprintf(&b, "      note: %s\n", note)
			}
		}
	}
	return b.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
