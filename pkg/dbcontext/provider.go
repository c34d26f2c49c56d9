package dbcontext

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/embeshi/datapulse/pkg/schema"
)

const (
	// topK is the number of value frequencies collected per text column.
	topK = 5

	// cardinalityCap disables top-k collection for high-cardinality columns.
	cardinalityCap = 50
)

// Provider builds a fresh database context for each turn. The schema
// description file is re-read on every build so edits take effect without
// a restart; summaries come from live aggregate queries against the store.
type Provider struct {
	db         *sql.DB
	schemaPath string
	logger     *slog.Logger
}

// NewProvider creates a context provider.
func NewProvider(db *sql.DB, schemaPath string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{db: db, schemaPath: schemaPath, logger: logger}
}

// Build assembles the context for one turn. A missing or unreadable schema
// file is fatal; a summary failure on a single table is not — the table is
// included with its summary marked unavailable.
func (p *Provider) Build(ctx context.Context) (*Context, error) {
	s, err := schema.Load(p.schemaPath)
	if err != nil {
		return nil, err
	}
	return p.buildFromSchema(ctx, s), nil
}

func (p *Provider) buildFromSchema(ctx context.Context, s *schema.Schema) *Context {
	tables := make([]TableContext, 0, len(s.Tables))

	for _, t := range s.Tables {
		tc := TableContext{Table: t}
		summary, err := p.summarizeTable(ctx, t)
		if err != nil {
			p.logger.Warn("Table summary failed, continuing without it",
				"table", t.PhysicalName, "error", err)
			tc.SummaryErr = err.Error()
		} else {
			tc.Summary = summary
		}
		tables = append(tables, tc)
	}

	return New(tables, s.Annotations)
}

// summarizeTable runs one aggregate query covering the row count and all
// per-column statistics, then top-k frequency queries for eligible text
// columns.
func (p *Provider) summarizeTable(ctx context.Context, t schema.Table) (*TableSummary, error) {
	selects := []string{"COUNT(*)"}
	for _, col := range t.Columns {
		ident := quoteIdent(col.Name)
		selects = append(selects,
			fmt.Sprintf("COUNT(*) - COUNT(%s)", ident),
			fmt.Sprintf("COUNT(DISTINCT %s)", ident),
		)
		if col.IsNumeric() {
			selects = append(selects,
				fmt.Sprintf("MIN(%s)::double precision", ident),
				fmt.Sprintf("MAX(%s)::double precision", ident),
				fmt.Sprintf("AVG(%s)::double precision", ident),
			)
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(selects, ", "), quoteIdent(t.PhysicalName))

	summary := &TableSummary{Columns: make([]ColumnSummary, len(t.Columns))}

	dests := []any{&summary.RowCount}
	mins := make([]sql.NullFloat64, len(t.Columns))
	maxs := make([]sql.NullFloat64, len(t.Columns))
	means := make([]sql.NullFloat64, len(t.Columns))
	for i, col := range t.Columns {
		summary.Columns[i].Name = col.Name
		dests = append(dests, &summary.Columns[i].NullCount, &summary.Columns[i].DistinctCount)
		if col.IsNumeric() {
			dests = append(dests, &mins[i], &maxs[i], &means[i])
		}
	}

	if err := p.db.QueryRowContext(ctx, query).Scan(dests...); err != nil {
		return nil, fmt.Errorf("summary query for %s: %w", t.PhysicalName, err)
	}

	for i, col := range t.Columns {
		if col.IsNumeric() {
			if mins[i].Valid {
				v := mins[i].Float64
				summary.Columns[i].Min = &v
			}
			if maxs[i].Valid {
				v := maxs[i].Float64
				summary.Columns[i].Max = &v
			}
			if means[i].Valid {
				v := means[i].Float64
				summary.Columns[i].Mean = &v
			}
		}
	}

	for i, col := range t.Columns {
		if !col.IsText() || summary.Columns[i].DistinctCount > cardinalityCap {
			continue
		}
		top, err := p.topValues(ctx, t.PhysicalName, col.Name)
		if err != nil {
			return nil, fmt.Errorf("top values for %s.%s: %w", t.PhysicalName, col.Name, err)
		}
		summary.Columns[i].TopValues = top
	}

	return summary, nil
}

func (p *Provider) topValues(ctx context.Context, table, column string) ([]ValueCount, error) {
	ident := quoteIdent(column)
	// Secondary ordering by value keeps the result deterministic on ties.
	query := fmt.Sprintf(
		"SELECT %s::text, COUNT(*) FROM %s WHERE %s IS NOT NULL GROUP BY %s ORDER BY COUNT(*) DESC, %s::text ASC LIMIT %d",
		ident, quoteIdent(table), ident, ident, ident, topK)

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ValueCount
	for rows.Next() {
		var vc ValueCount
		if err := rows.Scan(&vc.Value, &vc.Count); err != nil {
			return nil, err
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}

// quoteIdent quotes an identifier for interpolation into summary queries.
// Identifiers come from the trusted schema file, never from user input,
// but they are quoted regardless.
func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
