// Package executor runs approved SQL against the dataset store.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/embeshi/datapulse/pkg/sqlcheck"
)

// Result holds the rows returned by a successful execution. Columns
// preserves the statement's projection order; RowCount is the true number
// of rows the statement produced, even when Rows was truncated at the cap.
type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
}

// EngineError is a typed execution failure carrying the engine message and
// the SQLSTATE code when the engine supplies one.
type EngineError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (SQLSTATE %s)", e.Message, e.Code)
	}
	return e.Message
}

// ErrNotReadOnly is returned for statements containing write keywords.
// The guard runs before the statement ever reaches the store.
var ErrNotReadOnly = errors.New("statement is not read-only")

// Executor runs read-only SQL with a wall-clock cap and a row cap.
type Executor struct {
	db           *sql.DB
	queryTimeout time.Duration
	rowCap       int
}

// New creates an executor.
func New(db *sql.DB, queryTimeout time.Duration, rowCap int) *Executor {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	if rowCap <= 0 {
		rowCap = 10_000
	}
	return &Executor{db: db, queryTimeout: queryTimeout, rowCap: rowCap}
}

// Run executes a single statement and returns its rows, or an *EngineError
// when the engine rejects it. Statements that fail the read-only guard are
// refused with ErrNotReadOnly.
func (e *Executor) Run(ctx context.Context, sqlText string) (*Result, error) {
	stmt, ok := sqlcheck.SingleStatement(sqlText)
	if !ok {
		return nil, &EngineError{Message: "exactly one SQL statement is allowed"}
	}
	if !sqlcheck.ReadOnly(stmt) {
		return nil, ErrNotReadOnly
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := e.db.QueryContext(queryCtx, stmt)
	if err != nil {
		return nil, engineError(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, engineError(err)
	}

	result := &Result{Columns: columns}
	for rows.Next() {
		if len(result.Rows) >= e.rowCap {
			// Keep draining to report the true row count.
			result.Truncated = true
			result.RowCount++
			continue
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, engineError(err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		result.Rows = append(result.Rows, row)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, engineError(err)
	}

	return result, nil
}

// engineError maps a driver error to the typed engine failure, extracting
// the SQLSTATE code when pgx supplies one.
func engineError(err error) *EngineError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &EngineError{Message: pgErr.Message, Code: pgErr.Code}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &EngineError{Message: "query exceeded the execution time cap"}
	}
	return &EngineError{Message: err.Error()}
}

// normalize converts driver-specific scan values into JSON-friendly types.
func normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return v
	}
}
