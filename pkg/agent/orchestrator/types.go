// Package orchestrator threads the pipeline stages into the two-phase
// analyze/execute protocol and owns the session store.
package orchestrator

import (
	"github.com/embeshi/datapulse/pkg/sqlcheck"
)

// Result kinds for Analyze. These discriminate the tagged result the
// transport serializes.
const (
	AnalyzeKindSQL         = "sql"
	AnalyzeKindSuggestions = "suggestions"
	AnalyzeKindDescription = "description"
	AnalyzeKindError       = "error"
)

// AnalyzeResult is the tagged outcome of one analyze turn. Exactly the
// fields for the active Kind are populated.
type AnalyzeResult struct {
	Kind string

	// Kind "sql": generated SQL awaiting approval.
	SessionID string
	SQL       string
	Warnings  []sqlcheck.Warning
	Plan      []string

	// Kind "suggestions".
	Suggestions []string

	// Kind "description".
	Description string

	// Kind "error".
	Stage  string
	Reason string
}

// Result kinds for Execute.
const (
	ExecuteKindResult         = "result"
	ExecuteKindExecError      = "exec_error"
	ExecuteKindSessionMissing = "session_missing"
	ExecuteKindError          = "error"
)

// ExecuteResult is the tagged outcome of one execute call.
type ExecuteResult struct {
	Kind string

	// Kind "result".
	Columns        []string
	Rows           []map[string]any
	RowCount       int
	Truncated      bool
	Interpretation string

	// Kind "exec_error". DebugSuggestion is empty when no suggestion
	// survived validation.
	EngineError     string
	DebugSuggestion string

	// Kind "error".
	Stage  string
	Reason string
}
