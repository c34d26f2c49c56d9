package api

import (
	"github.com/embeshi/datapulse/pkg/agent/orchestrator"
	"github.com/embeshi/datapulse/pkg/database"
	"github.com/embeshi/datapulse/pkg/sqlcheck"
)

// AnalyzeResponse is returned by POST /analyze, discriminated by Kind.
type AnalyzeResponse struct {
	Kind string `json:"kind"`

	// kind="sql"
	SessionID string   `json:"session_id,omitempty"`
	SQL       string   `json:"sql,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
	Plan      []string `json:"plan,omitempty"`

	// kind="suggestions"
	Suggestions []string `json:"suggestions,omitempty"`

	// kind="description"
	Text string `json:"text,omitempty"`

	// kind="error"
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// ExecuteResponse is returned by POST /execute, discriminated by Kind.
type ExecuteResponse struct {
	Kind string `json:"kind"`

	// kind="result"
	Rows           []map[string]any `json:"rows,omitempty"`
	RowCount       int              `json:"row_count,omitempty"`
	Truncated      bool             `json:"truncated,omitempty"`
	Interpretation string           `json:"interpretation,omitempty"`

	// kind="exec_error". DebugSuggestion is null when no suggestion
	// survived validation, so the key is always present on this kind.
	EngineError     string  `json:"engine_error,omitempty"`
	DebugSuggestion *string `json:"debug_suggestion"`

	// kind="error"
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Database *database.HealthStatus `json:"database,omitempty"`
	Sessions int                    `json:"pending_sessions"`
}

func toAnalyzeResponse(result orchestrator.AnalyzeResult) *AnalyzeResponse {
	resp := &AnalyzeResponse{Kind: result.Kind}
	switch result.Kind {
	case orchestrator.AnalyzeKindSQL:
		resp.SessionID = result.SessionID
		resp.SQL = result.SQL
		resp.Warnings = sqlcheck.Strings(result.Warnings)
		resp.Plan = result.Plan
	case orchestrator.AnalyzeKindSuggestions:
		resp.Suggestions = result.Suggestions
	case orchestrator.AnalyzeKindDescription:
		resp.Text = result.Description
	case orchestrator.AnalyzeKindError:
		resp.Stage = result.Stage
		resp.Message = result.Reason
	}
	return resp
}

func toExecuteResponse(result orchestrator.ExecuteResult) *ExecuteResponse {
	resp := &ExecuteResponse{Kind: result.Kind}
	switch result.Kind {
	case orchestrator.ExecuteKindResult:
		resp.Rows = result.Rows
		resp.RowCount = result.RowCount
		resp.Truncated = result.Truncated
		resp.Interpretation = result.Interpretation
	case orchestrator.ExecuteKindExecError:
		resp.EngineError = result.EngineError
		if result.DebugSuggestion != "" {
			s := result.DebugSuggestion
			resp.DebugSuggestion = &s
		}
	case orchestrator.ExecuteKindError:
		resp.Stage = result.Stage
		resp.Message = result.Reason
	}
	return resp
}
