// Package agent implements the LLM-driven pipeline stages: intent
// classification, planning, plan validation, SQL synthesis, debugging,
// interpretation, and dataset description.
package agent

import "fmt"

// Intent labels a user utterance.
type Intent string

// The three intents.
const (
	IntentSpecific    Intent = "specific"
	IntentAnalytical  Intent = "exploratory_analytical"
	IntentDescriptive Intent = "exploratory_descriptive"
)

// Pipeline stage labels, surfaced as the "stage" field on failures.
const (
	StageContext   = "context"
	StageIntent    = "intent"
	StagePlan      = "plan"
	StageSQLSynth  = "sql_synth"
	StageExec      = "exec"
	StageInterpret = "interpret"
	StageDescribe  = "describe"
)

// StageError wraps a stage failure with its stage label. The orchestrator
// routes stage errors to response shapes without rewriting their meaning.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with a stage label.
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}
