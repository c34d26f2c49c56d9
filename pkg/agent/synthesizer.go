package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/embeshi/datapulse/pkg/agent/prompt"
	"github.com/embeshi/datapulse/pkg/dbcontext"
	"github.com/embeshi/datapulse/pkg/llm"
	"github.com/embeshi/datapulse/pkg/sqlcheck"
)

// Generated is the synthesizer's output: the statement exactly as the
// model produced it (never silently rewritten) plus the validation
// findings the user sees alongside it.
type Generated struct {
	SQL      string
	Warnings []sqlcheck.Warning
	Steps    []string
}

// Synthesizer translates a feasible plan into a single SQL statement,
// self-validates it lexically, and refines exactly once when validation
// finds unknown identifiers.
type Synthesizer struct {
	llm     *llm.Client
	prompts *prompt.Builder
	logger  *slog.Logger
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(client *llm.Client, prompts *prompt.Builder, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{llm: client, prompts: prompts, logger: logger}
}

// Synthesize produces the statement for a validated plan. Remaining soft
// warnings are surfaced, not fatal; a statement that still contains a
// write keyword or multiple statements after refinement fails the stage.
func (s *Synthesizer) Synthesize(ctx context.Context, sessionID string, steps []string, dctx *dbcontext.Context) (Generated, error) {
	out, err := s.llm.Complete(ctx, llm.Request{
		SessionID: sessionID,
		Messages:  s.prompts.BuildSynthesizeMessages(steps, dctx),
	})
	if err != nil {
		return Generated{}, NewStageError(StageSQLSynth, err)
	}

	stmt, warnings, fatal := s.checkStatement(out, dctx)

	// One refinement pass, with the findings attached as feedback.
	if fatal != "" || sqlcheck.HasHard(warnings) || sqlcheck.HasForbidden(warnings) {
		feedback := sqlcheck.Strings(warnings)
		if fatal != "" {
			feedback = append([]string{fatal}, feedback...)
		}
		failed := stmt
		if failed == "" {
			failed = out
		}
		s.logger.Info("Refining generated SQL", "findings", feedback)

		refined, err := s.llm.Complete(ctx, llm.Request{
			SessionID: sessionID,
			Messages:  s.prompts.BuildRefineMessages(steps, failed, feedback, dctx),
		})
		if err != nil {
			return Generated{}, NewStageError(StageSQLSynth, err)
		}
		stmt, warnings, fatal = s.checkStatement(refined, dctx)
	}

	// Refinement is bounded at one pass; whatever remains is either
	// surfaced as warnings or, for conditions this surface can never run,
	// a stage failure.
	if fatal != "" {
		return Generated{}, NewStageError(StageSQLSynth, fmt.Errorf("%s", fatal))
	}
	if sqlcheck.HasForbidden(warnings) {
		return Generated{}, NewStageError(StageSQLSynth,
			fmt.Errorf("generated statement contains a write keyword"))
	}

	return Generated{SQL: stmt, Warnings: warnings, Steps: steps}, nil
}

// checkStatement parses and lexically validates one completion. fatal is
// non-empty for conditions that cannot be surfaced as mere warnings.
func (s *Synthesizer) checkStatement(out string, dctx *dbcontext.Context) (stmt string, warnings []sqlcheck.Warning, fatal string) {
	stmt, ok := sqlcheck.SingleStatement(llm.StripFences(out))
	if !ok {
		return "", nil, "output must be exactly one SQL statement"
	}
	return stmt, sqlcheck.Validate(stmt, dctx.Catalog()), ""
}
