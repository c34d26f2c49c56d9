package agent

import (
	"context"
	"log/slog"

	"github.com/embeshi/datapulse/pkg/agent/prompt"
	"github.com/embeshi/datapulse/pkg/dbcontext"
	"github.com/embeshi/datapulse/pkg/llm"
	"github.com/embeshi/datapulse/pkg/sqlcheck"
)

// Debugger proposes a corrected statement after an execution failure.
// The suggestion is only ever shown to the user, never executed.
type Debugger struct {
	llm     *llm.Client
	prompts *prompt.Builder
	logger  *slog.Logger
}

// NewDebugger creates a debugger.
func NewDebugger(client *llm.Client, prompts *prompt.Builder, logger *slog.Logger) *Debugger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Debugger{llm: client, prompts: prompts, logger: logger}
}

// Suggest returns a corrected statement, or "" when no suggestion passes
// validation. There is no refinement pass here: a suggestion that fails
// validation is dropped rather than iterated on.
func (d *Debugger) Suggest(ctx context.Context, sessionID, utterance, failedSQL, engineError string, steps []string, dctx *dbcontext.Context) string {
	out, err := d.llm.Complete(ctx, llm.Request{
		SessionID: sessionID,
		Messages:  d.prompts.BuildDebugMessages(utterance, failedSQL, engineError, steps, dctx),
	})
	if err != nil {
		d.logger.Warn("SQL debug suggestion failed", "error", err)
		return ""
	}

	stmt, ok := sqlcheck.SingleStatement(llm.StripFences(out))
	if !ok {
		d.logger.Warn("SQL debug suggestion was not a single statement")
		return ""
	}

	warnings := sqlcheck.Validate(stmt, dctx.Catalog())
	if sqlcheck.HasHard(warnings) || sqlcheck.HasForbidden(warnings) {
		d.logger.Warn("SQL debug suggestion failed validation",
			"warnings", sqlcheck.Strings(warnings))
		return ""
	}
	return stmt
}
