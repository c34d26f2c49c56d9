package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/embeshi/datapulse/pkg/agent/prompt"
	"github.com/embeshi/datapulse/pkg/executor"
	"github.com/embeshi/datapulse/pkg/llm"
)

// interpretSampleRows bounds how many rows travel into the prompt.
const interpretSampleRows = 50

// Interpreter turns result rows into a natural-language answer grounded
// in the original utterance.
type Interpreter struct {
	llm     *llm.Client
	prompts *prompt.Builder
}

// NewInterpreter creates an interpreter.
func NewInterpreter(client *llm.Client, prompts *prompt.Builder) *Interpreter {
	return &Interpreter{llm: client, prompts: prompts}
}

// Interpret produces the summary paragraph for an execution result.
func (i *Interpreter) Interpret(ctx context.Context, sessionID, utterance string, result *executor.Result) (string, error) {
	sampled := len(result.Rows) > interpretSampleRows
	rows := result.Rows
	if sampled {
		rows = rows[:interpretSampleRows]
	}

	out, err := i.llm.Complete(ctx, llm.Request{
		SessionID: sessionID,
		Messages: i.prompts.BuildInterpretMessages(
			utterance,
			renderRows(result.Columns, rows),
			result.RowCount,
			result.Truncated || sampled,
		),
	})
	if err != nil {
		return "", NewStageError(StageInterpret, err)
	}
	return out, nil
}

// renderRows serializes rows compactly, preserving projection order.
func renderRows(columns []string, rows []map[string]any) string {
	if len(rows) == 0 {
		return "(no rows)"
	}
	var b strings.Builder
	for _, row := range rows {
		parts := make([]string, len(columns))
		for i, col := range columns {
			parts[i] = fmt.Sprintf("%s=%v", col, row[col])
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
