package agent

import (
	"context"

	"github.com/embeshi/datapulse/pkg/agent/prompt"
	"github.com/embeshi/datapulse/pkg/dbcontext"
	"github.com/embeshi/datapulse/pkg/llm"
)

// Describer synthesizes a dataset overview directly from context.
// No SQL is issued on this path.
type Describer struct {
	llm     *llm.Client
	prompts *prompt.Builder
}

// NewDescriber creates a describer.
func NewDescriber(client *llm.Client, prompts *prompt.Builder) *Describer {
	return &Describer{llm: client, prompts: prompts}
}

// Describe produces the dataset overview.
func (d *Describer) Describe(ctx context.Context, sessionID string, dctx *dbcontext.Context) (string, error) {
	out, err := d.llm.Complete(ctx, llm.Request{
		SessionID: sessionID,
		Messages:  d.prompts.BuildDescribeMessages(dctx),
	})
	if err != nil {
		return "", NewStageError(StageDescribe, err)
	}
	return out, nil
}
