package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/embeshi/datapulse/pkg/agent/prompt"
	"github.com/embeshi/datapulse/pkg/dbcontext"
	"github.com/embeshi/datapulse/pkg/llm"
)

const (
	minInsights = 5
	maxInsights = 7
)

// Planner produces conceptual analysis plans and suggested analyses.
type Planner struct {
	llm     *llm.Client
	prompts *prompt.Builder
	logger  *slog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(client *llm.Client, prompts *prompt.Builder, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{llm: client, prompts: prompts, logger: logger}
}

// BuildPlan produces an ordered list of conceptual steps for a specific
// question. Fails when the LLM yields no usable steps.
func (p *Planner) BuildPlan(ctx context.Context, sessionID, utterance string, dctx *dbcontext.Context) ([]string, error) {
	out, err := p.llm.Complete(ctx, llm.Request{
		SessionID: sessionID,
		Messages:  p.prompts.BuildPlanMessages(utterance, dctx),
	})
	if err != nil {
		return nil, NewStageError(StagePlan, err)
	}

	steps := ParseListLines(out)
	if len(steps) == 0 {
		return nil, NewStageError(StagePlan, fmt.Errorf("planner produced no steps"))
	}
	return steps, nil
}

// SuggestInsights produces self-contained analytical questions for an
// exploratory request. The list is capped at the upper bound; short lists
// are surfaced as-is rather than failing the turn.
func (p *Planner) SuggestInsights(ctx context.Context, sessionID, utterance string, dctx *dbcontext.Context) ([]string, error) {
	out, err := p.llm.Complete(ctx, llm.Request{
		SessionID: sessionID,
		Messages:  p.prompts.BuildInsightsMessages(utterance, dctx),
	})
	if err != nil {
		return nil, NewStageError(StagePlan, err)
	}

	suggestions := ParseListLines(out)
	if len(suggestions) == 0 {
		return nil, NewStageError(StagePlan, fmt.Errorf("planner produced no suggestions"))
	}
	if len(suggestions) > maxInsights {
		suggestions = suggestions[:maxInsights]
	}
	if len(suggestions) < minInsights {
		p.logger.Warn("Planner returned fewer suggestions than requested",
			"count", len(suggestions), "want_at_least", minInsights)
	}
	return suggestions, nil
}

// enumeration markers tolerated at the start of list lines.
var listMarker = regexp.MustCompile(`^\s*(?:\d+[.):]\s*|[-*•]\s*)`)

// ParseListLines splits LLM list output into items, stripping enumeration
// markers and blank lines.
func ParseListLines(out string) []string {
	var items []string
	for _, line := range strings.Split(out, "\n") {
		line = listMarker.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		items = append(items, line)
	}
	return items
}
