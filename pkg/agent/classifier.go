package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/embeshi/datapulse/pkg/dbcontext"
	"github.com/embeshi/datapulse/pkg/llm"
	"github.com/embeshi/datapulse/pkg/agent/prompt"
)

// fallbackConfidence is assigned when keyword rules decide the label.
const fallbackConfidence = 0.4

// Classifier labels an utterance with one of the three intents. It never
// fails: when the LLM path is unusable it falls back to keyword rules and
// ultimately to the specific intent.
type Classifier struct {
	llm     *llm.Client
	prompts *prompt.Builder
	logger  *slog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(client *llm.Client, prompts *prompt.Builder, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{llm: client, prompts: prompts, logger: logger}
}

// Classify returns the intent label and a confidence score in [0,1].
// Inconclusive classification (rule ties, no signal) resolves to the
// specific intent, whose output still passes a human approval gate.
func (c *Classifier) Classify(ctx context.Context, sessionID, utterance string, dctx *dbcontext.Context) (Intent, float64) {
	label, confidence := c.classifyLLM(ctx, sessionID, utterance, dctx)
	if label == "" {
		label, confidence = classifyByRules(utterance, dctx)
	}
	return label, confidence
}

func (c *Classifier) classifyLLM(ctx context.Context, sessionID, utterance string, dctx *dbcontext.Context) (Intent, float64) {
	out, err := c.llm.Complete(ctx, llm.Request{
		SessionID: sessionID,
		Messages:  c.prompts.BuildClassifyMessages(utterance, dctx),
	})
	if err != nil {
		c.logger.Warn("Intent classification LLM call failed, using keyword fallback", "error", err)
		return "", 0
	}

	switch strings.ToLower(strings.TrimSpace(out)) {
	case string(IntentSpecific):
		return IntentSpecific, 0.9
	case string(IntentAnalytical):
		return IntentAnalytical, 0.9
	case string(IntentDescriptive):
		return IntentDescriptive, 0.9
	}
	c.logger.Warn("Intent classification returned an unknown label, using keyword fallback",
		"label", strings.TrimSpace(out))
	return "", 0
}

var (
	specificMarkers    = []string{"how many", "list ", "what is the", "which ", "count ", "total ", "average ", "on 20", "in 20"}
	analyticalMarkers  = []string{"explore", "insight", "suggest", "interesting", "trend", "pattern"}
	descriptiveMarkers = []string{"describe", "overview", "what's in", "whats in", "what is in", "summarize the dataset"}
)

// classifyByRules is the deterministic fallback when the LLM path fails.
// Ties default to specific.
func classifyByRules(utterance string, dctx *dbcontext.Context) (Intent, float64) {
	lower := strings.ToLower(utterance)

	scores := map[Intent]int{}
	for _, m := range analyticalMarkers {
		if strings.Contains(lower, m) {
			scores[IntentAnalytical]++
		}
	}
	for _, m := range descriptiveMarkers {
		if strings.Contains(lower, m) {
			scores[IntentDescriptive]++
		}
	}
	for _, m := range specificMarkers {
		if strings.Contains(lower, m) {
			scores[IntentSpecific]++
		}
	}
	// A token matching a schema column is strong evidence of a specific
	// value question.
	for _, cols := range dctx.Catalog() {
		for _, col := range cols {
			if strings.Contains(lower, strings.ToLower(col)) {
				scores[IntentSpecific]++
			}
		}
	}

	best, bestScore, tie := IntentSpecific, 0, false
	for _, intent := range []Intent{IntentSpecific, IntentAnalytical, IntentDescriptive} {
		switch {
		case scores[intent] > bestScore:
			best, bestScore, tie = intent, scores[intent], false
		case scores[intent] == bestScore && scores[intent] > 0 && intent != best:
			tie = true
		}
	}
	if tie || bestScore == 0 {
		return IntentSpecific, fallbackConfidence
	}
	return best, fallbackConfidence
}
