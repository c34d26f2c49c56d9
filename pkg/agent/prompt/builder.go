// Package prompt builds all prompt text for the pipeline stages.
// Stateless — all state comes from parameters.
package prompt

import (
	"fmt"
	"strings"

	"github.com/embeshi/datapulse/pkg/dbcontext"
	"github.com/embeshi/datapulse/pkg/llm"
)

// Builder composes stage prompts from the database context and stage
// inputs. Thread-safe — no mutable state.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

const analystRole = "You are a data analyst working against the dataset described below. " +
	"Only reference tables and columns that appear in the dataset description."

// BuildClassifyMessages builds the intent classification conversation.
func (b *Builder) BuildClassifyMessages(utterance string, dctx *dbcontext.Context) []llm.Message {
	system := analystRole + "\n\n" + dctx.Render() + "\n\n" + classifyInstructions
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Classify this request:\n\n%s", utterance)},
	}
}

// BuildPlanMessages builds the conceptual-plan conversation.
func (b *Builder) BuildPlanMessages(utterance string, dctx *dbcontext.Context) []llm.Message {
	system := analystRole + "\n\n" + dctx.Render() + "\n\n" + planInstructions
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Write an analysis plan for:\n\n%s", utterance)},
	}
}

// BuildInsightsMessages builds the suggested-analyses conversation.
func (b *Builder) BuildInsightsMessages(utterance string, dctx *dbcontext.Context) []llm.Message {
	system := analystRole + "\n\n" + dctx.Render() + "\n\n" + insightsInstructions
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: fmt.Sprintf("The user asked:\n\n%s\n\nSuggest analyses of this dataset.", utterance)},
	}
}

// BuildValidateMessages builds the plan feasibility conversation.
func (b *Builder) BuildValidateMessages(utterance string, steps []string, dctx *dbcontext.Context) []llm.Message {
	system := analystRole + "\n\n" + dctx.Render() + "\n\n" + validateInstructions
	user := fmt.Sprintf("User request:\n%s\n\nProposed plan:\n%s", utterance, NumberSteps(steps))
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
}

// BuildSynthesizeMessages builds the SQL generation conversation.
func (b *Builder) BuildSynthesizeMessages(steps []string, dctx *dbcontext.Context) []llm.Message {
	system := analystRole + "\n\n" + dctx.Render() + "\n\n" + synthesizeInstructions
	user := fmt.Sprintf("Translate this plan into one PostgreSQL SELECT statement:\n\n%s", NumberSteps(steps))
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
}

// BuildRefineMessages builds the single refinement pass after validation
// warnings. The failed statement and its warnings travel as feedback.
func (b *Builder) BuildRefineMessages(steps []string, failedSQL string, warnings []string, dctx *dbcontext.Context) []llm.Message {
	system := analystRole + "\n\n" + dctx.Render() + "\n\n" + synthesizeInstructions
	user := fmt.Sprintf(
		"Translate this plan into one PostgreSQL SELECT statement:\n\n%s\n\n"+
			"Your previous attempt:\n%s\n\nIt failed validation:\n- %s\n\n"+
			"Produce a corrected statement that resolves every finding.",
		NumberSteps(steps), failedSQL, strings.Join(warnings, "\n- "))
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
}

// BuildDebugMessages builds the failed-execution repair conversation.
func (b *Builder) BuildDebugMessages(utterance, failedSQL, engineError string, steps []string, dctx *dbcontext.Context) []llm.Message {
	system := analystRole + "\n\n" + dctx.Render() + "\n\n" + debugInstructions
	var user strings.Builder
	fmt.Fprintf(&user, "User request:\n%s\n\n", utterance)
	if len(steps) > 0 {
		fmt.Fprintf(&user, "Analysis plan:\n%s\n\n", NumberSteps(steps))
	}
	fmt.Fprintf(&user, "This statement failed:\n%s\n\nEngine error:\n%s", failedSQL, engineError)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user.String()},
	}
}

// BuildInterpretMessages builds the result interpretation conversation.
// rowsBlock is the pre-serialized result sample; truncated notes whether
// the sample omits rows.
func (b *Builder) BuildInterpretMessages(utterance, rowsBlock string, rowCount int, truncated bool) []llm.Message {
	user := fmt.Sprintf("The user asked:\n%s\n\nThe query returned %d rows.", utterance, rowCount)
	if truncated {
		user += " Only a sample of the rows is shown below; mention that the results were truncated."
	}
	user += "\n\nRows:\n" + rowsBlock
	return []llm.Message{
		{Role: llm.RoleSystem, Content: interpretInstructions},
		{Role: llm.RoleUser, Content: user},
	}
}

// BuildDescribeMessages builds the dataset overview conversation.
func (b *Builder) BuildDescribeMessages(dctx *dbcontext.Context) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: describeInstructions},
		{Role: llm.RoleUser, Content: "Describe this dataset:\n\n" + dctx.Render()},
	}
}

// NumberSteps renders plan steps as a numbered list.
func NumberSteps(steps []string) string {
	var b strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return strings.TrimRight(b.String(), "\n")
}
