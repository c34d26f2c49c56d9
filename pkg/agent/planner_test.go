package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeshi/datapulse/pkg/agent/prompt"
	"github.com/embeshi/datapulse/pkg/llm"
	"github.com/embeshi/datapulse/pkg/llm/llmtest"
)

func TestParseListLines(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{
			"numbered with dots",
			"1. count rows\n2. filter by date",
			[]string{"count rows", "filter by date"},
		},
		{
			"numbered with parens",
			"1) count rows\n2) filter by date",
			[]string{"count rows", "filter by date"},
		},
		{
			"dashes and blanks",
			"- one\n\n- two\n",
			[]string{"one", "two"},
		},
		{
			"unmarked lines",
			"first\nsecond",
			[]string{"first", "second"},
		},
		{
			"empty",
			"\n  \n",
			nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseListLines(tc.in))
		})
	}
}

func TestPlanner_BuildPlan(t *testing.T) {
	t.Run("parses numbered steps", func(t *testing.T) {
		chat := llmtest.NewScriptedChat()
		chat.AddSequential("1. Count the rows of sales filtered to the given date\n2. Return the count")
		p := NewPlanner(testGateway(chat), testPrompts(), nil)

		steps, err := p.BuildPlan(context.Background(), "", "how many sales on 2025-04-11", testContext())
		require.NoError(t, err)
		assert.Equal(t, []string{
			"Count the rows of sales filtered to the given date",
			"Return the count",
		}, steps)
	})

	t.Run("empty output fails the plan stage", func(t *testing.T) {
		chat := llmtest.NewScriptedChat()
		chat.AddSequential("\n\n")
		p := NewPlanner(testGateway(chat), testPrompts(), nil)

		_, err := p.BuildPlan(context.Background(), "", "how many sales", testContext())
		require.Error(t, err)

		var stageErr *StageError
		require.True(t, errors.As(err, &stageErr))
		assert.Equal(t, StagePlan, stageErr.Stage)
	})
}

func TestPlanner_SuggestInsights(t *testing.T) {
	t.Run("returns one suggestion per line", func(t *testing.T) {
		chat := llmtest.NewScriptedChat()
		chat.AddSequential(
			"1. What is the total sales amount per product?\n" +
				"2. How many sales occur per day?\n" +
				"3. Which product sells most often?\n" +
				"4. What is the average sale amount?\n" +
				"5. How do sales trend over time?")
		p := NewPlanner(testGateway(chat), testPrompts(), nil)

		suggestions, err := p.SuggestInsights(context.Background(), "", "insights please", testContext())
		require.NoError(t, err)
		assert.Len(t, suggestions, 5)
		for _, s := range suggestions {
			assert.NotContains(t, s, "1.")
		}
	})

	t.Run("overlong lists are capped", func(t *testing.T) {
		chat := llmtest.NewScriptedChat()
		chat.AddSequential("1. a\n2. b\n3. c\n4. d\n5. e\n6. f\n7. g\n8. h\n9. i")
		p := NewPlanner(testGateway(chat), testPrompts(), nil)

		suggestions, err := p.SuggestInsights(context.Background(), "", "insights", testContext())
		require.NoError(t, err)
		assert.Len(t, suggestions, 7)
	})

	t.Run("LLM failure fails the plan stage", func(t *testing.T) {
		chat := llmtest.NewScriptedChat()
		chat.AddSequentialError(llm.ErrQuota)
		chat.AddSequentialError(llm.ErrQuota)
		p := NewPlanner(testGateway(chat), testPrompts(), nil)

		_, err := p.SuggestInsights(context.Background(), "", "insights", testContext())
		require.Error(t, err)
		assert.ErrorIs(t, err, llm.ErrQuota)
	})
}

func TestNumberedRendering(t *testing.T) {
	// Stage prompts render plans as numbered lists; parse and render must
	// round-trip.
	steps := []string{"count rows", "return the count"}
	assert.Equal(t, steps, ParseListLines(prompt.NumberSteps(steps)))
}
