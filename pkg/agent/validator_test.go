package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeshi/datapulse/pkg/llm/llmtest"
)

func TestValidator_LexicalGate(t *testing.T) {
	t.Run("unknown identifiers are infeasible without an LLM call", func(t *testing.T) {
		chat := llmtest.NewScriptedChat()
		v := NewValidator(testGateway(chat), testPrompts(), nil)

		verdict, err := v.Validate(context.Background(), "",
			"What are the product categories?",
			[]string{"Group the product_category column of the catalog_items table"},
			testContext())
		require.NoError(t, err)
		assert.Equal(t, VerdictInfeasible, verdict.Status)
		assert.Contains(t, verdict.Rationale, "catalog_items")
		assert.Contains(t, verdict.Rationale, "do not exist")
		assert.Equal(t, 0, chat.Calls())
	})

	t.Run("near-match identifiers are substituted", func(t *testing.T) {
		chat := llmtest.NewScriptedChat()
		chat.AddSequential("FEASIBLE")
		v := NewValidator(testGateway(chat), testPrompts(), nil)

		verdict, err := v.Validate(context.Background(), "",
			"total amounts",
			[]string{"Sum the amount column of the transaction_records table"},
			testContext())
		require.NoError(t, err)
		// "transaction_records" has no near match; this plan is infeasible.
		assert.Equal(t, VerdictInfeasible, verdict.Status)

		chat2 := llmtest.NewScriptedChat()
		chat2.AddSequential("FEASIBLE")
		v2 := NewValidator(testGateway(chat2), testPrompts(), nil)

		verdict2, err := v2.Validate(context.Background(), "",
			"when did sales happen",
			[]string{"List distinct values of the sales_date column"},
			testContext())
		require.NoError(t, err)
		assert.Equal(t, VerdictRevised, verdict2.Status)
		assert.Contains(t, verdict2.Steps[0], "sale_date")
		assert.Contains(t, verdict2.Rationale, "sales_date -> sale_date")
	})
}

func TestValidator_VerdictParsing(t *testing.T) {
	steps := []string{"Count the rows of sales grouped by sale_date"}

	t.Run("feasible", func(t *testing.T) {
		chat := llmtest.NewScriptedChat()
		chat.AddSequential("FEASIBLE")
		v := NewValidator(testGateway(chat), testPrompts(), nil)

		verdict, err := v.Validate(context.Background(), "", "how many sales per day", steps, testContext())
		require.NoError(t, err)
		assert.Equal(t, VerdictFeasible, verdict.Status)
		assert.Equal(t, steps, verdict.Steps)
	})

	t.Run("infeasible with rationale", func(t *testing.T) {
		chat := llmtest.NewScriptedChat()
		chat.AddSequential("INFEASIBLE: the dataset has no refund information")
		v := NewValidator(testGateway(chat), testPrompts(), nil)

		verdict, err := v.Validate(context.Background(), "", "sum refunds", steps, testContext())
		require.NoError(t, err)
		assert.Equal(t, VerdictInfeasible, verdict.Status)
		assert.Equal(t, "the dataset has no refund information", verdict.Rationale)
	})

	t.Run("revised with replacement plan", func(t *testing.T) {
		chat := llmtest.NewScriptedChat()
		chat.AddSequential("REVISED: narrowed to one month\n1. Count rows of sales in April\n2. Return the count")
		v := NewValidator(testGateway(chat), testPrompts(), nil)

		verdict, err := v.Validate(context.Background(), "", "count sales", steps, testContext())
		require.NoError(t, err)
		assert.Equal(t, VerdictRevised, verdict.Status)
		assert.Equal(t, "narrowed to one month", verdict.Rationale)
		assert.Equal(t, []string{
			"Count rows of sales in April",
			"Return the count",
		}, verdict.Steps)
	})

	t.Run("unrecognized verdict is treated as feasible", func(t *testing.T) {
		chat := llmtest.NewScriptedChat()
		chat.AddSequential("Sure, the plan looks fine to me!")
		v := NewValidator(testGateway(chat), testPrompts(), nil)

		verdict, err := v.Validate(context.Background(), "", "count sales", steps, testContext())
		require.NoError(t, err)
		assert.Equal(t, VerdictFeasible, verdict.Status)
	})
}

func TestEditDistanceAtMost(t *testing.T) {
	assert.True(t, editDistanceAtMost("sales_date", "sale_date", 2))
	assert.True(t, editDistanceAtMost("amount", "amount", 2))
	assert.False(t, editDistanceAtMost("catalog_items", "sales", 2))
	assert.False(t, editDistanceAtMost("abcdef", "abcxyz", 2))
}
