package agent

import (
	"time"

	"github.com/embeshi/datapulse/pkg/agent/prompt"
	"github.com/embeshi/datapulse/pkg/dbcontext"
	"github.com/embeshi/datapulse/pkg/llm"
	"github.com/embeshi/datapulse/pkg/llm/llmtest"
	"github.com/embeshi/datapulse/pkg/schema"
)

// testContext builds a two-table context matching the seed dataset used
// across the stage tests.
func testContext() *dbcontext.Context {
	return dbcontext.New([]dbcontext.TableContext{
		{
			Table: schema.Table{
				Name:         "sales",
				PhysicalName: "sales",
				Columns: []schema.Column{
					{Name: "sale_id", Type: "integer"},
					{Name: "product_id", Type: "integer"},
					{Name: "amount", Type: "numeric"},
					{Name: "sale_date", Type: "date", Nullable: true},
				},
			},
		},
	}, nil)
}

// testGateway wires a scripted chat into a real gateway with fast retries.
func testGateway(chat *llmtest.ScriptedChat) *llm.Client {
	return llm.NewClient(chat, "test-model", llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        2 * time.Millisecond,
		TotalBudget:       time.Second,
	}))
}

func testPrompts() *prompt.Builder {
	return prompt.NewBuilder()
}
