package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeshi/datapulse/pkg/agent"
	"github.com/embeshi/datapulse/pkg/agent/prompt"
	"github.com/embeshi/datapulse/pkg/dbcontext"
	"github.com/embeshi/datapulse/pkg/executor"
	"github.com/embeshi/datapulse/pkg/llm"
	"github.com/embeshi/datapulse/pkg/llm/llmtest"
	"github.com/embeshi/datapulse/pkg/schema"
	"github.com/embeshi/datapulse/pkg/session"
)

// staticContexts serves a fixed context, or a fixed error.
type staticContexts struct {
	dctx *dbcontext.Context
	err  error
}

func (s staticContexts) Build(context.Context) (*dbcontext.Context, error) {
	return s.dctx, s.err
}

// fakeRunner returns scripted execution outcomes and counts invocations.
type fakeRunner struct {
	mu     sync.Mutex
	result *executor.Result
	err    error
	calls  int
}

func (r *fakeRunner) Run(context.Context, string) (*executor.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func (r *fakeRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func salesContext() *dbcontext.Context {
	return dbcontext.New([]dbcontext.TableContext{{
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
	}}, nil)
}

// scriptSpecificTurn wires routes for a full specific-intent turn.
func scriptSpecificTurn(chat *llmtest.ScriptedChat) {
	chat.AddRoute("Classify this request", "specific")
	chat.AddRoute("Write an analysis plan",
		"1. Count the rows of sales with sale_date equal to the requested day\n2. Return the count")
	chat.AddRoute("Proposed plan", "FEASIBLE")
	chat.AddRoute("It failed validation", "SELECT COUNT(*) FROM sales")
	chat.AddRoute("Translate this plan", "SELECT COUNT(*) FROM sales WHERE sale_date = '2025-04-11'")
	chat.AddRoute("The query returned", "There were 2 sales on 2025-04-11.")
	chat.AddRoute("This statement failed", "SELECT COUNT(*) FROM sales")
}

type testEnv struct {
	orch     *Orchestrator
	sessions *session.Store
	chat     *llmtest.ScriptedChat
	runner   *fakeRunner
}

func newTestEnv(t *testing.T, contexts ContextProvider, runner *fakeRunner) *testEnv {
	t.Helper()

	chat := llmtest.NewScriptedChat()
	gateway := llm.NewClient(chat, "test-model", llm.WithRetryConfig(llm.RetryConfig{
		MaxAttempts:       2,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        2 * time.Millisecond,
		TotalBudget:       time.Second,
	}))
	prompts := prompt.NewBuilder()
	sessions := session.NewStore(15 * time.Minute)

	orch := New(Deps{
		Contexts:    contexts,
		Classifier:  agent.NewClassifier(gateway, prompts, nil),
		Planner:     agent.NewPlanner(gateway, prompts, nil),
		Validator:   agent.NewValidator(gateway, prompts, nil),
		Synthesizer: agent.NewSynthesizer(gateway, prompts, nil),
		Runner:      runner,
		Debugger:    agent.NewDebugger(gateway, prompts, nil),
		Interpreter: agent.NewInterpreter(gateway, prompts),
		Describer:   agent.NewDescriber(gateway, prompts),
		Sessions:    sessions,
		Gateway:     gateway,
	})

	return &testEnv{orch: orch, sessions: sessions, chat: chat, runner: runner}
}

func TestAnalyze_ContextFailure(t *testing.T) {
	env := newTestEnv(t,
		staticContexts{err: fmt.Errorf("failed to read schema file: no such file")},
		&fakeRunner{})

	result := env.orch.Analyze(context.Background(), "how many sales?", "")
	assert.Equal(t, AnalyzeKindError, result.Kind)
	assert.Equal(t, agent.StageContext, result.Stage)
	assert.Equal(t, 0, env.sessions.Len())
}

// A question about entities the dataset does not have must die at the
// plan gate, before any SQL is generated.
func TestAnalyze_InfeasiblePlan(t *testing.T) {
	env := newTestEnv(t, staticContexts{dctx: salesContext()}, &fakeRunner{})
	env.chat.AddRoute("Classify this request", "specific")
	env.chat.AddRoute("Write an analysis plan",
		"1. Group the products table by its category column\n2. Count products per category")

	result := env.orch.Analyze(context.Background(),
		"What are the different product categories and how many products in each?", "")

	assert.Equal(t, AnalyzeKindError, result.Kind)
	assert.Equal(t, agent.StagePlan, result.Stage)
	assert.Contains(t, result.Reason, "do not exist")
	assert.Equal(t, 0, env.sessions.Len(), "failed turns leave no session behind")
}

func TestAnalyze_SpecificHappyPath(t *testing.T) {
	env := newTestEnv(t, staticContexts{dctx: salesContext()}, &fakeRunner{})
	scriptSpecificTurn(env.chat)

	result := env.orch.Analyze(context.Background(), "How many sales happened on 2025-04-11?", "")

	require.Equal(t, AnalyzeKindSQL, result.Kind)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "SELECT COUNT(*) FROM sales WHERE sale_date = '2025-04-11'", result.SQL)
	assert.Empty(t, result.Warnings)
	assert.NotEmpty(t, result.Plan)

	t.Run("session is stored until executed", func(t *testing.T) {
		assert.Equal(t, 1, env.sessions.Len())
	})

	t.Run("re-analyzing with a deterministic LLM reproduces the SQL", func(t *testing.T) {
		again := env.orch.Analyze(context.Background(), "How many sales happened on 2025-04-11?", "")
		require.Equal(t, AnalyzeKindSQL, again.Kind)
		assert.Equal(t, result.SQL, again.SQL)
		assert.NotEqual(t, result.SessionID, again.SessionID)
	})
}

// A retry bound to a prior turn replaces that turn's pending session.
func TestAnalyze_RetryReplacesSession(t *testing.T) {
	env := newTestEnv(t, staticContexts{dctx: salesContext()}, &fakeRunner{})
	scriptSpecificTurn(env.chat)

	first := env.orch.Analyze(context.Background(), "How many sales happened on 2025-04-11?", "")
	require.Equal(t, AnalyzeKindSQL, first.Kind)

	second := env.orch.Analyze(context.Background(),
		"How many sales happened on 2025-04-12?", first.SessionID)
	require.Equal(t, AnalyzeKindSQL, second.Kind)

	assert.Equal(t, 1, env.sessions.Len(), "the prior pending session is replaced, not kept")
	repeat := env.orch.Execute(context.Background(), first.SessionID, first.SQL)
	assert.Equal(t, ExecuteKindSessionMissing, repeat.Kind)
}

func TestAnalyze_Suggestions(t *testing.T) {
	env := newTestEnv(t, staticContexts{dctx: salesContext()}, &fakeRunner{})
	env.chat.AddRoute("Classify this request", "exploratory_analytical")
	env.chat.AddRoute("Suggest analyses",
		"1. What is the total sales amount per product?\n"+
			"2. How many sales occur per day?\n"+
			"3. Which product sells most often?\n"+
			"4. What is the average sale amount?\n"+
			"5. How do sales trend over time?\n"+
			"6. Which day had the highest revenue?")

	result := env.orch.Analyze(context.Background(), "give me some interesting insights", "")

	require.Equal(t, AnalyzeKindSuggestions, result.Kind)
	assert.GreaterOrEqual(t, len(result.Suggestions), 5)
	assert.LessOrEqual(t, len(result.Suggestions), 7)
	for _, s := range result.Suggestions {
		assert.LessOrEqual(t, len(strings.Fields(s)), 30, "suggestion too long: %s", s)
	}
	assert.Equal(t, 0, env.sessions.Len(), "suggestion turns store no session")
}

func TestAnalyze_Description(t *testing.T) {
	env := newTestEnv(t, staticContexts{dctx: salesContext()}, &fakeRunner{})
	env.chat.AddRoute("Classify this request", "exploratory_descriptive")
	env.chat.AddRoute("Describe this dataset",
		"The dataset holds a single sales table with four columns tracking individual transactions.")

	result := env.orch.Analyze(context.Background(), "what's in this dataset?", "")

	require.Equal(t, AnalyzeKindDescription, result.Kind)
	assert.Contains(t, result.Description, "sales")
	assert.Equal(t, 0, env.sessions.Len())
}

func TestExecute_Success(t *testing.T) {
	runner := &fakeRunner{result: &executor.Result{
		Columns:  []string{"count"},
		Rows:     []map[string]any{{"count": int64(2)}},
		RowCount: 1,
	}}
	env := newTestEnv(t, staticContexts{dctx: salesContext()}, runner)
	scriptSpecificTurn(env.chat)

	analyzed := env.orch.Analyze(context.Background(), "How many sales happened on 2025-04-11?", "")
	require.Equal(t, AnalyzeKindSQL, analyzed.Kind)

	result := env.orch.Execute(context.Background(), analyzed.SessionID, analyzed.SQL)

	require.Equal(t, ExecuteKindResult, result.Kind)
	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, int64(2), result.Rows[0]["count"])
	assert.Contains(t, result.Interpretation, "2")
	assert.Contains(t, result.Interpretation, "2025-04-11")

	t.Run("session is consumed", func(t *testing.T) {
		assert.Equal(t, 0, env.sessions.Len())
		repeat := env.orch.Execute(context.Background(), analyzed.SessionID, analyzed.SQL)
		assert.Equal(t, ExecuteKindSessionMissing, repeat.Kind)
		assert.Equal(t, 1, runner.Calls(), "consumed sessions never reach the executor")
	})
}

func TestExecute_EngineError(t *testing.T) {
	runner := &fakeRunner{err: &executor.EngineError{
		Message: `syntax error at or near "SELEC"`, Code: "42601",
	}}
	env := newTestEnv(t, staticContexts{dctx: salesContext()}, runner)
	scriptSpecificTurn(env.chat)

	analyzed := env.orch.Analyze(context.Background(), "How many sales happened on 2025-04-11?", "")
	require.Equal(t, AnalyzeKindSQL, analyzed.Kind)

	result := env.orch.Execute(context.Background(), analyzed.SessionID, "SELEC COUNT(*) FROM sales")

	require.Equal(t, ExecuteKindExecError, result.Kind)
	assert.Contains(t, result.EngineError, "SELEC")
	assert.Equal(t, "SELECT COUNT(*) FROM sales", result.DebugSuggestion,
		"debug suggestion must be a validated SELECT")

	t.Run("failed execution still consumes the session", func(t *testing.T) {
		repeat := env.orch.Execute(context.Background(), analyzed.SessionID, analyzed.SQL)
		assert.Equal(t, ExecuteKindSessionMissing, repeat.Kind)
	})
}

func TestExecute_InvalidDebugSuggestionDropped(t *testing.T) {
	runner := &fakeRunner{err: &executor.EngineError{Message: "boom"}}
	env := newTestEnv(t, staticContexts{dctx: salesContext()}, runner)
	env.chat.AddRoute("Classify this request", "specific")
	env.chat.AddRoute("Write an analysis plan", "1. Count rows of sales")
	env.chat.AddRoute("Proposed plan", "FEASIBLE")
	env.chat.AddRoute("Translate this plan", "SELECT COUNT(*) FROM sales")
	// The debugger proposes a write statement; it must be dropped.
	env.chat.AddRoute("This statement failed", "DELETE FROM sales")

	analyzed := env.orch.Analyze(context.Background(), "How many sales?", "")
	require.Equal(t, AnalyzeKindSQL, analyzed.Kind)

	result := env.orch.Execute(context.Background(), analyzed.SessionID, analyzed.SQL)
	require.Equal(t, ExecuteKindExecError, result.Kind)
	assert.Empty(t, result.DebugSuggestion)
}

func TestExecute_SessionMissing(t *testing.T) {
	env := newTestEnv(t, staticContexts{dctx: salesContext()}, &fakeRunner{})

	result := env.orch.Execute(context.Background(), "unknown-session", "SELECT 1")
	assert.Equal(t, ExecuteKindSessionMissing, result.Kind)
	assert.Equal(t, 0, env.runner.Calls())
}

// Concurrent executes on one session: exactly one terminal outcome, the
// rest observe session-missing, and the executor runs at most once.
func TestExecute_ConcurrentDuplicates(t *testing.T) {
	runner := &fakeRunner{result: &executor.Result{
		Columns:  []string{"count"},
		Rows:     []map[string]any{{"count": int64(2)}},
		RowCount: 1,
	}}
	env := newTestEnv(t, staticContexts{dctx: salesContext()}, runner)
	scriptSpecificTurn(env.chat)

	analyzed := env.orch.Analyze(context.Background(), "How many sales happened on 2025-04-11?", "")
	require.Equal(t, AnalyzeKindSQL, analyzed.Kind)

	const callers = 8
	results := make(chan ExecuteResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- env.orch.Execute(context.Background(), analyzed.SessionID, analyzed.SQL)
		}()
	}
	wg.Wait()
	close(results)

	terminal, missing := 0, 0
	for r := range results {
		switch r.Kind {
		case ExecuteKindResult, ExecuteKindExecError:
			terminal++
		case ExecuteKindSessionMissing:
			missing++
		}
	}
	assert.Equal(t, 1, terminal)
	assert.Equal(t, callers-1, missing)
	assert.Equal(t, 1, runner.Calls())
}

func TestExecute_ExpiredSession(t *testing.T) {
	env := newTestEnv(t, staticContexts{dctx: salesContext()}, &fakeRunner{})
	scriptSpecificTurn(env.chat)

	analyzed := env.orch.Analyze(context.Background(), "How many sales happened on 2025-04-11?", "")
	require.Equal(t, AnalyzeKindSQL, analyzed.Kind)

	// Age the stored session past the TTL.
	sess, ok := env.sessions.Take(analyzed.SessionID)
	require.True(t, ok)
	sess.CreatedAt = sess.CreatedAt.Add(-16 * time.Minute)
	env.sessions.Put(sess)

	result := env.orch.Execute(context.Background(), analyzed.SessionID, analyzed.SQL)
	assert.Equal(t, ExecuteKindSessionMissing, result.Kind)
	assert.Equal(t, 0, env.runner.Calls())
}

func TestAnalyze_SynthFailure(t *testing.T) {
	env := newTestEnv(t, staticContexts{dctx: salesContext()}, &fakeRunner{})
	env.chat.AddRoute("Classify this request", "specific")
	env.chat.AddRoute("Write an analysis plan", "1. Count rows of sales")
	env.chat.AddRoute("Proposed plan", "FEASIBLE")
	env.chat.AddRoute("It failed validation", "DELETE FROM sales")
	env.chat.AddRoute("Translate this plan", "DELETE FROM sales")

	result := env.orch.Analyze(context.Background(), "how many sales?", "")
	assert.Equal(t, AnalyzeKindError, result.Kind)
	assert.Equal(t, agent.StageSQLSynth, result.Stage)
	assert.Equal(t, 0, env.sessions.Len())
}

func TestAnalyze_LLMFailureSurfacesStage(t *testing.T) {
	env := newTestEnv(t, staticContexts{dctx: salesContext()}, &fakeRunner{})
	env.chat.AddRoute("Classify this request", "specific")
	env.chat.AddRouteError("Write an analysis plan", errors.New("provider unavailable"))

	result := env.orch.Analyze(context.Background(), "how many sales?", "")
	assert.Equal(t, AnalyzeKindError, result.Kind)
	assert.Equal(t, agent.StagePlan, result.Stage)
	assert.Contains(t, result.Reason, "llm_transport")
}
