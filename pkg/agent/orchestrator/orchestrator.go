package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/embeshi/datapulse/pkg/agent"
	"github.com/embeshi/datapulse/pkg/dbcontext"
	"github.com/embeshi/datapulse/pkg/executor"
	"github.com/embeshi/datapulse/pkg/llm"
	"github.com/embeshi/datapulse/pkg/metrics"
	"github.com/embeshi/datapulse/pkg/session"
)

// ContextProvider builds the per-turn database context.
type ContextProvider interface {
	Build(ctx context.Context) (*dbcontext.Context, error)
}

// SQLRunner executes approved SQL against the store.
type SQLRunner interface {
	Run(ctx context.Context, sqlText string) (*executor.Result, error)
}

// Orchestrator drives a full turn through the pipeline. It is re-entrant:
// concurrent turns share only the session store, which provides the
// atomicity the two-phase protocol depends on.
type Orchestrator struct {
	contexts    ContextProvider
	classifier  *agent.Classifier
	planner     *agent.Planner
	validator   *agent.Validator
	synthesizer *agent.Synthesizer
	runner      SQLRunner
	debugger    *agent.Debugger
	interpreter *agent.Interpreter
	describer   *agent.Describer
	sessions    *session.Store
	gateway     *llm.Client
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Contexts    ContextProvider
	Classifier  *agent.Classifier
	Planner     *agent.Planner
	Validator   *agent.Validator
	Synthesizer *agent.Synthesizer
	Runner      SQLRunner
	Debugger    *agent.Debugger
	Interpreter *agent.Interpreter
	Describer   *agent.Describer
	Sessions    *session.Store
	Gateway     *llm.Client
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		contexts:    deps.Contexts,
		classifier:  deps.Classifier,
		planner:     deps.Planner,
		validator:   deps.Validator,
		synthesizer: deps.Synthesizer,
		runner:      deps.Runner,
		debugger:    deps.Debugger,
		interpreter: deps.Interpreter,
		describer:   deps.Describer,
		sessions:    deps.Sessions,
		gateway:     deps.Gateway,
		metrics:     deps.Metrics,
		logger:      logger,
	}
}

// Analyze runs the analysis half of a turn: classify, plan, validate,
// synthesize. A session is persisted only after SQL synthesis succeeds,
// so a failed turn leaves no state behind.
func (o *Orchestrator) Analyze(ctx context.Context, utterance, priorSessionID string) AnalyzeResult {
	started := time.Now()
	defer func() {
		o.metrics.ObserveStage("analyze", time.Since(started).Seconds())
	}()

	// A retry bound to a prior turn replaces that turn's pending session
	// rather than leaving two approvals in flight.
	// Conversation memory under the prior id is kept: the new turn passes
	// the same id to the gateway for follow-up coherence.
	if priorSessionID != "" {
		if _, ok := o.sessions.Take(priorSessionID); ok {
			o.logger.Info("Discarded pending session on re-analyze", "session_id", priorSessionID)
		}
	}

	dctx, err := o.contexts.Build(ctx)
	if err != nil {
		o.logger.Error("Context construction failed", "error", err)
		return failedAnalyze(agent.StageContext, err)
	}

	intent, confidence := o.classifier.Classify(ctx, priorSessionID, utterance, dctx)
	o.metrics.RecordTurn(string(intent))
	o.logger.Info("Classified utterance", "intent", intent, "confidence", confidence)

	switch intent {
	case agent.IntentDescriptive:
		text, err := o.describer.Describe(ctx, priorSessionID, dctx)
		if err != nil {
			return failedAnalyze(agent.StageDescribe, err)
		}
		return AnalyzeResult{Kind: AnalyzeKindDescription, Description: text}

	case agent.IntentAnalytical:
		suggestions, err := o.planner.SuggestInsights(ctx, priorSessionID, utterance, dctx)
		if err != nil {
			return failedAnalyze(agent.StagePlan, err)
		}
		return AnalyzeResult{Kind: AnalyzeKindSuggestions, Suggestions: suggestions}

	default:
		return o.analyzeSpecific(ctx, utterance, priorSessionID, dctx)
	}
}

func (o *Orchestrator) analyzeSpecific(ctx context.Context, utterance, priorSessionID string, dctx *dbcontext.Context) AnalyzeResult {
	steps, err := o.planner.BuildPlan(ctx, priorSessionID, utterance, dctx)
	if err != nil {
		return failedAnalyze(agent.StagePlan, err)
	}

	verdict, err := o.validator.Validate(ctx, priorSessionID, utterance, steps, dctx)
	if err != nil {
		return failedAnalyze(agent.StagePlan, err)
	}
	if verdict.Status == agent.VerdictInfeasible {
		o.logger.Info("Plan judged infeasible", "rationale", verdict.Rationale)
		return AnalyzeResult{Kind: AnalyzeKindError, Stage: agent.StagePlan, Reason: verdict.Rationale}
	}
	if verdict.Status == agent.VerdictRevised {
		o.logger.Info("Plan revised during validation", "rationale", verdict.Rationale)
	}

	generated, err := o.synthesizer.Synthesize(ctx, priorSessionID, verdict.Steps, dctx)
	if err != nil {
		return failedAnalyze(agent.StageSQLSynth, err)
	}

	sess := session.Session{
		ID:        uuid.New().String(),
		Utterance: utterance,
		Intent:    string(agent.IntentSpecific),
		Plan:      generated.Steps,
		SQL:       generated.SQL,
		CreatedAt: time.Now(),
	}
	o.sessions.Put(sess)

	return AnalyzeResult{
		Kind:      AnalyzeKindSQL,
		SessionID: sess.ID,
		SQL:       generated.SQL,
		Warnings:  generated.Warnings,
		Plan:      generated.Steps,
	}
}

// Execute runs the approval half of a turn. The session is consumed
// before the statement runs, so a concurrent duplicate observes
// session-missing rather than a second execution.
func (o *Orchestrator) Execute(ctx context.Context, sessionID, approvedSQL string) ExecuteResult {
	sess, ok := o.sessions.Take(sessionID)
	if !ok {
		return ExecuteResult{Kind: ExecuteKindSessionMissing}
	}
	// The session is gone either way now; its conversation memory goes
	// with it once this turn finishes.
	defer o.gateway.DropMemory(sessionID)

	started := time.Now()
	result, err := o.runner.Run(ctx, approvedSQL)
	o.metrics.ObserveStage("execute", time.Since(started).Seconds())

	if err != nil {
		o.metrics.RecordExecution("error")
		o.logger.Info("Execution failed, requesting debug suggestion", "error", err)
		suggestion := o.debugger.Suggest(ctx, sessionID, sess.Utterance, approvedSQL, err.Error(), sess.Plan, o.debugContext(ctx))
		return ExecuteResult{
			Kind:            ExecuteKindExecError,
			EngineError:     err.Error(),
			DebugSuggestion: suggestion,
		}
	}
	o.metrics.RecordExecution("ok")

	interpretation, err := o.interpreter.Interpret(ctx, sessionID, sess.Utterance, result)
	if err != nil {
		return failedExecute(agent.StageInterpret, err)
	}

	return ExecuteResult{
		Kind:           ExecuteKindResult,
		Columns:        result.Columns,
		Rows:           result.Rows,
		RowCount:       result.RowCount,
		Truncated:      result.Truncated,
		Interpretation: interpretation,
	}
}

// debugContext rebuilds the database context for the debugger. The
// analyze-phase context is not carried across the approval gap; contexts
// are per-turn values and the execute call is a new turn boundary.
func (o *Orchestrator) debugContext(ctx context.Context) *dbcontext.Context {
	dctx, err := o.contexts.Build(ctx)
	if err != nil {
		o.logger.Warn("Context rebuild for debugger failed", "error", err)
		return dbcontext.New(nil, nil)
	}
	return dctx
}

func failedAnalyze(fallbackStage string, err error) AnalyzeResult {
	stage, reason := stageAndReason(fallbackStage, err)
	return AnalyzeResult{Kind: AnalyzeKindError, Stage: stage, Reason: reason}
}

func failedExecute(fallbackStage string, err error) ExecuteResult {
	stage, reason := stageAndReason(fallbackStage, err)
	return ExecuteResult{Kind: ExecuteKindError, Stage: stage, Reason: reason}
}

// stageAndReason unwraps a stage error without rewriting its semantics.
func stageAndReason(fallbackStage string, err error) (string, string) {
	var stageErr *agent.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, stageErr.Err.Error()
	}
	return fallbackStage, err.Error()
}
