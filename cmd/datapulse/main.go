// Datapulse server - turns natural-language questions about a dataset into
// validated, user-approved SQL and natural-language answers.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/embeshi/datapulse/pkg/agent"
	"github.com/embeshi/datapulse/pkg/agent/orchestrator"
	"github.com/embeshi/datapulse/pkg/agent/prompt"
	"github.com/embeshi/datapulse/pkg/api"
	"github.com/embeshi/datapulse/pkg/config"
	"github.com/embeshi/datapulse/pkg/database"
	"github.com/embeshi/datapulse/pkg/dbcontext"
	"github.com/embeshi/datapulse/pkg/executor"
	"github.com/embeshi/datapulse/pkg/llm"
	"github.com/embeshi/datapulse/pkg/metrics"
	"github.com/embeshi/datapulse/pkg/schema"
	"github.com/embeshi/datapulse/pkg/session"
	"github.com/embeshi/datapulse/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using existing environment")
	}

	slog.Info("Starting datapulse", "version", version.Full())

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Validate the schema description file at startup so a missing file
	// fails fast instead of failing every turn.
	if _, err := schema.Load(cfg.SchemaPath); err != nil {
		slog.Error("Failed to load schema description", "path", cfg.SchemaPath, "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to dataset store")

	m := metrics.New()

	gateway, err := llm.NewClientFromAPIKey(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel,
		llm.WithMaxConcurrent(cfg.LLMMaxConcurrent),
		llm.WithMetrics(m),
	)
	if err != nil {
		slog.Error("Failed to create LLM gateway", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM gateway configured", "model", cfg.LLMModel)

	sessions := session.NewStore(cfg.SessionTTL)
	sessions.Start(ctx)
	defer sessions.Stop()

	prompts := prompt.NewBuilder()
	logger := slog.Default()

	orch := orchestrator.New(orchestrator.Deps{
		Contexts:    dbcontext.NewProvider(dbClient.DB(), cfg.SchemaPath, logger),
		Classifier:  agent.NewClassifier(gateway, prompts, logger),
		Planner:     agent.NewPlanner(gateway, prompts, logger),
		Validator:   agent.NewValidator(gateway, prompts, logger),
		Synthesizer: agent.NewSynthesizer(gateway, prompts, logger),
		Runner:      executor.New(dbClient.DB(), cfg.QueryTimeout, cfg.RowCap),
		Debugger:    agent.NewDebugger(gateway, prompts, logger),
		Interpreter: agent.NewInterpreter(gateway, prompts),
		Describer:   agent.NewDescriber(gateway, prompts),
		Sessions:    sessions,
		Gateway:     gateway,
		Metrics:     m,
		Logger:      logger,
	})

	server := api.NewServer(orch, dbClient, sessions, cfg.SchemaPath, m)

	go func() {
		slog.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := server.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
}
