// Package api provides the HTTP transport veneer over the orchestrator.
package api

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/embeshi/datapulse/pkg/agent/orchestrator"
	"github.com/embeshi/datapulse/pkg/database"
	"github.com/embeshi/datapulse/pkg/metrics"
	"github.com/embeshi/datapulse/pkg/schema"
	"github.com/embeshi/datapulse/pkg/session"
)

// maxUtteranceSize bounds the utterance accepted by /analyze.
const maxUtteranceSize = 16 * 1024

// Server is the HTTP API server.
type Server struct {
	echo         *echo.Echo
	httpServer   *http.Server
	orchestrator *orchestrator.Orchestrator
	dbClient     *database.Client
	sessions     *session.Store
	schemaPath   string
	metrics      *metrics.Metrics
}

// NewServer creates a new API server with Echo v5.
func NewServer(
	orch *orchestrator.Orchestrator,
	dbClient *database.Client,
	sessions *session.Store,
	schemaPath string,
	m *metrics.Metrics,
) *Server {
	e := echo.New()

	s := &Server{
		echo:         e,
		orchestrator: orch,
		dbClient:     dbClient,
		sessions:     sessions,
		schemaPath:   schemaPath,
		metrics:      m,
	}

	s.setupRoutes()
	return s
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	// Reject oversized payloads at the HTTP read level, before
	// deserialization.
	s.echo.Use(middleware.BodyLimit(64 * 1024))
	s.echo.Use(securityHeaders())
	s.echo.Use(requestLogger())

	s.echo.POST("/analyze", s.analyzeHandler)
	s.echo.POST("/execute", s.executeHandler)

	s.echo.GET("/health", s.healthHandler)
	if s.metrics != nil {
		promHandler := promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})
		s.echo.GET("/metrics", func(c *echo.Context) error {
			promHandler.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/schema", s.schemaHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// This lets a caller serve on a listener it bound itself, such as one on
// a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Echo exposes the underlying router for handler tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// schemaHandler handles GET /api/v1/schema: the structured schema
// description, for diagnostics.
func (s *Server) schemaHandler(c *echo.Context) error {
	parsed, err := schema.Load(s.schemaPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, parsed)
}
