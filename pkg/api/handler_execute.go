package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/embeshi/datapulse/pkg/agent/orchestrator"
)

// executeHandler handles POST /execute.
// Consumes the pending session and runs the approved SQL.
func (s *Server) executeHandler(c *echo.Context) error {
	// 1. Bind HTTP request
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// 2. Validate required fields
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id field is required")
	}
	if req.ApprovedSQL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "approved_sql field is required")
	}

	// 3. Run the execution half of the turn
	result := s.orchestrator.Execute(c.Request().Context(), req.SessionID, req.ApprovedSQL)

	// 4. Unknown or expired sessions are the one client-recoverable case
	// with a dedicated status code.
	status := http.StatusOK
	if result.Kind == orchestrator.ExecuteKindSessionMissing {
		status = http.StatusNotFound
	}
	return c.JSON(status, toExecuteResponse(result))
}
