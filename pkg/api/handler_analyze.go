package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// analyzeHandler handles POST /analyze.
// Runs the analysis half of a turn and returns the discriminated result.
func (s *Server) analyzeHandler(c *echo.Context) error {
	// 1. Bind HTTP request
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// 2. Validate required fields
	if req.Utterance == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "utterance field is required")
	}
	if len(req.Utterance) > maxUtteranceSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "utterance exceeds maximum size")
	}

	// 3. Run the pipeline. Pipeline failures are structured results, not
	// transport errors; 4xx/5xx is reserved for malformed input.
	result := s.orchestrator.Analyze(c.Request().Context(), req.Utterance, req.SessionID)

	// 4. Return response
	return c.JSON(http.StatusOK, toAnalyzeResponse(result))
}
