package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// startExecutorHandler handles POST /api/v1/executor/start. Resumes task
// claiming on this pod's worker pool.
func (s *Server) startExecutorHandler(c *echo.Context) error {
	if s.pool == nil {
		return apiError(http.StatusConflict, CodeConflict, "no worker pool on this pod")
	}
	s.pool.Resume()
	return respond(c, http.StatusOK, map[string]any{"accepting": true})
}

// stopExecutorHandler handles POST /api/v1/executor/stop. Pauses claiming;
// running tasks finish normally.
func (s *Server) stopExecutorHandler(c *echo.Context) error {
	if s.pool == nil {
		return apiError(http.StatusConflict, CodeConflict, "no worker pool on this pod")
	}
	s.pool.Pause()
	return respond(c, http.StatusOK, map[string]any{"accepting": false})
}

// executorStatusHandler handles GET /api/v1/executor/status.
func (s *Server) executorStatusHandler(c *echo.Context) error {
	if s.pool == nil {
		return apiError(http.StatusConflict, CodeConflict, "no worker pool on this pod")
	}
	return respond(c, http.StatusOK, &ExecutorStatusResponse{
		Accepting: s.pool.Accepting(),
		Pool:      s.pool.Health(),
	})
}
