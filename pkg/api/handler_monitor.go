package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/castorhq/castor/pkg/services"
)

// createMonitorHandler handles POST /api/v1/monitors.
func (s *Server) createMonitorHandler(c *echo.Context) error {
	var req createMonitorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	m, err := s.monitors.Create(c.Request().Context(), services.CreateMonitorInput{
		Name:                 req.Name,
		Platform:             req.Platform,
		MonitorType:          req.MonitorType,
		TargetIdentifier:     req.TargetIdentifier,
		CheckIntervalSeconds: req.CheckIntervalSeconds,
		Config:               req.Config,
	})
	if err != nil {
		return mapServiceError(err)
	}
	s.reconcileMonitors(c)
	return respond(c, http.StatusCreated, m)
}

// listMonitorsHandler handles GET /api/v1/monitors.
func (s *Server) listMonitorsHandler(c *echo.Context) error {
	activeOnly := c.QueryParam("active_only") == "true"

	monitors, err := s.monitors.List(c.Request().Context(), activeOnly)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, monitors)
}

// getMonitorHandler handles GET /api/v1/monitors/:id.
func (s *Server) getMonitorHandler(c *echo.Context) error {
	monitorID := c.Param("id")
	if monitorID == "" {
		return badRequest("monitor id is required")
	}

	m, err := s.monitors.Get(c.Request().Context(), monitorID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, m)
}

// updateMonitorHandler handles PUT /api/v1/monitors/:id.
func (s *Server) updateMonitorHandler(c *echo.Context) error {
	monitorID := c.Param("id")
	if monitorID == "" {
		return badRequest("monitor id is required")
	}

	var req updateMonitorRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	m, err := s.monitors.Update(c.Request().Context(), monitorID, services.UpdateMonitorInput{
		Name:                 req.Name,
		TargetIdentifier:     req.TargetIdentifier,
		CheckIntervalSeconds: req.CheckIntervalSeconds,
		Active:               req.Active,
		Config:               req.Config,
	})
	if err != nil {
		return mapServiceError(err)
	}
	s.reconcileMonitors(c)
	return respond(c, http.StatusOK, m)
}

// deleteMonitorHandler handles DELETE /api/v1/monitors/:id.
func (s *Server) deleteMonitorHandler(c *echo.Context) error {
	monitorID := c.Param("id")
	if monitorID == "" {
		return badRequest("monitor id is required")
	}

	if err := s.monitors.Delete(c.Request().Context(), monitorID); err != nil {
		return mapServiceError(err)
	}
	s.reconcileMonitors(c)
	return respond(c, http.StatusOK, map[string]any{"deleted": monitorID})
}

// startMonitorHandler handles POST /api/v1/monitors/:id/start.
func (s *Server) startMonitorHandler(c *echo.Context) error {
	return s.setMonitorActive(c, true)
}

// stopMonitorHandler handles POST /api/v1/monitors/:id/stop.
func (s *Server) stopMonitorHandler(c *echo.Context) error {
	return s.setMonitorActive(c, false)
}

func (s *Server) setMonitorActive(c *echo.Context, active bool) error {
	monitorID := c.Param("id")
	if monitorID == "" {
		return badRequest("monitor id is required")
	}

	m, err := s.monitors.SetActive(c.Request().Context(), monitorID, active)
	if err != nil {
		return mapServiceError(err)
	}
	s.reconcileMonitors(c)
	return respond(c, http.StatusOK, m)
}

// reconcileMonitors nudges the local runner so poller changes take effect
// without waiting for the periodic reconcile. Best effort.
func (s *Server) reconcileMonitors(c *echo.Context) {
	if s.monitorRunner == nil {
		return
	}
	if err := s.monitorRunner.Reconcile(c.Request().Context()); err != nil {
		s.logger.Warn("Monitor reconcile after API change failed", "error", err)
	}
}
