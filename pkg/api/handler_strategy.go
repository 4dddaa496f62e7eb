package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/castorhq/castor/pkg/services"
)

// parseDatePtr parses an optional RFC3339 timestamp.
func parseDatePtr(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// createStrategyHandler handles POST /api/v1/strategies.
func (s *Server) createStrategyHandler(c *echo.Context) error {
	var req createStrategyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	startDate, err := parseDatePtr(req.StartDate)
	if err != nil {
		return badRequest("invalid start_date: must be RFC3339")
	}
	endDate, err := parseDatePtr(req.EndDate)
	if err != nil {
		return badRequest("invalid end_date: must be RFC3339")
	}

	strat, err := s.strategies.Create(c.Request().Context(), services.CreateStrategyInput{
		Name:       req.Name,
		Type:       req.Type,
		Parameters: req.Parameters,
		StartDate:  startDate,
		EndDate:    endDate,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, strat)
}

// listStrategiesHandler handles GET /api/v1/strategies.
func (s *Server) listStrategiesHandler(c *echo.Context) error {
	activeOnly := c.QueryParam("active_only") == "true"

	strategies, err := s.strategies.List(c.Request().Context(), activeOnly)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, strategies)
}

// getStrategyHandler handles GET /api/v1/strategies/:id.
func (s *Server) getStrategyHandler(c *echo.Context) error {
	strategyID := c.Param("id")
	if strategyID == "" {
		return badRequest("strategy id is required")
	}

	strat, err := s.strategies.Get(c.Request().Context(), strategyID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, strat)
}

// updateStrategyHandler handles PUT /api/v1/strategies/:id.
func (s *Server) updateStrategyHandler(c *echo.Context) error {
	strategyID := c.Param("id")
	if strategyID == "" {
		return badRequest("strategy id is required")
	}

	var req updateStrategyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	startDate, err := parseDatePtr(req.StartDate)
	if err != nil {
		return badRequest("invalid start_date: must be RFC3339")
	}
	endDate, err := parseDatePtr(req.EndDate)
	if err != nil {
		return badRequest("invalid end_date: must be RFC3339")
	}

	strat, err := s.strategies.Update(c.Request().Context(), strategyID, services.UpdateStrategyInput{
		Name:       req.Name,
		Parameters: req.Parameters,
		Active:     req.Active,
		StartDate:  startDate,
		EndDate:    endDate,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, strat)
}

// deleteStrategyHandler handles DELETE /api/v1/strategies/:id.
func (s *Server) deleteStrategyHandler(c *echo.Context) error {
	strategyID := c.Param("id")
	if strategyID == "" {
		return badRequest("strategy id is required")
	}

	if err := s.strategies.Delete(c.Request().Context(), strategyID); err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, map[string]any{"deleted": strategyID})
}

// addAssignmentHandler handles POST /api/v1/strategies/:id/assignments.
func (s *Server) addAssignmentHandler(c *echo.Context) error {
	strategyID := c.Param("id")
	if strategyID == "" {
		return badRequest("strategy id is required")
	}

	var req addAssignmentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	assignment, err := s.strategies.AddAssignment(c.Request().Context(), strategyID, services.CreateAssignmentInput{
		GroupID:     req.GroupID,
		VariantName: req.VariantName,
		Payload:     req.Payload,
		Weight:      req.Weight,
		IsControl:   req.IsControl,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, assignment)
}

// listAssignmentsHandler handles GET /api/v1/strategies/:id/assignments.
func (s *Server) listAssignmentsHandler(c *echo.Context) error {
	strategyID := c.Param("id")
	if strategyID == "" {
		return badRequest("strategy id is required")
	}

	assignments, err := s.strategies.ListAssignments(c.Request().Context(), strategyID, c.QueryParam("group_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, assignments)
}

// removeAssignmentHandler handles DELETE /api/v1/strategies/:id/assignments/:assignmentID.
func (s *Server) removeAssignmentHandler(c *echo.Context) error {
	strategyID := c.Param("id")
	assignmentID := c.Param("assignmentID")
	if strategyID == "" || assignmentID == "" {
		return badRequest("strategy id and assignment id are required")
	}

	if err := s.strategies.RemoveAssignment(c.Request().Context(), strategyID, assignmentID); err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, map[string]any{"removed": assignmentID})
}
