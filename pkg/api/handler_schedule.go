package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// generateSlotsHandler handles POST /api/v1/schedule/generate-slots.
// Idempotent per (config, date): existing slots for the day are returned
// unchanged instead of being regenerated.
func (s *Server) generateSlotsHandler(c *echo.Context) error {
	var req generateSlotsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.ConfigID == "" {
		return badRequest("config_id is required")
	}
	date, err := time.Parse("2006-01-02", req.TargetDate)
	if err != nil {
		return badRequest("invalid target_date: must be YYYY-MM-DD")
	}

	slots, err := s.slots.GenerateSlots(c.Request().Context(), req.ConfigID, date, req.StartHour, req.EndHour, req.Strategy)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, slots)
}

// listSlotsHandler handles GET /api/v1/schedule/slots.
func (s *Server) listSlotsHandler(c *echo.Context) error {
	configID := c.QueryParam("config_id")
	if configID == "" {
		return badRequest("config_id is required")
	}
	date := c.QueryParam("date")
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return badRequest("invalid date: must be YYYY-MM-DD")
		}
	}

	slots, err := s.slots.ListSlots(c.Request().Context(), configID, date)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, slots)
}
