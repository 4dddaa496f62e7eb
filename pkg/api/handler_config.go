package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/castorhq/castor/ent/publishconfig"
	"github.com/castorhq/castor/pkg/services"
	"github.com/castorhq/castor/pkg/trigger"
)

// createConfigHandler handles POST /api/v1/publish-configs.
func (s *Server) createConfigHandler(c *echo.Context) error {
	var req createConfigRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	cfg, err := s.configs.Create(c.Request().Context(), services.CreateConfigInput{
		Name:           req.Name,
		GroupID:        req.GroupID,
		PipelineID:     req.PipelineID,
		TriggerKind:    req.TriggerKind,
		TriggerConfig:  req.TriggerConfig,
		StrategyID:     req.StrategyID,
		Priority:       req.Priority,
		PipelineParams: req.PipelineParams,
		PublishPolicy:  req.PublishPolicy,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, cfg)
}

// listConfigsHandler handles GET /api/v1/publish-configs.
func (s *Server) listConfigsHandler(c *echo.Context) error {
	triggerKind := c.QueryParam("trigger_kind")
	if triggerKind != "" {
		if err := publishconfig.TriggerKindValidator(publishconfig.TriggerKind(triggerKind)); err != nil {
			return badRequest("invalid trigger_kind: must be scheduled or monitor")
		}
	}
	activeOnly := c.QueryParam("active_only") == "true"

	configs, err := s.configs.List(c.Request().Context(), triggerKind, activeOnly)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, configs)
}

// getConfigHandler handles GET /api/v1/publish-configs/:id.
func (s *Server) getConfigHandler(c *echo.Context) error {
	configID := c.Param("id")
	if configID == "" {
		return badRequest("config id is required")
	}

	cfg, err := s.configs.Get(c.Request().Context(), configID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, cfg)
}

// updateConfigHandler handles PUT /api/v1/publish-configs/:id.
func (s *Server) updateConfigHandler(c *echo.Context) error {
	configID := c.Param("id")
	if configID == "" {
		return badRequest("config id is required")
	}

	var req updateConfigRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	cfg, err := s.configs.Update(c.Request().Context(), configID, services.UpdateConfigInput{
		Name:           req.Name,
		GroupID:        req.GroupID,
		PipelineID:     req.PipelineID,
		TriggerConfig:  req.TriggerConfig,
		StrategyID:     req.StrategyID,
		Priority:       req.Priority,
		PipelineParams: req.PipelineParams,
		PublishPolicy:  req.PublishPolicy,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, cfg)
}

// deleteConfigHandler handles DELETE /api/v1/publish-configs/:id.
func (s *Server) deleteConfigHandler(c *echo.Context) error {
	configID := c.Param("id")
	if configID == "" {
		return badRequest("config id is required")
	}

	if err := s.configs.Delete(c.Request().Context(), configID); err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, map[string]any{"deleted": configID})
}

// toggleConfigHandler handles POST /api/v1/publish-configs/:id/toggle.
func (s *Server) toggleConfigHandler(c *echo.Context) error {
	configID := c.Param("id")
	if configID == "" {
		return badRequest("config id is required")
	}

	cfg, err := s.configs.Toggle(c.Request().Context(), configID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, cfg)
}

// nextFireHandler handles GET /api/v1/publish-configs/:id/next-fire.
// Computes the next fire time from the stored trigger config without
// mutating anything; monitor-triggered configs have no schedule.
func (s *Server) nextFireHandler(c *echo.Context) error {
	configID := c.Param("id")
	if configID == "" {
		return badRequest("config id is required")
	}

	cfg, err := s.configs.Get(c.Request().Context(), configID)
	if err != nil {
		return mapServiceError(err)
	}
	if cfg.TriggerKind != publishconfig.TriggerKindScheduled {
		return badRequest("next-fire is only defined for scheduled configs")
	}

	spec, err := trigger.ParseSpec(cfg.TriggerConfig)
	if err != nil {
		return badRequest("invalid trigger config: " + err.Error())
	}
	next, err := spec.NextFire(time.Now().UTC())
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, &NextFireResponse{
		ConfigID: configID,
		NextFire: next.UTC().Format(time.RFC3339),
	})
}
