package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/castorhq/castor/pkg/models"
)

// registerPipelineHandler handles POST /api/v1/pipelines. Registration is
// an upsert keyed by pipeline_id.
func (s *Server) registerPipelineHandler(c *echo.Context) error {
	var req models.CreatePipelineRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	p, err := s.pipelines.Register(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, p)
}

// listPipelinesHandler handles GET /api/v1/pipelines.
func (s *Server) listPipelinesHandler(c *echo.Context) error {
	filter := models.PipelineFilter{
		TypeTag:  c.QueryParam("type_tag"),
		Platform: c.QueryParam("platform"),
		Status:   c.QueryParam("status"),
	}

	pipelines, err := s.pipelines.List(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, pipelines)
}

// getPipelineHandler handles GET /api/v1/pipelines/:id.
func (s *Server) getPipelineHandler(c *echo.Context) error {
	pipelineID := c.Param("id")
	if pipelineID == "" {
		return badRequest("pipeline id is required")
	}

	p, err := s.pipelines.Get(c.Request().Context(), pipelineID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, p)
}

// updatePipelineHandler handles PUT /api/v1/pipelines/:id. The path id wins
// over any pipeline_id in the body.
func (s *Server) updatePipelineHandler(c *echo.Context) error {
	pipelineID := c.Param("id")
	if pipelineID == "" {
		return badRequest("pipeline id is required")
	}

	var req models.CreatePipelineRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	req.PipelineID = pipelineID

	p, err := s.pipelines.Register(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, p)
}

// deletePipelineHandler handles DELETE /api/v1/pipelines/:id.
func (s *Server) deletePipelineHandler(c *echo.Context) error {
	pipelineID := c.Param("id")
	if pipelineID == "" {
		return badRequest("pipeline id is required")
	}

	if err := s.pipelines.Delete(c.Request().Context(), pipelineID); err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, map[string]any{"deleted": pipelineID})
}
