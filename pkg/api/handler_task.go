package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/castorhq/castor/ent/autopublishtask"
	"github.com/castorhq/castor/pkg/models"
)

// listTasksHandler handles GET /api/v1/auto-publish/tasks.
func (s *Server) listTasksHandler(c *echo.Context) error {
	params := models.TaskListParams{
		Page:     1,
		PageSize: 25,
	}

	if v := c.QueryParam("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			params.Page = p
		}
	}
	if v := c.QueryParam("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 100 {
			params.PageSize = ps
		}
	}
	params.ConfigID = c.QueryParam("config_id")
	if v := c.QueryParam("pipeline_status"); v != "" {
		if err := autopublishtask.PipelineStatusValidator(autopublishtask.PipelineStatus(v)); err != nil {
			return badRequest("invalid pipeline_status: " + v)
		}
		params.PipelineStatus = v
	}
	if v := c.QueryParam("publish_status"); v != "" {
		if err := autopublishtask.PublishStatusValidator(autopublishtask.PublishStatus(v)); err != nil {
			return badRequest("invalid publish_status: " + v)
		}
		params.PublishStatus = v
	}

	tasks, total, err := s.tasks.List(c.Request().Context(), params)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, &ListResponse{
		Items:    tasks,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

// getTaskHandler handles GET /api/v1/auto-publish/tasks/:id.
func (s *Server) getTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return badRequest("task id is required")
	}

	task, err := s.tasks.Get(c.Request().Context(), taskID)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, task)
}

// retryTaskHandler handles POST /api/v1/auto-publish/tasks/:id/retry.
// The original row is immutable; the retry is a new task linked through
// retried_from_id.
func (s *Server) retryTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return badRequest("task id is required")
	}
	ctx := c.Request().Context()

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return mapServiceError(err)
	}
	if task.PipelineStatus != autopublishtask.PipelineStatusFailed {
		return apiError(http.StatusConflict, CodeConflict, "only failed tasks can be retried")
	}

	retry, err := s.tasks.SpawnRetry(ctx, task, time.Now().UTC())
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusCreated, retry)
}

// cancelTaskHandler handles POST /api/v1/auto-publish/tasks/:id/cancel.
// Cancels the task row, any pending fan-out publishes, and asks this pod's
// worker pool to interrupt a running invocation.
func (s *Server) cancelTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return badRequest("task id is required")
	}
	ctx := c.Request().Context()

	cancelledPublishes, err := s.tasks.Cancel(ctx, taskID)
	if err != nil {
		return mapServiceError(err)
	}

	if s.pool != nil {
		s.pool.CancelTask(taskID)
	}
	if s.scheduler != nil && len(cancelledPublishes) > 0 {
		s.scheduler.Cancel(cancelledPublishes...)
	}
	for _, publishID := range cancelledPublishes {
		s.notifyQueueChanged(ctx, "cancelled", publishID, time.Time{})
	}

	return respond(c, http.StatusOK, &CancelTaskResponse{
		TaskID:              taskID,
		CancelledPublishIDs: cancelledPublishes,
		Message:             "task cancellation requested",
	})
}
