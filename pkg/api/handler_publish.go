package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/autopublishtask"
	"github.com/castorhq/castor/ent/publishtask"
	"github.com/castorhq/castor/pkg/models"
)

// schedulePublishHandler handles POST /api/v1/publish/schedule: manual
// fan-out of a completed task's artifact to an explicit account list.
// Omitted metadata fields fall back to the pipeline result's base fields.
func (s *Server) schedulePublishHandler(c *echo.Context) error {
	var req schedulePublishRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.TaskID == "" {
		return badRequest("task_id is required")
	}
	if len(req.AccountIDs) == 0 {
		return badRequest("account_ids must not be empty")
	}
	ctx := c.Request().Context()

	task, err := s.tasks.Get(ctx, req.TaskID)
	if err != nil {
		return mapServiceError(err)
	}
	if task.PipelineStatus != autopublishtask.PipelineStatusCompleted {
		return apiError(http.StatusConflict, CodeConflict, "task pipeline has not completed")
	}
	result := models.PipelineResultFromMap(task.PipelineResult)
	videoRef := result.VideoRef()
	if videoRef == "" {
		return apiError(http.StatusConflict, CodeConflict, "task has no video artifact to publish")
	}

	now := time.Now().UTC()
	scheduledTime := now
	isScheduled := false
	if req.ScheduledTime != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledTime)
		if err != nil {
			return badRequest("invalid scheduled_time: must be RFC3339")
		}
		if t.UTC().After(now) {
			scheduledTime = t.UTC()
			isScheduled = true
		}
	}

	title := req.Title
	if title == "" {
		title = result.MetadataString("title")
	}
	description := req.Description
	if description == "" {
		description = result.MetadataString("description")
	}
	tags := req.Tags
	if len(tags) == 0 {
		tags = result.MetadataTags()
	}
	thumbnailRef := req.ThumbnailRef
	if thumbnailRef == "" {
		thumbnailRef = result.MetadataString("thumbnail_ref")
	}
	privacy := req.Privacy
	if privacy == "" {
		privacy = result.MetadataString("privacy")
	}

	reqs := make([]models.CreatePublishRequest, 0, len(req.AccountIDs))
	for _, accountID := range req.AccountIDs {
		reqs = append(reqs, models.CreatePublishRequest{
			TaskID:        task.ID,
			AccountID:     accountID,
			Title:         title,
			Description:   description,
			Tags:          tags,
			ThumbnailRef:  thumbnailRef,
			Privacy:       privacy,
			VideoRef:      videoRef,
			ScheduledTime: scheduledTime,
			IsScheduled:   isScheduled,
		})
	}

	created, err := s.publishes.CreateBatch(ctx, task.ID, reqs)
	if err != nil {
		return mapServiceError(err)
	}
	for _, p := range created {
		if s.scheduler != nil {
			s.scheduler.Submit(p)
		}
		s.notifyQueueChanged(ctx, "scheduled", p.ID, p.ScheduledTime)
	}
	return respond(c, http.StatusCreated, created)
}

// listPublishesHandler handles GET /api/v1/publish/tasks.
func (s *Server) listPublishesHandler(c *echo.Context) error {
	params := models.PublishListParams{
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
	params.TaskID = c.QueryParam("task_id")
	params.AccountID = c.QueryParam("account_id")
	if v := c.QueryParam("status"); v != "" {
		if err := publishtask.StatusValidator(publishtask.Status(v)); err != nil {
			return badRequest("invalid status: " + v)
		}
		params.Status = v
	}

	publishes, total, err := s.publishes.List(c.Request().Context(), params)
	if err != nil {
		return mapServiceError(err)
	}
	return respond(c, http.StatusOK, &ListResponse{
		Items:    publishes,
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

// schedulerQueueHandler handles GET /api/v1/publish/scheduler/queue. The
// store is the source of truth; the view covers every scheduled row, not
// just the local pod's in-memory heap.
func (s *Server) schedulerQueueHandler(c *echo.Context) error {
	rows, err := s.publishes.ListScheduled(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}

	entries := make([]models.QueuedPublish, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, queuedPublishFromRow(row))
	}
	return respond(c, http.StatusOK, &SchedulerQueueResponse{
		Entries: entries,
		Depth:   len(entries),
	})
}

// cancelPublishHandler handles DELETE /api/v1/publish/scheduler/:publishID.
func (s *Server) cancelPublishHandler(c *echo.Context) error {
	publishID := c.Param("publishID")
	if publishID == "" {
		return badRequest("publish id is required")
	}
	ctx := c.Request().Context()

	if err := s.publishes.Cancel(ctx, publishID); err != nil {
		return mapServiceError(err)
	}
	if s.scheduler != nil {
		s.scheduler.Cancel(publishID)
	}
	s.notifyQueueChanged(ctx, "cancelled", publishID, time.Time{})
	return respond(c, http.StatusOK, map[string]any{"cancelled": publishID})
}

// reschedulePublishHandler handles POST /api/v1/publish/scheduler/reschedule/:publishID.
func (s *Server) reschedulePublishHandler(c *echo.Context) error {
	publishID := c.Param("publishID")
	if publishID == "" {
		return badRequest("publish id is required")
	}

	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	newTime, err := time.Parse(time.RFC3339, req.NewTime)
	if err != nil {
		return badRequest("invalid new_time: must be RFC3339")
	}
	newTime = newTime.UTC()
	ctx := c.Request().Context()

	p, err := s.publishes.Reschedule(ctx, publishID, newTime)
	if err != nil {
		return mapServiceError(err)
	}
	if s.scheduler != nil {
		s.scheduler.Schedule(p.ID, p.ScheduledTime)
	}
	s.notifyQueueChanged(ctx, "rescheduled", p.ID, p.ScheduledTime)
	return respond(c, http.StatusOK, p)
}

// retryPublishHandler handles POST /api/v1/publish/tasks/:id/retry. Manual
// retry of a terminally failed publish; spawns a new row scheduled now.
func (s *Server) retryPublishHandler(c *echo.Context) error {
	publishID := c.Param("id")
	if publishID == "" {
		return badRequest("publish id is required")
	}
	ctx := c.Request().Context()

	p, err := s.publishes.Get(ctx, publishID)
	if err != nil {
		return mapServiceError(err)
	}
	if p.Status != publishtask.StatusFailed {
		return apiError(http.StatusConflict, CodeConflict, "only failed publishes can be retried")
	}

	retry, err := s.publishes.SpawnRetry(ctx, p, time.Now().UTC())
	if err != nil {
		return mapServiceError(err)
	}
	if s.scheduler != nil {
		s.scheduler.Submit(retry)
	}
	s.notifyQueueChanged(ctx, "scheduled", retry.ID, retry.ScheduledTime)
	return respond(c, http.StatusCreated, retry)
}

func queuedPublishFromRow(row *ent.PublishTask) models.QueuedPublish {
	return models.QueuedPublish{
		PublishID:     row.ID,
		TaskID:        row.TaskID,
		AccountID:     row.AccountID,
		Title:         row.Title,
		ScheduledTime: row.ScheduledTime,
		Status:        string(row.Status),
		RetryCount:    row.RetryCount,
	}
}
