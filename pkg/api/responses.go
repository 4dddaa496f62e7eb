package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/castorhq/castor/pkg/database"
	"github.com/castorhq/castor/pkg/models"
	"github.com/castorhq/castor/pkg/queue"
)

// Envelope wraps every API response. Exactly one of Data and Error is set.
type Envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries a machine-readable error code alongside the message.
// RetryAble marks transient conditions a client may safely retry.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RetryAble bool   `json:"retry_able,omitempty"`
}

// respond writes a success envelope.
func respond(c *echo.Context, status int, data any) error {
	return c.JSON(status, &Envelope{OK: true, Data: data})
}

// ListResponse pages a collection.
type ListResponse struct {
	Items    any `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// CancelTaskResponse is returned by POST /api/v1/auto-publish/tasks/:id/cancel.
type CancelTaskResponse struct {
	TaskID              string   `json:"task_id"`
	CancelledPublishIDs []string `json:"cancelled_publish_ids,omitempty"`
	Message             string   `json:"message"`
}

// NextFireResponse is returned by GET /api/v1/publish-configs/:id/next-fire.
type NextFireResponse struct {
	ConfigID string `json:"config_id"`
	NextFire string `json:"next_fire"`
}

// MembersResponse is returned by member mutations on account groups.
type MembersResponse struct {
	GroupID string `json:"group_id"`
	Added   int    `json:"added"`
}

// ExecutorStatusResponse is returned by GET /api/v1/executor/status.
type ExecutorStatusResponse struct {
	Accepting bool              `json:"accepting"`
	Pool      *queue.PoolHealth `json:"pool"`
}

// SchedulerQueueResponse is returned by GET /api/v1/publish/scheduler/queue.
type SchedulerQueueResponse struct {
	Entries []models.QueuedPublish `json:"entries"`
	Depth   int                    `json:"depth"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Database   *database.HealthStatus `json:"database"`
	WorkerPool *queue.PoolHealth      `json:"worker_pool,omitempty"`
}
