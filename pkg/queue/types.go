// Package queue provides the pipeline execution engine: a worker pool that
// claims due auto-publish tasks and runs them through the pipeline registry.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/autopublishtask"
)

// Sentinel errors for queue operations.
var (
	// ErrNoTasksAvailable indicates no due tasks are in the queue.
	ErrNoTasksAvailable = errors.New("no tasks available")

	// ErrAtCapacity indicates the global concurrent execution limit has
	// been reached.
	ErrAtCapacity = errors.New("at capacity")

	// ErrPaused indicates the pool is started but not accepting work.
	ErrPaused = errors.New("executor paused")
)

// TaskExecutor owns the full task lifecycle after a claim: invoking the
// pipeline, recording the result, fanning out publish tasks, and spawning
// retries. Terminal writes happen inside Execute on a background context
// so cancellation cannot lose them. The worker only claims, heartbeats,
// and enforces the invocation deadline.
type TaskExecutor interface {
	Execute(ctx context.Context, task *ent.AutoPublishTask) *ExecutionResult
}

// ExecutionResult is the lightweight terminal summary of one task run.
type ExecutionResult struct {
	Status       autopublishtask.PipelineStatus
	PublishCount int  // publish tasks created on success
	RetrySpawned bool // a retry row was created on failure
	Err          error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy       bool           `json:"is_healthy"`
	Accepting       bool           `json:"accepting"`
	DBReachable     bool           `json:"db_reachable"`
	DBError         string         `json:"db_error,omitempty"`
	PodID           string         `json:"pod_id"`
	ActiveWorkers   int            `json:"active_workers"`
	TotalWorkers    int            `json:"total_workers"`
	RunningTasks    int            `json:"running_tasks"`
	QueueDepth      int            `json:"queue_depth"`
	WorkerStats     []WorkerHealth `json:"worker_stats"`
	LastStaleScan   time.Time      `json:"last_stale_scan"`
	StaleRecovered  int            `json:"stale_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"` // "idle" or "working"
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
	TasksProcessed int       `json:"tasks_processed"`
	LastActivity   time.Time `json:"last_activity"`
}
