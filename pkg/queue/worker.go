package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"entgo.io/ent/dialect/sql"
	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/autopublishtask"
	"github.com/castorhq/castor/pkg/config"
	"github.com/castorhq/castor/pkg/metrics"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Worker is a single queue worker that polls for and executes tasks.
type Worker struct {
	id       string
	podID    string
	client   *ent.Client
	config   *config.ExecutorConfig
	executor TaskExecutor
	pool     TaskRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu             sync.RWMutex
	status         WorkerStatus
	currentTaskID  string
	tasksProcessed int
	lastActivity   time.Time
}

// TaskRegistry is the subset of WorkerPool used by Worker for cancel
// registration and pause state.
type TaskRegistry interface {
	RegisterTask(taskID string, cancel context.CancelFunc)
	UnregisterTask(taskID string)
	Accepting() bool
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, client *ent.Client, cfg *config.ExecutorConfig, executor TaskExecutor, pool TaskRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		client:       client,
		config:       cfg,
		executor:     executor,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoTasksAvailable) || errors.Is(err, ErrAtCapacity) || errors.Is(err, ErrPaused) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing task", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a task, and executes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	if !w.pool.Accepting() {
		return ErrPaused
	}

	// Best-effort capacity check; racy across workers but bounded by
	// WorkerCount and smoothed by poll jitter.
	runningCount, err := w.client.AutoPublishTask.Query().
		Where(autopublishtask.PipelineStatusEQ(autopublishtask.PipelineStatusRunning)).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("checking running tasks: %w", err)
	}
	if runningCount >= w.config.WorkerCount {
		return ErrAtCapacity
	}

	task, err := w.claimNextTask(ctx)
	if err != nil {
		return err
	}

	log := slog.With("task_id", task.ID, "worker_id", w.id)
	log.Info("Task claimed",
		"config_id", task.ConfigID,
		"pipeline_id", task.PipelineID,
		"priority", task.Priority,
		"retry_count", task.RetryCount)

	w.setStatus(WorkerStatusWorking, task.ID)
	metrics.WorkersBusy.Inc()
	defer func() {
		w.setStatus(WorkerStatusIdle, "")
		metrics.WorkersBusy.Dec()
	}()

	taskCtx, cancelTask := context.WithTimeout(ctx, w.config.PipelineTimeout)
	defer cancelTask()

	// Register for API-triggered cancellation.
	w.pool.RegisterTask(task.ID, cancelTask)
	defer w.pool.UnregisterTask(task.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(taskCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, task.ID)

	started := time.Now()
	result := w.executor.Execute(taskCtx, task)
	cancelHeartbeat()

	if result == nil {
		result = &ExecutionResult{
			Status: autopublishtask.PipelineStatusFailed,
			Err:    fmt.Errorf("executor returned nil result"),
		}
	}

	metrics.PipelineDuration.Observe(time.Since(started).Seconds())
	metrics.PipelineRuns.WithLabelValues(string(result.Status)).Inc()

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	log.Info("Task execution complete",
		"status", result.Status,
		"publish_count", result.PublishCount,
		"retry_spawned", result.RetrySpawned,
		"duration", time.Since(started))
	return nil
}

// claimNextTask atomically claims the next due task using
// FOR UPDATE SKIP LOCKED. Order: priority DESC, scheduled_time ASC,
// created_at ASC.
func (w *Worker) claimNextTask(ctx context.Context) (*ent.AutoPublishTask, error) {
	tx, err := w.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	task, err := tx.AutoPublishTask.Query().
		Where(
			autopublishtask.PipelineStatusEQ(autopublishtask.PipelineStatusPending),
			autopublishtask.ScheduledTimeLTE(time.Now().UTC()),
			autopublishtask.DeletedAtIsNil(),
		).
		Order(
			ent.Desc(autopublishtask.FieldPriority),
			ent.Asc(autopublishtask.FieldScheduledTime),
			ent.Asc(autopublishtask.FieldCreatedAt),
		).
		Limit(1).
		ForUpdate(sql.WithLockAction(sql.SkipLocked)).
		First(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNoTasksAvailable
		}
		return nil, fmt.Errorf("failed to query pending tasks: %w", err)
	}

	now := time.Now().UTC()
	task, err = task.Update().
		SetPipelineStatus(autopublishtask.PipelineStatusRunning).
		SetPodID(w.podID).
		SetStartedAt(now).
		SetLastHeartbeatAt(now).
		Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return task, nil
}

// runHeartbeat periodically refreshes last_heartbeat_at for stale detection.
func (w *Worker) runHeartbeat(ctx context.Context, taskID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.client.AutoPublishTask.UpdateOneID(taskID).
				SetLastHeartbeatAt(time.Now().UTC()).
				Exec(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("Heartbeat update failed", "task_id", taskID, "error", err)
			}
		}
	}
}

func (w *Worker) setStatus(status WorkerStatus, taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2*jitter))) - jitter
	if base+offset < time.Second {
		return time.Second
	}
	return base + offset
}
