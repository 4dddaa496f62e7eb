package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/autopublishtask"
	"github.com/castorhq/castor/pkg/config"
)

// WorkerPool manages the pipeline execution workers and the stale-task
// scanner. The pool starts with the process; the executor API pauses and
// resumes claiming without tearing workers down.
type WorkerPool struct {
	podID        string
	client       *ent.Client
	config       *config.ExecutorConfig
	taskExecutor TaskExecutor
	workers      []*Worker
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	accepting    atomic.Bool

	// Task cancel registry: task_id → cancel function
	activeTasks map[string]context.CancelFunc
	mu          sync.RWMutex
	started     bool

	// Stale detection state
	stale        staleState
	staleRecover StaleRecoveryFunc
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(podID string, client *ent.Client, cfg *config.ExecutorConfig, executor TaskExecutor) *WorkerPool {
	p := &WorkerPool{
		podID:        podID,
		client:       client,
		config:       cfg,
		taskExecutor: executor,
		workers:      make([]*Worker, 0, cfg.WorkerCount),
		stopCh:       make(chan struct{}),
		activeTasks:  make(map[string]context.CancelFunc),
	}
	p.accepting.Store(true)
	return p
}

// Start spawns worker goroutines and the stale-task scanner.
// It is safe to call multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.client, p.config, p.taskExecutor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runStaleScan(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// Workers finish their current tasks before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.getActiveTaskIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active tasks to complete",
			"count", len(active),
			"task_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// Pause stops claiming new tasks; in-flight tasks run to completion.
func (p *WorkerPool) Pause() {
	p.accepting.Store(false)
	slog.Info("Worker pool paused")
}

// Resume re-enables task claiming after a Pause.
func (p *WorkerPool) Resume() {
	p.accepting.Store(true)
	slog.Info("Worker pool resumed")
}

// Accepting reports whether workers may claim new tasks.
func (p *WorkerPool) Accepting() bool {
	return p.accepting.Load()
}

// RegisterTask stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterTask(taskID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeTasks[taskID] = cancel
}

// UnregisterTask removes the cancel function when execution ends.
func (p *WorkerPool) UnregisterTask(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeTasks, taskID)
}

// CancelTask triggers context cancellation for a task running on this pod.
// Returns true if the task was found and cancelled here.
func (p *WorkerPool) CancelTask(taskID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeTasks[taskID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.client.AutoPublishTask.Query().
		Where(
			autopublishtask.PipelineStatusEQ(autopublishtask.PipelineStatusPending),
			autopublishtask.DeletedAtIsNil(),
		).
		Count(ctx)
	if errQ != nil {
		slog.Error("Failed to query queue depth for health check",
			"pod_id", p.podID,
			"error", errQ)
	}

	runningTasks, errR := p.client.AutoPublishTask.Query().
		Where(
			autopublishtask.PipelineStatusEQ(autopublishtask.PipelineStatusRunning),
			autopublishtask.PodIDEQ(p.podID),
		).
		Count(ctx)
	if errR != nil {
		slog.Error("Failed to query running tasks for health check",
			"pod_id", p.podID,
			"error", errR)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	dbHealthy := errQ == nil && errR == nil
	isHealthy := len(p.workers) > 0 && runningTasks <= p.config.WorkerCount && dbHealthy

	p.stale.mu.Lock()
	lastStaleScan := p.stale.lastScan
	staleRecovered := p.stale.recovered
	p.stale.mu.Unlock()

	var dbError string
	if !dbHealthy {
		if errQ != nil {
			dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
		} else if errR != nil {
			dbError = fmt.Sprintf("running tasks query failed: %v", errR)
		}
	}

	return &PoolHealth{
		IsHealthy:      isHealthy,
		Accepting:      p.Accepting(),
		DBReachable:    dbHealthy,
		DBError:        dbError,
		PodID:          p.podID,
		ActiveWorkers:  activeWorkers,
		TotalWorkers:   len(p.workers),
		RunningTasks:   runningTasks,
		QueueDepth:     queueDepth,
		WorkerStats:    workerStats,
		LastStaleScan:  lastStaleScan,
		StaleRecovered: staleRecovered,
	}
}

// getActiveTaskIDs returns IDs of currently executing tasks (for logging).
func (p *WorkerPool) getActiveTaskIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeTasks))
	for id := range p.activeTasks {
		ids = append(ids, id)
	}
	return ids
}
