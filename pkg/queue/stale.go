package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/autopublishtask"
	"github.com/castorhq/castor/pkg/metrics"
)

// StaleRecoveryFunc fails one stuck running task and spawns its retry row
// when the policy allows. It reports whether a retry was spawned.
// RealTaskExecutor.RecoverStale satisfies this.
type StaleRecoveryFunc func(ctx context.Context, task *ent.AutoPublishTask, reason string) (bool, error)

// staleState tracks stale detection metrics (thread-safe).
type staleState struct {
	mu        sync.Mutex
	lastScan  time.Time
	recovered int
}

// SetStaleRecovery installs the recovery hook. Must be called before Start.
func (p *WorkerPool) SetStaleRecovery(fn StaleRecoveryFunc) {
	p.staleRecover = fn
}

// runStaleScan periodically fails running tasks with stale heartbeats.
// All pods run this independently — recovery is idempotent because only
// one update wins the running → failed transition.
func (p *WorkerPool) runStaleScan(ctx context.Context) {
	ticker := time.NewTicker(p.config.StaleScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverStale(ctx); err != nil {
				slog.Error("Stale task scan failed", "error", err)
			}
		}
	}
}

// detectAndRecoverStale finds running tasks whose heartbeat is older than
// the threshold and fails them, spawning retries per policy.
func (p *WorkerPool) detectAndRecoverStale(ctx context.Context) error {
	threshold := time.Now().UTC().Add(-p.config.StaleThreshold)

	staleTasks, err := p.client.AutoPublishTask.Query().
		Where(
			autopublishtask.PipelineStatusEQ(autopublishtask.PipelineStatusRunning),
			autopublishtask.LastHeartbeatAtNotNil(),
			autopublishtask.LastHeartbeatAtLT(threshold),
			autopublishtask.DeletedAtIsNil(),
		).
		All(ctx)
	if err != nil {
		return fmt.Errorf("failed to query stale tasks: %w", err)
	}

	if len(staleTasks) == 0 {
		p.stale.mu.Lock()
		p.stale.lastScan = time.Now()
		p.stale.mu.Unlock()
		return nil
	}

	slog.Warn("Detected stale tasks", "count", len(staleTasks))

	recovered := 0
	for _, task := range staleTasks {
		podID := "unknown"
		if task.PodID != nil {
			podID = *task.PodID
		}
		lastHeartbeat := "unknown"
		if task.LastHeartbeatAt != nil {
			lastHeartbeat = task.LastHeartbeatAt.Format(time.RFC3339)
		}
		reason := fmt.Sprintf("Stale: no heartbeat from pod %s since %s", podID, lastHeartbeat)

		if p.staleRecover == nil {
			continue
		}
		retried, err := p.staleRecover(ctx, task, reason)
		if err != nil {
			slog.Error("Failed to recover stale task",
				"task_id", task.ID,
				"error", err)
			continue
		}
		recovered++
		metrics.StaleTasksRecovered.Inc()
		slog.Warn("Stale task failed",
			"task_id", task.ID,
			"old_pod_id", podID,
			"last_heartbeat", lastHeartbeat,
			"retry_spawned", retried)
	}

	p.stale.mu.Lock()
	p.stale.lastScan = time.Now()
	p.stale.recovered += recovered
	p.stale.mu.Unlock()

	return nil
}

// CleanupStartupTasks performs a one-time recovery of tasks owned by this
// pod that were running when the pod previously crashed. Called once
// during startup, before the worker pool begins claiming.
func CleanupStartupTasks(ctx context.Context, client *ent.Client, podID string, recoverTask StaleRecoveryFunc) error {
	stuck, err := client.AutoPublishTask.Query().
		Where(
			autopublishtask.PipelineStatusEQ(autopublishtask.PipelineStatusRunning),
			autopublishtask.PodIDEQ(podID),
			autopublishtask.DeletedAtIsNil(),
		).
		All(ctx)
	if err != nil {
		return fmt.Errorf("failed to query startup leftovers: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	slog.Warn("Recovering tasks left running by previous process", "count", len(stuck), "pod_id", podID)

	for _, task := range stuck {
		reason := fmt.Sprintf("Interrupted: pod %s restarted mid-execution", podID)
		retried, err := recoverTask(ctx, task, reason)
		if err != nil {
			slog.Error("Failed to recover interrupted task",
				"task_id", task.ID,
				"error", err)
			continue
		}
		slog.Info("Interrupted task failed",
			"task_id", task.ID,
			"retry_spawned", retried)
	}
	return nil
}
