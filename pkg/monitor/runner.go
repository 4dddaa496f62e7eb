package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/castorhq/castor/pkg/services"
)

// DefaultReconcileInterval is how often the runner re-reads the monitor
// table to pick up changes made by other pods.
const DefaultReconcileInterval = time.Minute

// Runner supervises one poller per active monitor and reconciles the set
// against the database. Monitor CRUD through the local API triggers an
// immediate reconcile; changes from other pods land within the reconcile
// interval.
type Runner struct {
	source   Source
	monitors *services.MonitorService
	configs  *services.ConfigService
	tasks    *services.TaskService
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pollers map[string]*poller
	runCtx  context.Context

	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewRunner creates a monitor runner.
func NewRunner(source Source, monitors *services.MonitorService, configs *services.ConfigService, tasks *services.TaskService) *Runner {
	return &Runner{
		source:   source,
		monitors: monitors,
		configs:  configs,
		tasks:    tasks,
		interval: DefaultReconcileInterval,
		logger:   slog.Default().With("component", "monitor-runner"),
		pollers:  make(map[string]*poller),
	}
}

// Start launches pollers for every active monitor and begins the reconcile
// loop.
func (r *Runner) Start(ctx context.Context) error {
	if r.started {
		return fmt.Errorf("monitor runner already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.runCtx = runCtx
	r.started = true

	if err := r.Reconcile(runCtx); err != nil {
		r.cancel()
		close(r.done)
		r.started = false
		return fmt.Errorf("initial monitor reconcile failed: %w", err)
	}

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := r.Reconcile(runCtx); err != nil && runCtx.Err() == nil {
					r.logger.Error("Monitor reconcile failed", "error", err)
				}
			}
		}
	}()

	r.logger.Info("Monitor runner started", "pollers", r.count())
	return nil
}

// Stop halts the reconcile loop and every poller.
func (r *Runner) Stop() {
	if !r.started {
		return
	}
	r.cancel()
	<-r.done

	r.mu.Lock()
	pollers := r.pollers
	r.pollers = make(map[string]*poller)
	r.mu.Unlock()

	for _, p := range pollers {
		p.stop()
	}
	r.started = false
	r.logger.Info("Monitor runner stopped")
}

// Reconcile aligns running pollers with the active monitors in the
// database: new monitors get a poller, deactivated ones lose theirs, and a
// changed row restarts its poller with the fresh snapshot.
func (r *Runner) Reconcile(ctx context.Context) error {
	active, err := r.monitors.List(ctx, true)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(active))
	for _, m := range active {
		seen[m.ID] = true
		existing, ok := r.pollers[m.ID]
		if ok && existing.monitor.UpdatedAt.Equal(m.UpdatedAt) {
			continue
		}
		if ok {
			existing.stop()
			r.logger.Info("Restarting poller for changed monitor", "monitor_id", m.ID)
		}
		p := newPoller(m, r.source, r.monitors, r.configs, r.tasks)
		p.start(r.runCtx)
		r.pollers[m.ID] = p
	}

	for id, p := range r.pollers {
		if !seen[id] {
			p.stop()
			delete(r.pollers, id)
			r.logger.Info("Stopped poller for inactive monitor", "monitor_id", id)
		}
	}
	return nil
}

// Running reports whether a poller is currently running for the monitor.
func (r *Runner) Running(monitorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pollers[monitorID]
	return ok
}

func (r *Runner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pollers)
}
