package trigger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/pkg/config"
	"github.com/castorhq/castor/pkg/metrics"
	"github.com/castorhq/castor/pkg/services"
)

// Evaluator is the scheduled-trigger loop: one goroutine that walks the
// active scheduled configs each tick and fires the ones that are due.
// Firing is transactional in TaskService, so a crashed tick never loses
// or doubles a fire.
type Evaluator struct {
	config  *config.TriggerConfig
	configs *services.ConfigService
	tasks   *services.TaskService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEvaluator creates a trigger evaluator.
func NewEvaluator(cfg *config.TriggerConfig, configs *services.ConfigService, tasks *services.TaskService) *Evaluator {
	return &Evaluator{
		config:  cfg,
		configs: configs,
		tasks:   tasks,
	}
}

// Start launches the evaluation loop.
func (e *Evaluator) Start(ctx context.Context) {
	if e.cancel != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go e.run(ctx)

	slog.Info("Trigger evaluator started", "interval", e.config.EvaluationInterval)
}

// Stop signals the loop to exit and waits for it to finish.
func (e *Evaluator) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	slog.Info("Trigger evaluator stopped")
}

func (e *Evaluator) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.config.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.EvaluateOnce(ctx, time.Now().UTC())
		}
	}
}

// EvaluateOnce runs a single evaluation pass at the given instant.
// Exported so tests can drive the clock.
func (e *Evaluator) EvaluateOnce(ctx context.Context, now time.Time) {
	configs, err := e.configs.ListActiveScheduled(ctx)
	if err != nil {
		slog.Error("Trigger evaluation failed to list configs", "error", err)
		return
	}

	for _, cfg := range configs {
		if err := e.evaluateConfig(ctx, cfg, now); err != nil {
			slog.Error("Trigger evaluation failed for config",
				"config_id", cfg.ID,
				"error", err)
		}
	}
}

func (e *Evaluator) evaluateConfig(ctx context.Context, cfg *ent.PublishConfig, now time.Time) error {
	spec, err := ParseSpec(cfg.TriggerConfig)
	if err != nil {
		// Write-time validation should make this unreachable; a config
		// that slipped through is skipped, not fired blind.
		slog.Warn("Skipping config with malformed trigger_config",
			"config_id", cfg.ID,
			"error", err)
		return nil
	}

	// Interval schedules anchor at the last fire; a never-fired config
	// anchors at its activation time so it does not fire immediately on
	// process start. Once schedules ignore the anchor entirely.
	anchor := cfg.UpdatedAt
	if cfg.LastFireAt != nil {
		anchor = *cfg.LastFireAt
	}
	if spec.Type == ScheduleOnce {
		anchor = spec.At.Add(-time.Second)
	}

	fireAt, due := spec.LatestFire(anchor, now)
	if !due {
		return nil
	}

	deactivate := spec.Type == ScheduleOnce
	task, err := e.tasks.FireScheduled(ctx, cfg, fireAt, deactivate)
	if err != nil {
		if errors.Is(err, services.ErrConflict) {
			// Lost a slot-binding race with a concurrent fire; the next
			// tick re-evaluates from the advanced anchor.
			return nil
		}
		return err
	}

	metrics.TriggerFires.WithLabelValues(string(spec.Type)).Inc()
	slog.Info("Trigger fired",
		"config_id", cfg.ID,
		"task_id", task.ID,
		"schedule_type", spec.Type,
		"fire_at", fireAt,
		"deactivated", deactivate)
	return nil
}
