package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/pkg/metrics"
	"github.com/castorhq/castor/pkg/services"
)

// poller runs one monitor's check loop. It holds a snapshot of the monitor
// row; the runner replaces the poller when the row changes.
type poller struct {
	monitor  *ent.Monitor
	source   Source
	monitors *services.MonitorService
	configs  *services.ConfigService
	tasks    *services.TaskService
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func newPoller(m *ent.Monitor, source Source, monitors *services.MonitorService, configs *services.ConfigService, tasks *services.TaskService) *poller {
	return &poller{
		monitor:  m,
		source:   source,
		monitors: monitors,
		configs:  configs,
		tasks:    tasks,
		logger: slog.Default().With(
			"component", "monitor-poller",
			"monitor_id", m.ID,
			"monitor_name", m.Name),
	}
}

func (p *poller) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		p.run(runCtx)
	}()
}

func (p *poller) stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

func (p *poller) run(ctx context.Context) {
	interval := time.Duration(p.monitor.CheckIntervalSeconds) * time.Second
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}

	// First check right away so a new monitor does not sit idle for a full
	// interval.
	p.pollOnce(ctx, time.Now().UTC())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, time.Now().UTC())
		}
	}
}

// pollOnce fetches the feed and processes every previously unseen item.
func (p *poller) pollOnce(ctx context.Context, now time.Time) {
	items, err := p.source.FetchLatest(ctx, p.monitor)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("Monitor fetch failed", "error", err)
		}
		return
	}

	discovered := 0
	for _, item := range items {
		isNew, err := p.processItem(ctx, item, now)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("Failed to process discovered content",
				"content_id", item.ContentID,
				"error", err)
			continue
		}
		if isNew {
			discovered++
		}
	}
	if discovered > 0 {
		metrics.MonitorResultsDiscovered.
			WithLabelValues(string(p.monitor.MonitorType)).
			Add(float64(discovered))
		p.logger.Info("Discovered new content", "count", discovered)
	}

	if err := p.monitors.RecordCheck(ctx, p.monitor.ID, now); err != nil && ctx.Err() == nil {
		p.logger.Warn("Failed to record check", "error", err)
	}
}

// processItem handles one feed item atomically: the result upsert, the task
// creation for every listening config, and the processed flag either all
// land or none do. Reruns after a crash see the item as unprocessed and try
// again; the dedupe on (monitor, content) keeps it at-most-once.
func (p *poller) processItem(ctx context.Context, item services.DiscoveredContent, now time.Time) (bool, error) {
	tx, err := p.monitors.Tx(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	isNew, err := p.processItemInTx(ctx, tx, item, now)
	if err != nil || !isNew {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *poller) processItemInTx(ctx context.Context, tx *ent.Tx, item services.DiscoveredContent, now time.Time) (bool, error) {
	result, isNew, err := p.monitors.UpsertResult(ctx, tx, p.monitor.ID, item)
	if err != nil || !isNew {
		return false, err
	}

	cfgs, err := p.configs.ListActiveMonitorFor(ctx, p.monitor.ID)
	if err != nil {
		return false, err
	}

	params := lo.Assign(map[string]any{
		"source_content_id": item.ContentID,
		"source_title":      item.Title,
		"source_url":        item.URL,
	}, item.Payload)

	for _, cfg := range cfgs {
		if _, err := p.tasks.CreateForConfig(ctx, tx, cfg, now, params); err != nil {
			// A slot bind race only affects this config; the others still fire.
			if errors.Is(err, services.ErrConflict) {
				p.logger.Warn("Slot bind conflict, skipping config",
					"config_id", cfg.ID,
					"content_id", item.ContentID)
				continue
			}
			return false, err
		}
	}

	if err := p.monitors.MarkResultProcessed(ctx, tx, result.ID); err != nil {
		return false, err
	}
	return true, nil
}
