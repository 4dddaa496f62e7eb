// Package cleanup provides data retention and cleanup services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/castorhq/castor/pkg/config"
	"github.com/castorhq/castor/pkg/services"
)

// Service periodically enforces retention policies:
//   - Soft-deletes old terminal auto-publish tasks
//   - Removes processed monitor results past their TTL
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config         *config.RetentionConfig
	taskService    *services.TaskService
	monitorService *services.MonitorService

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	taskService *services.TaskService,
	monitorService *services.MonitorService,
) *Service {
	return &Service{
		config:         cfg,
		taskService:    taskService,
		monitorService: monitorService,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"task_retention_days", s.config.TaskRetentionDays,
		"monitor_result_ttl", s.config.MonitorResultTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.softDeleteOldTasks(ctx)
	s.pruneMonitorResults(ctx)
}

func (s *Service) softDeleteOldTasks(_ context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.TaskRetentionDays)
	count, err := s.taskService.SoftDeleteOldTasks(context.Background(), cutoff)
	if err != nil {
		slog.Error("Retention: soft-delete tasks failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: soft-deleted old tasks", "count", count)
	}
}

func (s *Service) pruneMonitorResults(_ context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.MonitorResultTTL)
	count, err := s.monitorService.PruneProcessedResults(context.Background(), cutoff)
	if err != nil {
		slog.Error("Retention: monitor result cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned processed monitor results", "count", count)
	}
}
