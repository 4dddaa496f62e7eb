package services

import (
	"context"
	"fmt"
	"time"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/autopublishtask"
	"github.com/castorhq/castor/ent/publishconfig"
	"github.com/castorhq/castor/ent/publishtask"
	"github.com/castorhq/castor/pkg/models"
)

// OverviewService aggregates core state for the dashboard endpoint.
type OverviewService struct {
	client    *ent.Client
	publishes *PublishService
}

// NewOverviewService creates a new OverviewService.
func NewOverviewService(client *ent.Client, publishes *PublishService) *OverviewService {
	if client == nil {
		panic("OverviewService requires a non-nil ent client")
	}
	if publishes == nil {
		panic("OverviewService requires a non-nil PublishService")
	}
	return &OverviewService{client: client, publishes: publishes}
}

// Build assembles the overview snapshot.
func (s *OverviewService) Build(ctx context.Context) (*models.Overview, error) {
	overview := &models.Overview{
		TaskCounts:    map[string]int{},
		PublishCounts: map[string]int{},
		ErrorCounts:   map[string]int{},
		GeneratedAt:   time.Now().UTC(),
	}

	var taskCounts []struct {
		Status string `json:"pipeline_status"`
		Count  int    `json:"count"`
	}
	err := s.client.AutoPublishTask.Query().
		Where(autopublishtask.DeletedAtIsNil()).
		GroupBy(autopublishtask.FieldPipelineStatus).
		Aggregate(ent.Count()).
		Scan(ctx, &taskCounts)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	for _, row := range taskCounts {
		overview.TaskCounts[row.Status] = row.Count
	}

	var publishCounts []struct {
		Status string `json:"status"`
		Count  int    `json:"count"`
	}
	err = s.client.PublishTask.Query().
		GroupBy(publishtask.FieldStatus).
		Aggregate(ent.Count()).
		Scan(ctx, &publishCounts)
	if err != nil {
		return nil, fmt.Errorf("failed to count publishes: %w", err)
	}
	for _, row := range publishCounts {
		overview.PublishCounts[row.Status] = row.Count
	}

	var errorCounts []struct {
		Code  string `json:"error_code"`
		Count int    `json:"count"`
	}
	err = s.client.AutoPublishTask.Query().
		Where(
			autopublishtask.DeletedAtIsNil(),
			autopublishtask.ErrorCodeNotNil(),
		).
		GroupBy(autopublishtask.FieldErrorCode).
		Aggregate(ent.Count()).
		Scan(ctx, &errorCounts)
	if err != nil {
		return nil, fmt.Errorf("failed to count errors: %w", err)
	}
	for _, row := range errorCounts {
		overview.ErrorCounts[row.Code] = row.Count
	}

	overview.ActiveConfigs, err = s.client.PublishConfig.Query().
		Where(publishconfig.ActiveEQ(true)).
		Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count configs: %w", err)
	}

	recent, err := s.client.AutoPublishTask.Query().
		Where(autopublishtask.DeletedAtIsNil()).
		Order(ent.Desc(autopublishtask.FieldCreatedAt)).
		Limit(10).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent tasks: %w", err)
	}
	for _, task := range recent {
		overview.RecentTasks = append(overview.RecentTasks, SummarizeTask(task))
	}

	top, err := s.publishes.TopAccounts(ctx, 5)
	if err != nil {
		return nil, err
	}
	for _, row := range top {
		metric := models.AccountMetric{AccountID: row.AccountID, Successes: row.Count}
		if account, err := s.client.Account.Get(ctx, row.AccountID); err == nil {
			metric.DisplayName = account.DisplayName
		}
		overview.TopAccounts = append(overview.TopAccounts, metric)
	}

	return overview, nil
}

// SummarizeTask converts a task row into its compact listing view.
func SummarizeTask(task *ent.AutoPublishTask) models.TaskSummary {
	summary := models.TaskSummary{
		TaskID:         task.ID,
		ConfigID:       task.ConfigID,
		PipelineID:     task.PipelineID,
		PipelineStatus: string(task.PipelineStatus),
		PublishStatus:  string(task.PublishStatus),
		RetryCount:     task.RetryCount,
		ScheduledTime:  task.ScheduledTime,
		CreatedAt:      task.CreatedAt,
	}
	if task.AccountID != nil {
		summary.AccountID = *task.AccountID
	}
	if task.ErrorMessage != nil {
		summary.ErrorMessage = *task.ErrorMessage
	}
	return summary
}
