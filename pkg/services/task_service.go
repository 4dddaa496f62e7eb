package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/autopublishtask"
	"github.com/castorhq/castor/ent/publishtask"
	"github.com/castorhq/castor/ent/ringslot"
	"github.com/castorhq/castor/pkg/models"
	"github.com/google/uuid"
)

// TaskService manages auto-publish tasks: the rows tying one pipeline
// invocation to a config, a group, and a target time.
type TaskService struct {
	client  *ent.Client
	slots   *SlotService
	configs *ConfigService
}

// NewTaskService creates a new TaskService.
func NewTaskService(client *ent.Client, slots *SlotService, configs *ConfigService) *TaskService {
	if client == nil {
		panic("TaskService requires a non-nil ent client")
	}
	if slots == nil {
		panic("TaskService requires a non-nil SlotService")
	}
	if configs == nil {
		panic("TaskService requires a non-nil ConfigService")
	}
	return &TaskService{client: client, slots: slots, configs: configs}
}

// FireScheduled runs one trigger fire atomically: create the task, reserve
// the next pending ring slot when one exists, and advance the config's
// last_fire_at — all in a single transaction so a crash can neither lose
// the fire nor double it.
func (s *TaskService) FireScheduled(ctx context.Context, cfg *ent.PublishConfig, fireAt time.Time, deactivate bool) (*ent.AutoPublishTask, error) {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	task, err := s.CreateForConfig(ctx, tx, cfg, fireAt, nil)
	if err != nil {
		return nil, err
	}
	if err := s.configs.RecordFire(ctx, tx, cfg.ID, fireAt, deactivate); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit trigger fire: %w", err)
	}
	return task, nil
}

// CreateForConfig creates one task for a config inside the caller's
// transaction, binding the next pending ring slot when one exists. Extra
// params overlay the config's pipeline_params downstream at invocation.
func (s *TaskService) CreateForConfig(ctx context.Context, tx *ent.Tx, cfg *ent.PublishConfig, fireAt time.Time, params map[string]any) (*ent.AutoPublishTask, error) {
	taskID := uuid.New().String()

	create := tx.AutoPublishTask.Create().
		SetID(taskID).
		SetConfigID(cfg.ID).
		SetGroupID(cfg.GroupID).
		SetPipelineID(cfg.PipelineID).
		SetPriority(cfg.Priority).
		SetScheduledTime(fireAt.UTC())
	if cfg.StrategyID != nil {
		create.SetStrategyID(*cfg.StrategyID)
	}
	if params != nil {
		create.SetPipelineParams(params)
	}

	slot, err := s.slots.NextPendingSlot(ctx, tx, cfg.ID, time.Now().UTC())
	switch {
	case err == nil:
		if err := s.slots.BindSlotToTask(ctx, tx, slot.ID, taskID); err != nil {
			return nil, err
		}
		create.SetSlotID(slot.ID).SetAccountID(slot.AccountID)
	case errors.Is(err, ErrNotFound):
		// No bindable slot; the task fans out to the whole group.
	default:
		return nil, err
	}

	task, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// Get returns one task by id. Soft-deleted rows stay visible by id so audit
// links keep resolving.
func (s *TaskService) Get(ctx context.Context, taskID string) (*ent.AutoPublishTask, error) {
	task, err := s.client.AutoPublishTask.Get(ctx, taskID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// List returns tasks matching the params, newest first, plus the total
// count for paging. Soft-deleted rows are excluded.
func (s *TaskService) List(ctx context.Context, params models.TaskListParams) ([]*ent.AutoPublishTask, int, error) {
	q := s.client.AutoPublishTask.Query().
		Where(autopublishtask.DeletedAtIsNil())
	if params.ConfigID != "" {
		q = q.Where(autopublishtask.ConfigIDEQ(params.ConfigID))
	}
	if params.PipelineStatus != "" {
		q = q.Where(autopublishtask.PipelineStatusEQ(autopublishtask.PipelineStatus(params.PipelineStatus)))
	}
	if params.PublishStatus != "" {
		q = q.Where(autopublishtask.PublishStatusEQ(autopublishtask.PublishStatus(params.PublishStatus)))
	}

	total, err := q.Clone().Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	tasks, err := q.
		Order(ent.Desc(autopublishtask.FieldCreatedAt)).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		All(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, total, nil
}

// MarkPipelineCompleted records a successful pipeline run.
func (s *TaskService) MarkPipelineCompleted(ctx context.Context, taskID string, result map[string]any) error {
	update := s.client.AutoPublishTask.UpdateOneID(taskID).
		SetPipelineStatus(autopublishtask.PipelineStatusCompleted).
		SetCompletedAt(time.Now().UTC())
	if result != nil {
		update.SetPipelineResult(result)
	}
	if _, err := update.Save(ctx); err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to mark task completed: %w", err)
	}
	return nil
}

// MarkPipelineFailed records a failed pipeline run.
func (s *TaskService) MarkPipelineFailed(ctx context.Context, taskID, errMsg, errCode string) error {
	update := s.client.AutoPublishTask.UpdateOneID(taskID).
		SetPipelineStatus(autopublishtask.PipelineStatusFailed).
		SetCompletedAt(time.Now().UTC())
	if errMsg != "" {
		update.SetErrorMessage(errMsg)
	}
	if errCode != "" {
		update.SetErrorCode(errCode)
	}
	if _, err := update.Save(ctx); err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return nil
}

// MarkPipelineCancelled records an externally cancelled run.
func (s *TaskService) MarkPipelineCancelled(ctx context.Context, taskID string) error {
	_, err := s.client.AutoPublishTask.UpdateOneID(taskID).
		SetPipelineStatus(autopublishtask.PipelineStatusCancelled).
		SetPublishStatus(autopublishtask.PublishStatusCancelled).
		SetCompletedAt(time.Now().UTC()).
		Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to mark task cancelled: %w", err)
	}
	return nil
}

// SetPublishStatus advances the task's publish machine.
func (s *TaskService) SetPublishStatus(ctx context.Context, taskID string, status autopublishtask.PublishStatus) error {
	_, err := s.client.AutoPublishTask.UpdateOneID(taskID).
		SetPublishStatus(status).
		Save(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to set publish status: %w", err)
	}
	return nil
}

// Cancel cancels a task. Pending tasks flip to cancelled outright; running
// tasks are marked so the executor's context cancel takes effect, and the
// caller is expected to signal the worker. Deferred publish tasks still
// scheduled are cancelled in the same transaction; their ids are returned
// so the publish scheduler can drop its heap entries.
func (s *TaskService) Cancel(ctx context.Context, taskID string) ([]string, error) {
	tx, err := s.client.Tx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	task, err := tx.AutoPublishTask.Get(ctx, taskID)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	switch task.PipelineStatus {
	case autopublishtask.PipelineStatusCompleted,
		autopublishtask.PipelineStatusFailed,
		autopublishtask.PipelineStatusCancelled:
		if task.PublishStatus != autopublishtask.PublishStatusScheduled {
			return nil, ErrConflict
		}
	}

	now := time.Now().UTC()
	update := tx.AutoPublishTask.UpdateOne(task).
		SetPublishStatus(autopublishtask.PublishStatusCancelled)
	if task.PipelineStatus == autopublishtask.PipelineStatusPending ||
		task.PipelineStatus == autopublishtask.PipelineStatusRunning {
		update.SetPipelineStatus(autopublishtask.PipelineStatusCancelled).
			SetCompletedAt(now)
	}
	if _, err := update.Save(ctx); err != nil {
		return nil, fmt.Errorf("failed to cancel task: %w", err)
	}

	// Cancel deferred publishes that have not started uploading.
	pending, err := tx.PublishTask.Query().
		Where(
			publishtask.TaskIDEQ(taskID),
			publishtask.StatusIn(publishtask.StatusPending, publishtask.StatusScheduled),
		).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query publish tasks: %w", err)
	}
	cancelled := make([]string, 0, len(pending))
	for _, p := range pending {
		if _, err := tx.PublishTask.UpdateOne(p).
			SetStatus(publishtask.StatusCancelled).
			SetCompletedAt(now).
			Save(ctx); err != nil {
			return nil, fmt.Errorf("failed to cancel publish task: %w", err)
		}
		cancelled = append(cancelled, p.ID)
	}

	if task.SlotID != nil {
		_, err := tx.RingSlot.Update().
			Where(
				ringslot.IDEQ(*task.SlotID),
				ringslot.StatusEQ(ringslot.StatusScheduled),
			).
			SetStatus(ringslot.StatusCancelled).
			Save(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel slot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancel: %w", err)
	}
	return cancelled, nil
}

// SpawnRetry creates a NEW task retrying the given one. The original row is
// left intact for audit; ids never get reused.
func (s *TaskService) SpawnRetry(ctx context.Context, original *ent.AutoPublishTask, scheduledTime time.Time) (*ent.AutoPublishTask, error) {
	create := s.client.AutoPublishTask.Create().
		SetID(uuid.New().String()).
		SetConfigID(original.ConfigID).
		SetGroupID(original.GroupID).
		SetPipelineID(original.PipelineID).
		SetPriority(original.Priority).
		SetScheduledTime(scheduledTime.UTC()).
		SetRetryCount(original.RetryCount + 1).
		SetRetriedFromID(original.ID)
	if original.AccountID != nil {
		create.SetAccountID(*original.AccountID)
	}
	if original.SlotID != nil {
		create.SetSlotID(*original.SlotID)
	}
	if original.StrategyID != nil {
		create.SetStrategyID(*original.StrategyID)
	}
	if original.PipelineParams != nil {
		create.SetPipelineParams(original.PipelineParams)
	}
	retry, err := create.Save(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn retry task: %w", err)
	}
	return retry, nil
}

// RetryBackoff returns when a retry of a row with the given retry count
// should run: now + 2^retry_count backoff units.
func RetryBackoff(now time.Time, retryCount int, unit time.Duration) time.Time {
	return now.UTC().Add((1 << retryCount) * unit)
}

// SoftDeleteOldTasks stamps deleted_at on terminal tasks older than the
// cutoff. Returns the number of rows touched.
func (s *TaskService) SoftDeleteOldTasks(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.client.AutoPublishTask.Update().
		Where(
			autopublishtask.DeletedAtIsNil(),
			autopublishtask.CreatedAtLT(cutoff.UTC()),
			autopublishtask.PipelineStatusIn(
				autopublishtask.PipelineStatusCompleted,
				autopublishtask.PipelineStatusFailed,
				autopublishtask.PipelineStatusCancelled,
			),
			autopublishtask.PublishStatusNEQ(autopublishtask.PublishStatusScheduled),
		).
		SetDeletedAt(time.Now().UTC()).
		Save(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete tasks: %w", err)
	}
	return n, nil
}
