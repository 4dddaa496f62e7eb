package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/autopublishtask"
	"github.com/castorhq/castor/ent/ringslot"
	"github.com/castorhq/castor/pkg/config"
	"github.com/castorhq/castor/pkg/models"
	"github.com/castorhq/castor/pkg/pipeline"
	"github.com/castorhq/castor/pkg/services"
	castorslack "github.com/castorhq/castor/pkg/slack"
	"github.com/castorhq/castor/pkg/strategy"
	"github.com/samber/lo"
)

// PublishSink receives freshly created publish tasks. The publish
// scheduler satisfies this; its heap is how deferred publishes fire on
// time without polling.
type PublishSink interface {
	Submit(p *ent.PublishTask)
}

// RealTaskExecutor runs one claimed task end to end: pipeline invocation,
// result recording, variant fan-out, publish creation, retry spawning.
// Terminal writes use a background context so a cancelled invocation can
// never lose its status.
type RealTaskExecutor struct {
	config     *config.ExecutorConfig
	registry   *pipeline.Registry
	configs    *services.ConfigService
	groups     *services.GroupService
	strategies *services.StrategyService
	tasks      *services.TaskService
	slots      *services.SlotService
	publishes  *services.PublishService
	sink       PublishSink
	slack      *castorslack.Service
}

// NewRealTaskExecutor creates the production task executor.
// sink and slack may be nil (publish hand-off and notifications disabled).
func NewRealTaskExecutor(
	cfg *config.ExecutorConfig,
	registry *pipeline.Registry,
	configs *services.ConfigService,
	groups *services.GroupService,
	strategies *services.StrategyService,
	tasks *services.TaskService,
	slots *services.SlotService,
	publishes *services.PublishService,
	sink PublishSink,
	slackService *castorslack.Service,
) *RealTaskExecutor {
	return &RealTaskExecutor{
		config:     cfg,
		registry:   registry,
		configs:    configs,
		groups:     groups,
		strategies: strategies,
		tasks:      tasks,
		slots:      slots,
		publishes:  publishes,
		sink:       sink,
		slack:      slackService,
	}
}

// Execute runs the task lifecycle. The context carries the pipeline
// deadline; expiry fails the task without retry.
func (e *RealTaskExecutor) Execute(ctx context.Context, task *ent.AutoPublishTask) *ExecutionResult {
	log := slog.With("task_id", task.ID, "pipeline_id", task.PipelineID)

	cfg, err := e.configs.Get(ctx, task.ConfigID)
	if err != nil {
		return e.fail(task, fmt.Sprintf("config %s no longer resolves: %v", task.ConfigID, err), "config_missing", false)
	}

	// Effective params: config params as the base, trigger-provided task
	// params win on conflict.
	params := lo.Assign(cfg.PipelineParams, task.PipelineParams)

	result, err := e.registry.Invoke(ctx, task.PipelineID, params)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidParams) || errors.Is(err, pipeline.ErrUnknownInvoker) {
			return e.fail(task, err.Error(), "invalid_invocation", false)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return e.fail(task, fmt.Sprintf("pipeline deadline exceeded after %v", e.config.PipelineTimeout), "deadline", false)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return e.cancelled(task)
		}
		return e.fail(task, err.Error(), "invoke_error", true)
	}

	if !result.Success {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return e.fail(task, fmt.Sprintf("pipeline deadline exceeded after %v", e.config.PipelineTimeout), "deadline", false)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return e.cancelled(task)
		}
		return e.fail(task, result.ErrorMessage, "pipeline_failed", result.Retryable)
	}

	// Terminal writes from here on use the background context.
	bg := context.Background()
	if err := e.tasks.MarkPipelineCompleted(bg, task.ID, resultToMap(result)); err != nil {
		log.Error("Failed to record pipeline result", "error", err)
		return &ExecutionResult{Status: autopublishtask.PipelineStatusCompleted, Err: err}
	}

	publishCount, err := e.fanOut(bg, cfg, task, result)
	if err != nil {
		log.Error("Publish fan-out failed", "error", err)
		e.slack.NotifyTaskFailed(bg, task, fmt.Sprintf("publish fan-out failed: %v", err))
		return &ExecutionResult{Status: autopublishtask.PipelineStatusCompleted, Err: err}
	}

	if task.SlotID != nil {
		if err := e.slots.ResolveSlot(bg, *task.SlotID, ringslot.StatusCompleted); err != nil &&
			!errors.Is(err, services.ErrConflict) {
			log.Warn("Failed to complete slot", "slot_id", *task.SlotID, "error", err)
		}
	}

	return &ExecutionResult{
		Status:       autopublishtask.PipelineStatusCompleted,
		PublishCount: publishCount,
	}
}

// fanOut resolves variants and creates one publish task per cohort member.
func (e *RealTaskExecutor) fanOut(ctx context.Context, cfg *ent.PublishConfig, task *ent.AutoPublishTask, result *models.PipelineResult) (int, error) {
	memberRows, err := e.groups.ActiveMembers(ctx, cfg.GroupID)
	if err != nil {
		return 0, err
	}
	members := make([]strategy.Member, 0, len(memberRows))
	for _, row := range memberRows {
		m := strategy.Member{AccountID: row.Account.ID, Rank: row.Member.MemberRank}
		if row.Member.VariantName != nil {
			m.VariantPin = *row.Member.VariantName
		}
		members = append(members, m)
	}

	strategyID := ""
	if task.StrategyID != nil {
		strategyID = *task.StrategyID
	}
	strat, assignments, err := e.strategies.ActiveFor(ctx, strategyID, cfg.GroupID, time.Now())
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return 0, err
	}

	bundles, err := strategy.Resolve(strategy.Input{
		Task:        task,
		Members:     members,
		Strategy:    strat,
		Assignments: assignments,
		Result:      result,
		Cycles: func(accountID string) (int, error) {
			return e.publishes.SuccessCountFor(ctx, cfg.ID, accountID)
		},
	})
	if err != nil {
		return 0, err
	}

	publishAt, deferred, err := e.publishTime(ctx, cfg, task)
	if err != nil {
		return 0, err
	}

	reqs := make([]models.CreatePublishRequest, 0, len(bundles))
	for _, bundle := range bundles {
		reqs = append(reqs, models.CreatePublishRequest{
			TaskID:        task.ID,
			AccountID:     bundle.AccountID,
			Title:         bundle.Title,
			Description:   bundle.Description,
			Tags:          bundle.Tags,
			ThumbnailRef:  bundle.ThumbnailRef,
			Privacy:       bundle.Privacy,
			VideoRef:      bundle.VideoRef,
			ScheduledTime: publishAt,
			IsScheduled:   deferred,
			VariantName:   bundle.VariantName,
		})
	}

	created, err := e.publishes.CreateBatch(ctx, task.ID, reqs)
	if err != nil {
		return 0, err
	}
	if e.sink != nil {
		for _, p := range created {
			e.sink.Submit(p)
		}
	}
	return len(created), nil
}

// publishTime computes when the fan-out publishes fire: the bound slot's
// absolute time when one exists, otherwise per publish_policy.
func (e *RealTaskExecutor) publishTime(ctx context.Context, cfg *ent.PublishConfig, task *ent.AutoPublishTask) (time.Time, bool, error) {
	now := time.Now().UTC()

	if task.SlotID != nil {
		slot, err := e.slots.Get(ctx, *task.SlotID)
		if err != nil {
			return time.Time{}, false, err
		}
		at, err := services.SlotTime(slot)
		if err != nil {
			return time.Time{}, false, err
		}
		if at.Before(now) {
			return now, false, nil
		}
		return at, true, nil
	}

	policy := models.PublishPolicyFromJSON(cfg.PublishPolicy)
	switch policy.Mode {
	case models.PublishModeFixedDelay:
		return now.Add(time.Duration(policy.DelaySeconds) * time.Second), true, nil
	default:
		// immediate, and slot mode without a bound slot.
		return now, false, nil
	}
}

// fail records a terminal or retryable failure and spawns the retry row
// when policy allows.
func (e *RealTaskExecutor) fail(task *ent.AutoPublishTask, errMsg, errCode string, retryable bool) *ExecutionResult {
	bg := context.Background()
	log := slog.With("task_id", task.ID)

	if err := e.tasks.MarkPipelineFailed(bg, task.ID, errMsg, errCode); err != nil {
		log.Error("Failed to record task failure", "error", err)
		return &ExecutionResult{Status: autopublishtask.PipelineStatusFailed, Err: err}
	}

	if retryable && task.RetryCount < e.config.MaxRetries {
		runAt := services.RetryBackoff(time.Now(), task.RetryCount, e.config.RetryBackoffUnit)
		retry, err := e.tasks.SpawnRetry(bg, task, runAt)
		if err != nil {
			log.Error("Failed to spawn retry task", "error", err)
		} else {
			log.Info("Retry task spawned",
				"retry_task_id", retry.ID,
				"retry_count", retry.RetryCount,
				"scheduled_time", runAt)
			return &ExecutionResult{
				Status:       autopublishtask.PipelineStatusFailed,
				RetrySpawned: true,
			}
		}
	}

	// Terminal failure: resolve the bound slot and tell someone.
	if task.SlotID != nil {
		if err := e.slots.ResolveSlot(bg, *task.SlotID, ringslot.StatusFailed); err != nil &&
			!errors.Is(err, services.ErrConflict) {
			log.Warn("Failed to fail slot", "slot_id", *task.SlotID, "error", err)
		}
	}
	e.slack.NotifyTaskFailed(bg, task, errMsg)

	return &ExecutionResult{Status: autopublishtask.PipelineStatusFailed}
}

// cancelled records an externally cancelled invocation.
func (e *RealTaskExecutor) cancelled(task *ent.AutoPublishTask) *ExecutionResult {
	bg := context.Background()
	if err := e.tasks.MarkPipelineCancelled(bg, task.ID); err != nil {
		slog.Error("Failed to record cancellation", "task_id", task.ID, "error", err)
	}
	if task.SlotID != nil {
		if err := e.slots.ResolveSlot(bg, *task.SlotID, ringslot.StatusCancelled); err != nil &&
			!errors.Is(err, services.ErrConflict) {
			slog.Warn("Failed to cancel slot", "task_id", task.ID, "error", err)
		}
	}
	return &ExecutionResult{Status: autopublishtask.PipelineStatusCancelled}
}

// RecoverStale fails one stuck running task and spawns a retry when the
// policy allows. The stale scanner and startup cleanup call this.
func (e *RealTaskExecutor) RecoverStale(ctx context.Context, task *ent.AutoPublishTask, reason string) (bool, error) {
	if err := e.tasks.MarkPipelineFailed(ctx, task.ID, reason, "stale"); err != nil {
		return false, err
	}
	if task.RetryCount >= e.config.MaxRetries {
		if task.SlotID != nil {
			if err := e.slots.ResolveSlot(ctx, *task.SlotID, ringslot.StatusFailed); err != nil &&
				!errors.Is(err, services.ErrConflict) {
				slog.Warn("Failed to fail slot for stale task", "task_id", task.ID, "error", err)
			}
		}
		return false, nil
	}
	runAt := services.RetryBackoff(time.Now(), task.RetryCount, e.config.RetryBackoffUnit)
	if _, err := e.tasks.SpawnRetry(ctx, task, runAt); err != nil {
		return false, err
	}
	return true, nil
}

// resultToMap converts a pipeline result into its stored JSON shape.
func resultToMap(result *models.PipelineResult) map[string]any {
	raw, err := json.Marshal(result)
	if err != nil {
		return map[string]any{"success": result.Success}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"success": result.Success}
	}
	return out
}
