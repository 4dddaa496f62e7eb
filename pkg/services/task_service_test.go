package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/autopublishtask"
	"github.com/castorhq/castor/ent/publishtask"
	"github.com/castorhq/castor/ent/ringslot"
	"github.com/castorhq/castor/pkg/database"
	"github.com/castorhq/castor/pkg/models"
	testdb "github.com/castorhq/castor/test/database"
)

type taskEnv struct {
	client  *database.Client
	groups  *GroupService
	configs *ConfigService
	slots   *SlotService
	tasks   *TaskService
}

func setupTaskEnv(t *testing.T) *taskEnv {
	t.Helper()
	client := testdb.NewTestClient(t)
	groups := NewGroupService(client.Client)
	configs := NewConfigService(client.Client)
	slots := NewSlotService(client.Client, groups)
	return &taskEnv{
		client:  client,
		groups:  groups,
		configs: configs,
		slots:   slots,
		tasks:   NewTaskService(client.Client, slots, configs),
	}
}

func (e *taskEnv) createScheduledConfig(t *testing.T) *ent.PublishConfig {
	t.Helper()
	cfg, err := e.configs.Create(context.Background(), CreateConfigInput{
		Name:       "hourly-shorts",
		GroupID:    "group-1",
		PipelineID: "short-form-render",
		TriggerKind: "scheduled",
		TriggerConfig: map[string]any{
			"schedule_type":          "interval",
			"schedule_interval":      float64(1),
			"schedule_interval_unit": "hours",
		},
	})
	require.NoError(t, err)
	return cfg
}

func TestTaskService_FireScheduledAdvancesLastFire(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()

	cfg := env.createScheduledConfig(t)
	fireAt := time.Now().UTC().Truncate(time.Second)

	task, err := env.tasks.FireScheduled(ctx, cfg, fireAt, false)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, task.ConfigID)
	assert.Equal(t, autopublishtask.PipelineStatusPending, task.PipelineStatus)
	assert.True(t, task.ScheduledTime.Equal(fireAt))

	updated, err := env.configs.Get(ctx, cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastFireAt)
	assert.True(t, updated.LastFireAt.Equal(fireAt))
	assert.True(t, updated.Active)
}

func TestTaskService_FireScheduledOnceDeactivates(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()

	cfg := env.createScheduledConfig(t)
	_, err := env.tasks.FireScheduled(ctx, cfg, time.Now().UTC(), true)
	require.NoError(t, err)

	updated, err := env.configs.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.False(t, updated.Active)
}

func TestTaskService_CreateForConfigBindsNextSlot(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()

	group, err := env.groups.CreateGroup(ctx, CreateGroupInput{Name: "ring-a", GroupType: "ring"})
	require.NoError(t, err)

	accounts := NewAccountService(env.client.Client)
	acct, err := accounts.Create(ctx, CreateAccountInput{DisplayName: "main", Platform: "youtube", ProfileRef: "profile-1"})
	require.NoError(t, err)
	_, err = env.groups.AddMembers(ctx, group.ID, []string{acct.ID}, "member")
	require.NoError(t, err)

	cfg, err := env.configs.Create(ctx, CreateConfigInput{
		Name:       "ring-config",
		GroupID:    group.ID,
		PipelineID: "short-form-render",
		TriggerKind: "scheduled",
		TriggerConfig: map[string]any{
			"schedule_type":          "interval",
			"schedule_interval":      float64(1),
			"schedule_interval_unit": "hours",
		},
	})
	require.NoError(t, err)

	tomorrow := time.Now().UTC().AddDate(0, 0, 1)
	generated, err := env.slots.GenerateSlots(ctx, cfg.ID, tomorrow, 9, 17, "uniform")
	require.NoError(t, err)
	require.NotEmpty(t, generated)

	task, err := env.tasks.FireScheduled(ctx, cfg, time.Now().UTC(), false)
	require.NoError(t, err)
	require.NotNil(t, task.SlotID)
	require.NotNil(t, task.AccountID)
	assert.Equal(t, acct.ID, *task.AccountID)

	slot, err := env.slots.Get(ctx, *task.SlotID)
	require.NoError(t, err)
	assert.Equal(t, ringslot.StatusScheduled, slot.Status)
	require.NotNil(t, slot.TaskID)
	assert.Equal(t, task.ID, *slot.TaskID)
}

func TestTaskService_SpawnRetryCreatesNewRow(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()

	cfg := env.createScheduledConfig(t)
	task, err := env.tasks.FireScheduled(ctx, cfg, time.Now().UTC(), false)
	require.NoError(t, err)
	require.NoError(t, env.tasks.MarkPipelineFailed(ctx, task.ID, "render crashed", "pipeline_error"))

	failed, err := env.tasks.Get(ctx, task.ID)
	require.NoError(t, err)

	retry, err := env.tasks.SpawnRetry(ctx, failed, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, task.ID, retry.ID)
	assert.Equal(t, 1, retry.RetryCount)
	require.NotNil(t, retry.RetriedFromID)
	assert.Equal(t, task.ID, *retry.RetriedFromID)
	assert.Equal(t, autopublishtask.PipelineStatusPending, retry.PipelineStatus)

	// Original row is untouched.
	original, err := env.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, autopublishtask.PipelineStatusFailed, original.PipelineStatus)
	assert.Equal(t, "render crashed", *original.ErrorMessage)
}

func TestTaskService_CancelCascadesToPendingPublishes(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()

	cfg := env.createScheduledConfig(t)
	task, err := env.tasks.FireScheduled(ctx, cfg, time.Now().UTC(), false)
	require.NoError(t, err)
	require.NoError(t, env.tasks.MarkPipelineCompleted(ctx, task.ID, map[string]any{"success": true}))
	require.NoError(t, env.tasks.SetPublishStatus(ctx, task.ID, autopublishtask.PublishStatusScheduled))

	publishes := NewPublishService(env.client.Client)
	future := time.Now().UTC().Add(time.Hour)
	created, err := publishes.CreateBatch(ctx, task.ID, []models.CreatePublishRequest{
		{TaskID: task.ID, AccountID: "acct-1", Title: "t", VideoRef: "v", ScheduledTime: future, IsScheduled: true},
		{TaskID: task.ID, AccountID: "acct-2", Title: "t", VideoRef: "v", ScheduledTime: future, IsScheduled: true},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	cancelled, err := env.tasks.Cancel(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, cancelled, 2)

	for _, p := range created {
		row, err := publishes.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, publishtask.StatusCancelled, row.Status)
	}
	updated, err := env.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, autopublishtask.PublishStatusCancelled, updated.PublishStatus)
}

func TestTaskService_CancelTerminalTaskConflicts(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()

	cfg := env.createScheduledConfig(t)
	task, err := env.tasks.FireScheduled(ctx, cfg, time.Now().UTC(), false)
	require.NoError(t, err)
	require.NoError(t, env.tasks.MarkPipelineFailed(ctx, task.ID, "boom", "pipeline_error"))

	_, err = env.tasks.Cancel(ctx, task.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRetryBackoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(time.Minute), RetryBackoff(now, 0, time.Minute))
	assert.Equal(t, now.Add(2*time.Minute), RetryBackoff(now, 1, time.Minute))
	assert.Equal(t, now.Add(8*time.Minute), RetryBackoff(now, 3, time.Minute))
}
