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
	"github.com/castorhq/castor/pkg/models"
)

// createCompletedTask fires a task for a fresh scheduled config and walks it
// to pipeline_status completed so publishes can hang off it.
func createCompletedTask(t *testing.T, env *taskEnv) *ent.AutoPublishTask {
	t.Helper()
	ctx := context.Background()
	cfg := env.createScheduledConfig(t)
	task, err := env.tasks.FireScheduled(ctx, cfg, time.Now().UTC(), false)
	require.NoError(t, err)
	require.NoError(t, env.tasks.MarkPipelineCompleted(ctx, task.ID, map[string]any{"video_ref": "artifacts/out.mp4"}))
	completed, err := env.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	return completed
}

func publishReq(taskID, accountID string, at time.Time) models.CreatePublishRequest {
	return models.CreatePublishRequest{
		TaskID:        taskID,
		AccountID:     accountID,
		Title:         "daily short",
		VideoRef:      "artifacts/out.mp4",
		ScheduledTime: at,
		IsScheduled:   true,
	}
}

func TestPublishService_PopDueClaimsOnlyDueRows(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()
	publishes := NewPublishService(env.client.Client)

	task := createCompletedTask(t, env)
	now := time.Now().UTC()
	created, err := publishes.CreateBatch(ctx, task.ID, []models.CreatePublishRequest{
		publishReq(task.ID, "acct-due", now.Add(-time.Minute)),
		publishReq(task.ID, "acct-future", now.Add(time.Hour)),
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	claimed, err := publishes.PopDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "acct-due", claimed[0].AccountID)
	assert.Equal(t, publishtask.StatusUploading, claimed[0].Status)
	require.NotNil(t, claimed[0].UploadingAt)

	// The future row stays scheduled and a second pop finds nothing.
	for _, p := range created {
		if p.AccountID != "acct-future" {
			continue
		}
		row, err := publishes.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, publishtask.StatusScheduled, row.Status)
	}
	again, err := publishes.PopDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestPublishService_MarkSuccessAdvancesParentWhenAllDone(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()
	publishes := NewPublishService(env.client.Client)

	task := createCompletedTask(t, env)
	now := time.Now().UTC()
	created, err := publishes.CreateBatch(ctx, task.ID, []models.CreatePublishRequest{
		publishReq(task.ID, "acct-1", now),
		publishReq(task.ID, "acct-2", now),
	})
	require.NoError(t, err)

	require.NoError(t, publishes.MarkSuccess(ctx, created[0].ID, "vid-1", "https://example.com/vid-1"))

	// One sibling still pending — the parent must not move yet.
	parent, err := env.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, autopublishtask.PublishStatusScheduled, parent.PublishStatus)

	require.NoError(t, publishes.MarkSuccess(ctx, created[1].ID, "vid-2", "https://example.com/vid-2"))

	parent, err = env.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, autopublishtask.PublishStatusPublished, parent.PublishStatus)

	row, err := publishes.Get(ctx, created[0].ID)
	require.NoError(t, err)
	require.NotNil(t, row.PlatformVideoID)
	assert.Equal(t, "vid-1", *row.PlatformVideoID)
}

func TestPublishService_AdvanceParentIgnoresSupersededRows(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()
	publishes := NewPublishService(env.client.Client)

	task := createCompletedTask(t, env)
	now := time.Now().UTC()
	created, err := publishes.CreateBatch(ctx, task.ID, []models.CreatePublishRequest{
		publishReq(task.ID, "acct-1", now),
	})
	require.NoError(t, err)

	failed, err := publishes.MarkFailed(ctx, created[0].ID, "upload timed out", "upload_timeout")
	require.NoError(t, err)

	retry, err := publishes.SpawnRetry(ctx, failed, RetryBackoff(now, failed.RetryCount, time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, retry.RetryCount)
	require.NotNil(t, retry.RetriedFromID)
	assert.Equal(t, failed.ID, *retry.RetriedFromID)
	assert.Equal(t, publishtask.StatusScheduled, retry.Status)

	// The failed row is superseded by its retry; once the retry succeeds
	// the parent counts as fully published.
	require.NoError(t, publishes.MarkSuccess(ctx, retry.ID, "vid-r1", ""))

	parent, err := env.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, autopublishtask.PublishStatusPublished, parent.PublishStatus)

	// The original row keeps its failure record for audit.
	original, err := publishes.Get(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, publishtask.StatusFailed, original.Status)
	require.NotNil(t, original.ErrorMessage)
	assert.Equal(t, "upload timed out", *original.ErrorMessage)
}

func TestPublishService_AdvanceParentFailsWithoutRetry(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()
	publishes := NewPublishService(env.client.Client)

	task := createCompletedTask(t, env)
	created, err := publishes.CreateBatch(ctx, task.ID, []models.CreatePublishRequest{
		publishReq(task.ID, "acct-1", time.Now().UTC()),
	})
	require.NoError(t, err)

	_, err = publishes.MarkFailed(ctx, created[0].ID, "rejected by platform", "upload_rejected")
	require.NoError(t, err)
	require.NoError(t, publishes.AdvanceParent(ctx, task.ID))

	parent, err := env.tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, autopublishtask.PublishStatusFailed, parent.PublishStatus)
}

func TestPublishService_CancelConflictsOnceUploading(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()
	publishes := NewPublishService(env.client.Client)

	task := createCompletedTask(t, env)
	now := time.Now().UTC()
	created, err := publishes.CreateBatch(ctx, task.ID, []models.CreatePublishRequest{
		publishReq(task.ID, "acct-1", now.Add(-time.Minute)),
	})
	require.NoError(t, err)

	claimed, err := publishes.PopDue(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	err = publishes.Cancel(ctx, created[0].ID)
	assert.ErrorIs(t, err, ErrConflict)

	assert.ErrorIs(t, publishes.Cancel(ctx, "missing-id"), ErrNotFound)
}

func TestPublishService_CancelScheduledRow(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()
	publishes := NewPublishService(env.client.Client)

	task := createCompletedTask(t, env)
	created, err := publishes.CreateBatch(ctx, task.ID, []models.CreatePublishRequest{
		publishReq(task.ID, "acct-1", time.Now().UTC().Add(time.Hour)),
	})
	require.NoError(t, err)

	require.NoError(t, publishes.Cancel(ctx, created[0].ID))

	row, err := publishes.Get(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, publishtask.StatusCancelled, row.Status)
	require.NotNil(t, row.CompletedAt)
}

func TestPublishService_RescheduleOnlyMovesScheduledRows(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()
	publishes := NewPublishService(env.client.Client)

	task := createCompletedTask(t, env)
	now := time.Now().UTC()
	created, err := publishes.CreateBatch(ctx, task.ID, []models.CreatePublishRequest{
		publishReq(task.ID, "acct-1", now.Add(time.Hour)),
	})
	require.NoError(t, err)

	newTime := now.Add(3 * time.Hour).Truncate(time.Second)
	moved, err := publishes.Reschedule(ctx, created[0].ID, newTime)
	require.NoError(t, err)
	assert.True(t, moved.ScheduledTime.Equal(newTime))

	// Claimed rows cannot be rescheduled.
	_, err = publishes.Reschedule(ctx, created[0].ID, now.Add(-time.Minute))
	require.NoError(t, err)
	claimed, err := publishes.PopDue(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	_, err = publishes.Reschedule(ctx, created[0].ID, newTime)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPublishService_CreateBatchRequiresCompletedPipeline(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()
	publishes := NewPublishService(env.client.Client)

	cfg := env.createScheduledConfig(t)
	task, err := env.tasks.FireScheduled(ctx, cfg, time.Now().UTC(), false)
	require.NoError(t, err)

	_, err = publishes.CreateBatch(ctx, task.ID, []models.CreatePublishRequest{
		publishReq(task.ID, "acct-1", time.Now().UTC()),
	})
	assert.ErrorIs(t, err, ErrConflict)
}
