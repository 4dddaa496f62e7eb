package publish

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/autopublishtask"
	"github.com/castorhq/castor/ent/publishtask"
	"github.com/castorhq/castor/pkg/config"
	"github.com/castorhq/castor/pkg/database"
	"github.com/castorhq/castor/pkg/models"
	"github.com/castorhq/castor/pkg/services"
	"github.com/castorhq/castor/pkg/transport"
	testdb "github.com/castorhq/castor/test/database"
)

func fastPublisherConfig() *config.PublisherConfig {
	return &config.PublisherConfig{
		UploadConcurrency: 2,
		PollInterval:      50 * time.Millisecond,
		BatchSize:         10,
		UploadTimeout:     5 * time.Second,
		MaxRetries:        1,
		RetryBackoffUnit:  time.Millisecond,
	}
}

func setupScheduler(t *testing.T) (*database.Client, *services.PublishService, *transport.MockTransport, *Scheduler) {
	t.Helper()
	client := testdb.NewTestClient(t)
	publishes := services.NewPublishService(client.Client)
	mock := transport.NewMockTransport()
	sched := NewScheduler(fastPublisherConfig(), publishes, mock, nil)
	return client, publishes, mock, sched
}

func createCompletedTask(t *testing.T, client *database.Client) *ent.AutoPublishTask {
	t.Helper()
	task, err := client.AutoPublishTask.Create().
		SetID(uuid.New().String()).
		SetConfigID(uuid.New().String()).
		SetGroupID(uuid.New().String()).
		SetPipelineID("short-form-render").
		SetPipelineStatus(autopublishtask.PipelineStatusCompleted).
		SetScheduledTime(time.Now().UTC()).
		Save(context.Background())
	require.NoError(t, err)
	return task
}

func TestScheduler_DispatchesDuePublish(t *testing.T) {
	client, publishes, mock, sched := setupScheduler(t)
	ctx := context.Background()

	task := createCompletedTask(t, client)
	p, err := publishes.Create(ctx, models.CreatePublishRequest{
		TaskID:        task.ID,
		AccountID:     "acct-1",
		Title:         "Morning drop",
		VideoRef:      "s3://renders/morning.mp4",
		ScheduledTime: time.Now().UTC().Add(-time.Second),
	})
	require.NoError(t, err)

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	require.Eventually(t, func() bool {
		got, err := publishes.Get(ctx, p.ID)
		return err == nil && got.Status == publishtask.StatusSuccess
	}, 5*time.Second, 20*time.Millisecond)

	got, err := publishes.Get(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PlatformVideoID)
	assert.Equal(t, "mock-"+p.ID, *got.PlatformVideoID)

	parent, err := client.AutoPublishTask.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, autopublishtask.PublishStatusPublished, parent.PublishStatus)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "acct-1", calls[0].Item.AccountID)
	assert.Equal(t, "s3://renders/morning.mp4", calls[0].Item.VideoRef)
}

func TestScheduler_NeverDispatchesFuturePublish(t *testing.T) {
	client, publishes, mock, sched := setupScheduler(t)
	ctx := context.Background()

	task := createCompletedTask(t, client)
	p, err := publishes.Create(ctx, models.CreatePublishRequest{
		TaskID:        task.ID,
		AccountID:     "acct-1",
		Title:         "Evening drop",
		VideoRef:      "s3://renders/evening.mp4",
		ScheduledTime: time.Now().UTC().Add(time.Hour),
		IsScheduled:   true,
	})
	require.NoError(t, err)

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	// Give the loop a few poll cycles.
	time.Sleep(300 * time.Millisecond)

	got, err := publishes.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, publishtask.StatusScheduled, got.Status)
	assert.Empty(t, mock.Calls())
}

func TestScheduler_RetrySpawnsNewRow(t *testing.T) {
	client, publishes, mock, sched := setupScheduler(t)
	ctx := context.Background()

	task := createCompletedTask(t, client)
	p, err := publishes.Create(ctx, models.CreatePublishRequest{
		TaskID:        task.ID,
		AccountID:     "acct-1",
		Title:         "Flaky upload",
		VideoRef:      "s3://renders/flaky.mp4",
		ScheduledTime: time.Now().UTC().Add(-time.Second),
	})
	require.NoError(t, err)

	mock.Script(p.ID, &transport.UploadResult{
		Retryable:    true,
		ErrorMessage: "rate limited",
		ErrorCode:    "rate_limit",
	})

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	// The retry row eventually succeeds via the mock's default result.
	require.Eventually(t, func() bool {
		parent, err := client.AutoPublishTask.Get(ctx, task.ID)
		return err == nil && parent.PublishStatus == autopublishtask.PublishStatusPublished
	}, 5*time.Second, 20*time.Millisecond)

	original, err := publishes.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, publishtask.StatusFailed, original.Status)

	rows, err := client.PublishTask.Query().
		Where(publishtask.TaskIDEQ(task.ID)).
		All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var retry *ent.PublishTask
	for _, row := range rows {
		if row.ID != p.ID {
			retry = row
		}
	}
	require.NotNil(t, retry)
	require.NotNil(t, retry.RetriedFromID)
	assert.Equal(t, p.ID, *retry.RetriedFromID)
	assert.Equal(t, 1, retry.RetryCount)
	assert.Equal(t, publishtask.StatusSuccess, retry.Status)
}

func TestScheduler_SemanticFailureIsTerminal(t *testing.T) {
	client, publishes, mock, sched := setupScheduler(t)
	ctx := context.Background()

	task := createCompletedTask(t, client)
	p, err := publishes.Create(ctx, models.CreatePublishRequest{
		TaskID:        task.ID,
		AccountID:     "acct-1",
		Title:         "Rejected upload",
		VideoRef:      "s3://renders/rejected.mp4",
		ScheduledTime: time.Now().UTC().Add(-time.Second),
	})
	require.NoError(t, err)

	mock.Script(p.ID, &transport.UploadResult{
		ErrorMessage: "video violates policy",
		ErrorCode:    "policy_violation",
	})

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	require.Eventually(t, func() bool {
		parent, err := client.AutoPublishTask.Get(ctx, task.ID)
		return err == nil && parent.PublishStatus == autopublishtask.PublishStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	got, err := publishes.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, publishtask.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, "policy_violation", *got.ErrorCode)

	total, err := client.PublishTask.Query().
		Where(publishtask.TaskIDEQ(task.ID)).
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total, "semantic failures never spawn retries")
}

func TestScheduler_RebuildsHeapOnStart(t *testing.T) {
	client, publishes, _, sched := setupScheduler(t)
	ctx := context.Background()

	task := createCompletedTask(t, client)
	early, err := publishes.Create(ctx, models.CreatePublishRequest{
		TaskID:        task.ID,
		AccountID:     "acct-1",
		Title:         "First",
		VideoRef:      "s3://renders/a.mp4",
		ScheduledTime: time.Now().UTC().Add(30 * time.Minute),
		IsScheduled:   true,
	})
	require.NoError(t, err)
	late, err := publishes.Create(ctx, models.CreatePublishRequest{
		TaskID:        task.ID,
		AccountID:     "acct-2",
		Title:         "Second",
		VideoRef:      "s3://renders/b.mp4",
		ScheduledTime: time.Now().UTC().Add(time.Hour),
		IsScheduled:   true,
	})
	require.NoError(t, err)

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	queue := sched.Queue()
	require.Len(t, queue, 2)
	assert.Equal(t, early.ID, queue[0].PublishID)
	assert.Equal(t, late.ID, queue[1].PublishID)
}

func TestScheduler_CancelDropsQueueEntry(t *testing.T) {
	client, publishes, mock, sched := setupScheduler(t)
	ctx := context.Background()

	task := createCompletedTask(t, client)
	p, err := publishes.Create(ctx, models.CreatePublishRequest{
		TaskID:        task.ID,
		AccountID:     "acct-1",
		Title:         "Cancelled drop",
		VideoRef:      "s3://renders/c.mp4",
		ScheduledTime: time.Now().UTC().Add(time.Hour),
		IsScheduled:   true,
	})
	require.NoError(t, err)

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	require.NoError(t, publishes.Cancel(ctx, p.ID))
	sched.Cancel(p.ID)
	sched.Wake()

	require.Eventually(t, func() bool {
		return len(sched.Queue()) == 0
	}, 2*time.Second, 20*time.Millisecond)

	got, err := publishes.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, publishtask.StatusCancelled, got.Status)
	assert.Empty(t, mock.Calls())
}
