package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/autopublishtask"
	"github.com/castorhq/castor/pkg/config"
	testdb "github.com/castorhq/castor/test/database"
)

// fakeRegistry satisfies TaskRegistry without a real pool.
type fakeRegistry struct {
	accepting bool
}

func (r *fakeRegistry) RegisterTask(string, context.CancelFunc) {}
func (r *fakeRegistry) UnregisterTask(string)                   {}
func (r *fakeRegistry) Accepting() bool                         { return r.accepting }

// fakeExecutor records executed task IDs and writes the terminal status the
// way RealTaskExecutor does.
type fakeExecutor struct {
	client *ent.Client

	mu       sync.Mutex
	executed []string
}

func (e *fakeExecutor) Execute(ctx context.Context, task *ent.AutoPublishTask) *ExecutionResult {
	e.mu.Lock()
	e.executed = append(e.executed, task.ID)
	e.mu.Unlock()

	err := e.client.AutoPublishTask.UpdateOneID(task.ID).
		SetPipelineStatus(autopublishtask.PipelineStatusCompleted).
		SetCompletedAt(time.Now().UTC()).
		Exec(context.Background())
	if err != nil {
		return &ExecutionResult{Status: autopublishtask.PipelineStatusFailed, Err: err}
	}
	return &ExecutionResult{Status: autopublishtask.PipelineStatusCompleted}
}

func (e *fakeExecutor) executedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

type taskOpts struct {
	priority      int
	scheduledTime time.Time
	status        autopublishtask.PipelineStatus
	podID         string
}

func createQueueTask(t *testing.T, client *ent.Client, opts taskOpts) *ent.AutoPublishTask {
	t.Helper()
	if opts.scheduledTime.IsZero() {
		opts.scheduledTime = time.Now().UTC().Add(-time.Minute)
	}
	if opts.status == "" {
		opts.status = autopublishtask.PipelineStatusPending
	}
	if opts.priority == 0 {
		opts.priority = 50
	}
	create := client.AutoPublishTask.Create().
		SetID(uuid.New().String()).
		SetConfigID("cfg-1").
		SetGroupID("group-1").
		SetPipelineID("short-form-render").
		SetPipelineStatus(opts.status).
		SetPriority(opts.priority).
		SetScheduledTime(opts.scheduledTime)
	if opts.podID != "" {
		create.SetPodID(opts.podID)
	}
	if opts.status == autopublishtask.PipelineStatusRunning {
		create.SetLastHeartbeatAt(time.Now().UTC())
	}
	task, err := create.Save(context.Background())
	require.NoError(t, err)
	return task
}

func testWorkerConfig() *config.ExecutorConfig {
	cfg := config.DefaultExecutorConfig()
	cfg.WorkerCount = 2
	cfg.PollInterval = 100 * time.Millisecond
	cfg.PollIntervalJitter = 0
	cfg.PipelineTimeout = 10 * time.Second
	return cfg
}

func TestWorkerClaimsDueTaskInPriorityOrder(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	low := createQueueTask(t, client.Client, taskOpts{priority: 50})
	high := createQueueTask(t, client.Client, taskOpts{priority: 80})

	w := NewWorker("w-0", "pod-test", client.Client, testWorkerConfig(), nil, &fakeRegistry{accepting: true})

	claimed, err := w.claimNextTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, high.ID, claimed.ID)
	assert.Equal(t, autopublishtask.PipelineStatusRunning, claimed.PipelineStatus)
	require.NotNil(t, claimed.PodID)
	assert.Equal(t, "pod-test", *claimed.PodID)
	require.NotNil(t, claimed.StartedAt)
	require.NotNil(t, claimed.LastHeartbeatAt)

	second, err := w.claimNextTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, low.ID, second.ID)
}

func TestWorkerIgnoresFutureTasks(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	createQueueTask(t, client.Client, taskOpts{scheduledTime: time.Now().UTC().Add(time.Hour)})

	w := NewWorker("w-0", "pod-test", client.Client, testWorkerConfig(), nil, &fakeRegistry{accepting: true})

	_, err := w.claimNextTask(ctx)
	assert.ErrorIs(t, err, ErrNoTasksAvailable)
}

func TestWorkerPollAndProcess(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	task := createQueueTask(t, client.Client, taskOpts{})
	executor := &fakeExecutor{client: client.Client}
	w := NewWorker("w-0", "pod-test", client.Client, testWorkerConfig(), executor, &fakeRegistry{accepting: true})

	require.NoError(t, w.pollAndProcess(ctx))
	assert.Equal(t, []string{task.ID}, executor.executedIDs())

	done, err := client.Client.AutoPublishTask.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, autopublishtask.PipelineStatusCompleted, done.PipelineStatus)
	assert.Equal(t, 1, w.Health().TasksProcessed)

	// Queue drained.
	err = w.pollAndProcess(ctx)
	assert.ErrorIs(t, err, ErrNoTasksAvailable)
}

func TestWorkerRespectsPause(t *testing.T) {
	client := testdb.NewTestClient(t)

	createQueueTask(t, client.Client, taskOpts{})
	executor := &fakeExecutor{client: client.Client}
	w := NewWorker("w-0", "pod-test", client.Client, testWorkerConfig(), executor, &fakeRegistry{accepting: false})

	err := w.pollAndProcess(context.Background())
	assert.ErrorIs(t, err, ErrPaused)
	assert.Empty(t, executor.executedIDs())
}

func TestCleanupStartupTasksRecoversOwnPodOnly(t *testing.T) {
	client := testdb.NewTestClient(t)
	ctx := context.Background()

	mine := createQueueTask(t, client.Client, taskOpts{status: autopublishtask.PipelineStatusRunning, podID: "pod-a"})
	createQueueTask(t, client.Client, taskOpts{status: autopublishtask.PipelineStatusRunning, podID: "pod-b"})

	var recovered []string
	recoverFn := func(_ context.Context, task *ent.AutoPublishTask, reason string) (bool, error) {
		recovered = append(recovered, task.ID)
		assert.Contains(t, reason, "pod-a")
		return false, nil
	}

	require.NoError(t, CleanupStartupTasks(ctx, client.Client, "pod-a", recoverFn))
	assert.Equal(t, []string{mine.ID}, recovered)
}
