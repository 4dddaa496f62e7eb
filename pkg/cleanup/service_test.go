package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/autopublishtask"
	"github.com/castorhq/castor/pkg/config"
	"github.com/castorhq/castor/pkg/database"
	"github.com/castorhq/castor/pkg/services"
	testdb "github.com/castorhq/castor/test/database"
)

func setupCleanup(t *testing.T) (*database.Client, *Service) {
	t.Helper()
	client := testdb.NewTestClient(t)
	groups := services.NewGroupService(client.Client)
	configs := services.NewConfigService(client.Client)
	slots := services.NewSlotService(client.Client, groups)
	tasks := services.NewTaskService(client.Client, slots, configs)
	monitors := services.NewMonitorService(client.Client)

	cfg := &config.RetentionConfig{
		TaskRetentionDays: 180,
		MonitorResultTTL:  7 * 24 * time.Hour,
		CleanupInterval:   time.Hour,
	}
	return client, NewService(cfg, tasks, monitors)
}

func createTask(t *testing.T, client *database.Client, age time.Duration, pipelineStatus autopublishtask.PipelineStatus) *ent.AutoPublishTask {
	t.Helper()
	task, err := client.AutoPublishTask.Create().
		SetID(uuid.New().String()).
		SetConfigID(uuid.New().String()).
		SetGroupID("group-1").
		SetPipelineID("short-form-render").
		SetPipelineStatus(pipelineStatus).
		SetScheduledTime(time.Now().UTC().Add(-age)).
		SetCreatedAt(time.Now().UTC().Add(-age)).
		Save(context.Background())
	require.NoError(t, err)
	return task
}

func TestService_SoftDeletesOldTerminalTasks(t *testing.T) {
	client, svc := setupCleanup(t)
	ctx := context.Background()

	old := createTask(t, client, 200*24*time.Hour, autopublishtask.PipelineStatusCompleted)
	svc.runAll(ctx)

	updated, err := client.AutoPublishTask.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.NotNil(t, updated.DeletedAt)
}

func TestService_PreservesRecentTasks(t *testing.T) {
	client, svc := setupCleanup(t)
	ctx := context.Background()

	recent := createTask(t, client, 24*time.Hour, autopublishtask.PipelineStatusCompleted)
	svc.runAll(ctx)

	updated, err := client.AutoPublishTask.Get(ctx, recent.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.DeletedAt)
}

func TestService_PreservesRunningTasks(t *testing.T) {
	client, svc := setupCleanup(t)
	ctx := context.Background()

	running := createTask(t, client, 200*24*time.Hour, autopublishtask.PipelineStatusRunning)
	svc.runAll(ctx)

	updated, err := client.AutoPublishTask.Get(ctx, running.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.DeletedAt)
}

func TestService_PrunesProcessedMonitorResults(t *testing.T) {
	client, svc := setupCleanup(t)
	ctx := context.Background()

	monitors := services.NewMonitorService(client.Client)
	m, err := monitors.Create(ctx, services.CreateMonitorInput{
		Name:             "competitor-shorts",
		Platform:         "youtube",
		MonitorType:      "competitor",
		TargetIdentifier: "UC123",
	})
	require.NoError(t, err)

	// Old processed result: pruned.
	_, err = client.MonitorResult.Create().
		SetID(uuid.New().String()).
		SetMonitorID(m.ID).
		SetContentID("vid-old").
		SetTitle("old").
		SetURL("https://example.invalid/v/old").
		SetProcessed(true).
		SetDiscoveredAt(time.Now().UTC().Add(-14 * 24 * time.Hour)).
		Save(ctx)
	require.NoError(t, err)

	// Fresh processed result: kept.
	_, err = client.MonitorResult.Create().
		SetID(uuid.New().String()).
		SetMonitorID(m.ID).
		SetContentID("vid-new").
		SetTitle("new").
		SetURL("https://example.invalid/v/new").
		SetProcessed(true).
		Save(ctx)
	require.NoError(t, err)

	svc.runAll(ctx)

	results, err := monitors.ListResults(ctx, m.ID, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "vid-new", results[0].ContentID)
}
