package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castorhq/castor/ent"
	"github.com/castorhq/castor/ent/ringslot"
)

// setupRingConfig builds a group with n active accounts and a scheduled
// config targeting it.
func setupRingConfig(t *testing.T, env *taskEnv, n int) *ent.PublishConfig {
	t.Helper()
	ctx := context.Background()

	group, err := env.groups.CreateGroup(ctx, CreateGroupInput{Name: "ring", GroupType: "ring"})
	require.NoError(t, err)

	accounts := NewAccountService(env.client.Client)
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		acct, err := accounts.Create(ctx, CreateAccountInput{
			DisplayName: fmt.Sprintf("acct-%d", i),
			Platform:    "youtube",
			ProfileRef:  fmt.Sprintf("profile-%d", i),
		})
		require.NoError(t, err)
		ids = append(ids, acct.ID)
	}
	_, err = env.groups.AddMembers(ctx, group.ID, ids, "member")
	require.NoError(t, err)

	cfg, err := env.configs.Create(ctx, CreateConfigInput{
		Name:        "ring-config",
		GroupID:     group.ID,
		PipelineID:  "short-form-render",
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

func TestSlotService_GenerateSlotsIsIdempotent(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()

	cfg := setupRingConfig(t, env, 3)
	date := time.Now().UTC().AddDate(0, 0, 1)

	first, err := env.slots.GenerateSlots(ctx, cfg.ID, date, 9, 17, "uniform")
	require.NoError(t, err)
	require.Len(t, first, 3)

	// Regeneration yields the same rows, not duplicates.
	second, err := env.slots.GenerateSlots(ctx, cfg.ID, date, 9, 17, "uniform")
	require.NoError(t, err)
	require.Len(t, second, 3)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}

	// No two slots share (hour, minute, account).
	seen := map[string]bool{}
	for _, slot := range second {
		key := fmt.Sprintf("%d:%d:%s", slot.SlotHour, slot.SlotMinute, slot.AccountID)
		assert.False(t, seen[key], "duplicate slot %s", key)
		seen[key] = true
	}
}

func TestSlotService_GenerateSlotsKeepsProgressedRows(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()

	cfg := setupRingConfig(t, env, 2)
	date := time.Now().UTC().AddDate(0, 0, 1)

	first, err := env.slots.GenerateSlots(ctx, cfg.ID, date, 9, 17, "uniform")
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Bind one slot; regeneration must not reset it.
	tx, err := env.client.Client.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, env.slots.BindSlotToTask(ctx, tx, first[0].ID, "task-1"))
	require.NoError(t, tx.Commit())

	regenerated, err := env.slots.GenerateSlots(ctx, cfg.ID, date, 9, 17, "uniform")
	require.NoError(t, err)
	require.Len(t, regenerated, 2)

	bound, err := env.slots.Get(ctx, first[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ringslot.StatusScheduled, bound.Status)
	require.NotNil(t, bound.TaskID)
	assert.Equal(t, "task-1", *bound.TaskID)
}

func TestSlotService_GenerateSlotsRequiresActiveMembers(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()

	group, err := env.groups.CreateGroup(ctx, CreateGroupInput{Name: "empty-ring", GroupType: "ring"})
	require.NoError(t, err)
	cfg, err := env.configs.Create(ctx, CreateConfigInput{
		Name:        "empty-config",
		GroupID:     group.ID,
		PipelineID:  "short-form-render",
		TriggerKind: "scheduled",
		TriggerConfig: map[string]any{
			"schedule_type":          "interval",
			"schedule_interval":      float64(1),
			"schedule_interval_unit": "hours",
		},
	})
	require.NoError(t, err)

	_, err = env.slots.GenerateSlots(ctx, cfg.ID, time.Now().UTC(), 9, 17, "uniform")
	assert.True(t, IsValidationError(err))
}

func TestSlotService_BindSlotToTaskRacesSafely(t *testing.T) {
	env := setupTaskEnv(t)
	ctx := context.Background()

	cfg := setupRingConfig(t, env, 1)
	slots, err := env.slots.GenerateSlots(ctx, cfg.ID, time.Now().UTC().AddDate(0, 0, 1), 9, 17, "uniform")
	require.NoError(t, err)
	require.Len(t, slots, 1)

	tx, err := env.client.Client.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, env.slots.BindSlotToTask(ctx, tx, slots[0].ID, "task-1"))
	require.NoError(t, tx.Commit())

	// A second bind loses.
	tx2, err := env.client.Client.Tx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx2.Rollback() }()
	err = env.slots.BindSlotToTask(ctx, tx2, slots[0].ID, "task-2")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSlotService_ResolveSlotRejectsNonTerminal(t *testing.T) {
	env := setupTaskEnv(t)
	err := env.slots.ResolveSlot(context.Background(), "slot-1", ringslot.StatusPending)
	assert.True(t, IsValidationError(err))
}

func TestSlotTime(t *testing.T) {
	at, err := SlotTime(&ent.RingSlot{SlotDate: "2026-03-01", SlotHour: 14, SlotMinute: 30})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC), at)

	_, err = SlotTime(&ent.RingSlot{SlotDate: "bad"})
	assert.Error(t, err)
}
