package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRegisterAndCancelTask(t *testing.T) {
	pool := &WorkerPool{
		activeTasks: make(map[string]context.CancelFunc),
	}

	// Register a task
	ctx, cancel := context.WithCancel(context.Background())
	pool.RegisterTask("task-1", cancel)

	// Cancel should succeed for registered task
	assert.True(t, pool.CancelTask("task-1"))
	assert.Error(t, ctx.Err()) // Context should be cancelled

	// Cancel should return false for unknown task
	assert.False(t, pool.CancelTask("unknown"))
}

func TestPoolUnregisterTask(t *testing.T) {
	pool := &WorkerPool{
		activeTasks: make(map[string]context.CancelFunc),
	}

	_, cancel := context.WithCancel(context.Background())
	pool.RegisterTask("task-1", cancel)

	// Should find it
	assert.True(t, pool.CancelTask("task-1"))

	// Unregister
	pool.UnregisterTask("task-1")

	// Should not find it anymore
	assert.False(t, pool.CancelTask("task-1"))
}

func TestPoolGetActiveTaskIDs(t *testing.T) {
	pool := &WorkerPool{
		activeTasks: make(map[string]context.CancelFunc),
	}

	// Empty initially
	ids := pool.getActiveTaskIDs()
	assert.Empty(t, ids)

	// Register tasks
	_, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	_, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	pool.RegisterTask("task-a", cancel1)
	pool.RegisterTask("task-b", cancel2)

	ids = pool.getActiveTaskIDs()
	require.Len(t, ids, 2)
	assert.Contains(t, ids, "task-a")
	assert.Contains(t, ids, "task-b")
}

func TestPoolStopTwiceDoesNotPanic(t *testing.T) {
	pool := &WorkerPool{
		stopCh:      make(chan struct{}),
		activeTasks: make(map[string]context.CancelFunc),
	}

	// First call should close the channel without panic.
	pool.Stop()

	// Second call must not panic (sync.Once guards the close).
	assert.NotPanics(t, func() { pool.Stop() })
}

func TestPoolPauseResume(t *testing.T) {
	pool := &WorkerPool{
		activeTasks: make(map[string]context.CancelFunc),
	}
	pool.accepting.Store(true)

	assert.True(t, pool.Accepting())
	pool.Pause()
	assert.False(t, pool.Accepting())
	pool.Resume()
	assert.True(t, pool.Accepting())
}
