package future

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitExited(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Exited():
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s did not exit", task.Name())
	}
}

func TestGo_Outcomes(t *testing.T) {
	tests := []struct {
		name  string
		fn    func(ctx context.Context) (any, error)
		check func(t *testing.T, task *Task)
	}{
		{
			name: "value",
			fn:   func(context.Context) (any, error) { return "done", nil },
			check: func(t *testing.T, task *Task) {
				value, err := task.Result()
				require.NoError(t, err)
				assert.Equal(t, "done", value)
			},
		},
		{
			name: "error",
			fn:   func(context.Context) (any, error) { return nil, errBoom },
			check: func(t *testing.T, task *Task) {
				assert.ErrorIs(t, task.Err(), errBoom)
				assert.False(t, task.Cancelled())
			},
		},
		{
			name: "wrapped cancellation",
			fn: func(context.Context) (any, error) {
				return nil, fmt.Errorf("stopped: %w", context.Canceled)
			},
			check: func(t *testing.T, task *Task) {
				assert.True(t, task.Cancelled())
			},
		},
		{
			name: "panic",
			fn:   func(context.Context) (any, error) { panic("kaboom") },
			check: func(t *testing.T, task *Task) {
				require.Error(t, task.Err())
				assert.Contains(t, task.Err().Error(), "kaboom")
				assert.Contains(t, task.Err().Error(), "task worker panicked")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := Go(context.Background(), "worker", tt.fn)
			waitExited(t, task)
			require.True(t, task.IsDone())
			tt.check(t, task)
		})
	}
}

func TestTask_Cancel(t *testing.T) {
	started := make(chan struct{})
	task := Go(context.Background(), "blocked", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return "ignored", nil
	})
	<-started

	require.True(t, task.Cancel())
	assert.True(t, task.Cancelled())
	waitExited(t, task)

	// The function's late result does not overwrite the cancellation
	assert.True(t, task.Cancelled())
	assert.False(t, task.Cancel())
}

func TestTask_Fail(t *testing.T) {
	task := Go(context.Background(), "blocked", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	require.True(t, task.Fail(errBoom))
	waitExited(t, task)
	assert.ErrorIs(t, task.Err(), errBoom)
	assert.False(t, task.Cancelled())
}

func TestTask_ParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := Go(ctx, "child", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	cancel()
	waitExited(t, task)
	assert.True(t, task.Cancelled())
}

func TestTask_DetachedFromParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	task := Go(context.WithoutCancel(ctx), "detached", func(ctx context.Context) (any, error) {
		select {
		case <-release:
			return "finished", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	cancel()
	close(release)
	waitExited(t, task)

	value, err := task.Result()
	require.NoError(t, err)
	assert.Equal(t, "finished", value)
	assert.Equal(t, "detached", task.Name())
}
