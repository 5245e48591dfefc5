package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cyclone/internal/commands"
	"cyclone/pkg/cyclonetypes"
	"cyclone/pkg/future"
)

func TestExecutor_Execute_Simple(t *testing.T) {
	_, executor := newTestExecutor(t, nil)

	result, err := executor.Execute(context.Background(), "", Body{Command: "echo", Args: map[string]any{"value": "hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestExecutor_Execute_CancelsRequestFuture(t *testing.T) {
	_, executor := newTestExecutor(t, nil)
	requestFuture := future.New()

	_, err := executor.Execute(context.Background(), "/v1", Body{Command: "echo"}, WithRequestFuture(requestFuture))
	require.NoError(t, err)
	assert.True(t, requestFuture.Cancelled())

	// Also on the error path
	failing := future.New()
	_, err = executor.Execute(context.Background(), "/missing", Body{Command: "echo"}, WithRequestFuture(failing))
	require.Error(t, err)
	assert.True(t, failing.Cancelled())

	// A future that already resolved keeps its value
	resolved := future.Resolved("kept")
	_, err = executor.Execute(context.Background(), "", Body{Command: "echo"}, WithRequestFuture(resolved))
	require.NoError(t, err)
	value, err := resolved.Result()
	require.NoError(t, err)
	assert.Equal(t, "kept", value)
}

func TestExecutor_Execute_BindingErrorsPassThrough(t *testing.T) {
	_, executor := newTestExecutor(t, nil)

	tests := []struct {
		name    string
		route   string
		body    Body
		wantErr error
	}{
		{
			name:    "unknown route",
			route:   "/missing",
			body:    Body{Command: "echo"},
			wantErr: commands.ErrNoSuchRoute,
		},
		{
			name:    "unknown command",
			body:    Body{Command: "missing"},
			wantErr: commands.ErrUnknownCommand,
		},
		{
			name:    "interactive root not allowed",
			body:    Body{Command: "session"},
			wantErr: commands.ErrInteractiveNotAllowed,
		},
		{
			name:    "nested command at the root",
			body:    Body{Command: "session:echo", Args: map[string]any{"value": "x"}},
			wantErr: commands.ErrInteractiveNotAllowed,
		},
		{
			name:    "bad arguments",
			body:    Body{Command: "echo", Args: map[string]any{"nope": true}},
			wantErr: commands.ErrBadArguments,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executor.Execute(context.Background(), tt.route, tt.body)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExecutor_Execute_EnvLayers(t *testing.T) {
	seen := &recorder{}
	commander := NewCommander(newTestRegistry(t), nil, map[string]any{"recorder": seen, "tag": "options"})

	tests := []struct {
		name      string
		overrides map[string]any
		opts      []ExecuteOption
		want      string
	}{
		{
			name: "commander options",
			want: "options",
		},
		{
			name:      "executor overrides win over options",
			overrides: map[string]any{"tag": "executor"},
			want:      "executor",
		},
		{
			name:      "per call overrides win over executor overrides",
			overrides: map[string]any{"tag": "executor"},
			opts:      []ExecuteOption{WithOverrides(map[string]any{"tag": "call"})},
			want:      "call",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := commander.Executor(nil, nil, tt.overrides)
			_, err := executor.Execute(context.Background(), "", Body{Command: "echo"}, tt.opts...)
			require.NoError(t, err)

			items := seen.snapshot()
			assert.Equal(t, tt.want, items[len(items)-1])
		})
	}
}

func TestExecutor_Execute_InteractiveRoot(t *testing.T) {
	commander, executor := newTestExecutor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := executor.Dispatch(ctx, Address{"p1"}, "", Body{Command: "session"}, AllowInteractiveRoot())
	waitLive(t, commander.Tree(), Address{"p1"})

	_, err := executor.Execute(ctx, "", Body{Command: "stop"}, WithAddress(Address{"p1", "s1"}))
	require.NoError(t, err)

	result, err := waitSettled(t, session.Future)
	require.NoError(t, err)
	assert.Equal(t, "session stopped", result)
	assert.Equal(t, 0, commander.Tree().Len())
}

func TestExecutor_NestedRequest(t *testing.T) {
	seen := &recorder{}
	commander, executor := newTestExecutor(t, map[string]any{"recorder": seen})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := executor.Dispatch(ctx, Address{"p1"}, "", Body{Command: "session"}, AllowInteractiveRoot())
	mailbox := waitLive(t, commander.Tree(), Address{"p1"})

	result, err := executor.Execute(ctx, "", Body{Command: "echo", Args: map[string]any{"value": "x"}}, WithAddress(Address{"p1", "c1"}))
	require.NoError(t, err)
	assert.Equal(t, "processed x", result)

	// The body saw exactly one message and is waiting for the next
	assert.Equal(t, []string{"*execution.childEcho"}, seen.snapshot())
	assert.Equal(t, 0, mailbox.Pending())
	assert.Equal(t, MailboxOpen, mailbox.State())

	stopped, err := executor.Execute(ctx, "", Body{Command: "stop"}, WithAddress(Address{"p1", "c2"}))
	require.NoError(t, err)
	assert.Equal(t, cyclonetypes.Received(), stopped)

	_, err = waitSettled(t, session.Future)
	require.NoError(t, err)
	assert.Equal(t, MailboxClosed, mailbox.State())
}

func TestExecutor_NestedRequest_ParentFinished(t *testing.T) {
	commander, executor := newTestExecutor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := executor.Dispatch(ctx, Address{"p1"}, "", Body{Command: "session"}, AllowInteractiveRoot())
	second := executor.Dispatch(ctx, Address{"p2"}, "", Body{Command: "session"}, AllowInteractiveRoot())
	waitLive(t, commander.Tree(), Address{"p1"})
	waitLive(t, commander.Tree(), Address{"p2"})

	_, err := executor.Execute(ctx, "", Body{Command: "stop"}, WithAddress(Address{"p1", "s"}))
	require.NoError(t, err)
	_, err = waitSettled(t, first.Future)
	require.NoError(t, err)

	_, err = executor.Execute(ctx, "", Body{Command: "echo", Args: map[string]any{"value": "late"}}, WithAddress(Address{"p1", "c1"}))
	var notFound *AddressNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, Address{"p1"}, notFound.Address)

	// The sibling tree is unaffected
	result, err := executor.Execute(ctx, "", Body{Command: "echo", Args: map[string]any{"value": "y"}}, WithAddress(Address{"p2", "c1"}))
	require.NoError(t, err)
	assert.Equal(t, "processed y", result)
	assert.False(t, second.IsDone())

	_, err = executor.Execute(ctx, "", Body{Command: "stop"}, WithAddress(Address{"p2", "s"}))
	require.NoError(t, err)
	_, err = waitSettled(t, second.Future)
	require.NoError(t, err)
}

func TestExecutor_NestedRequest_ParentFails(t *testing.T) {
	commander, executor := newTestExecutor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := executor.Dispatch(ctx, Address{"p1"}, "", Body{Command: "session"}, AllowInteractiveRoot())
	waitLive(t, commander.Tree(), Address{"p1"})

	// The request that made the parent fail receives the parent's error
	_, err := executor.Execute(ctx, "", Body{Command: "boom"}, WithAddress(Address{"p1", "b"}))
	assert.ErrorIs(t, err, errBoom)

	_, err = waitSettled(t, session.Future)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, commander.Tree().Len())
}

func TestExecutor_NestedInteractive(t *testing.T) {
	commander, executor := newTestExecutor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := executor.Dispatch(ctx, Address{"p1"}, "", Body{Command: "session"}, AllowInteractiveRoot())
	waitLive(t, commander.Tree(), Address{"p1"})

	sub := executor.Dispatch(ctx, Address{"p1", "s1"}, "", Body{Command: "sub"})
	waitLive(t, commander.Tree(), Address{"p1", "s1"})

	result, err := executor.Execute(ctx, "", Body{Command: "echo", Args: map[string]any{"value": "z"}}, WithAddress(Address{"p1", "s1", "e1"}))
	require.NoError(t, err)
	assert.Equal(t, "sub processed z", result)

	result, err = waitSettled(t, sub.Future)
	require.NoError(t, err)
	assert.Equal(t, "sub done", result)

	_, err = executor.Execute(ctx, "", Body{Command: "stop"}, WithAddress(Address{"p1", "s2"}))
	require.NoError(t, err)
	_, err = waitSettled(t, session.Future)
	require.NoError(t, err)
	assert.Equal(t, 0, commander.Tree().Len())
}

func TestExecutor_NoCrossSiblingStall(t *testing.T) {
	t.Run("top level commands", func(t *testing.T) {
		_, executor := newTestExecutor(t, nil)
		ctx := context.Background()

		slow := executor.Dispatch(ctx, Address{"slow"}, "", Body{Command: "sleep", Args: map[string]any{"delay": "100ms", "name": "slow"}})
		fast := executor.Dispatch(ctx, Address{"fast"}, "", Body{Command: "sleep", Args: map[string]any{"delay": "50ms", "name": "fast"}})

		select {
		case <-fast.Done():
		case <-slow.Done():
			t.Fatal("slow command resolved before fast command")
		}
		_, err := waitSettled(t, slow.Future)
		require.NoError(t, err)
	})

	t.Run("nested siblings", func(t *testing.T) {
		commander, executor := newTestExecutor(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		session := executor.Dispatch(ctx, Address{"p1"}, "", Body{Command: "session"}, AllowInteractiveRoot())
		waitLive(t, commander.Tree(), Address{"p1"})

		slow := executor.Dispatch(ctx, Address{"p1", "slow"}, "", Body{Command: "sleep", Args: map[string]any{"delay": "100ms", "name": "slow"}})
		fast := executor.Dispatch(ctx, Address{"p1", "fast"}, "", Body{Command: "sleep", Args: map[string]any{"delay": "50ms", "name": "fast"}})

		select {
		case <-fast.Done():
		case <-slow.Done():
			t.Fatal("slow child resolved before fast child")
		}
		_, err := waitSettled(t, slow.Future)
		require.NoError(t, err)

		_, err = executor.Execute(ctx, "", Body{Command: "stop"}, WithAddress(Address{"p1", "s"}))
		require.NoError(t, err)
		_, err = waitSettled(t, session.Future)
		require.NoError(t, err)
	})
}

func TestExecutor_ConnectionCancelTearsDownTree(t *testing.T) {
	commander, executor := newTestExecutor(t, nil)
	connection, disconnect := context.WithCancel(context.Background())

	executor = commander.Executor(nil, nil, map[string]any{commands.KeyConnection: connection})
	session := executor.Dispatch(context.Background(), Address{"p1"}, "", Body{Command: "session"}, AllowInteractiveRoot())
	waitLive(t, commander.Tree(), Address{"p1"})

	child := executor.Dispatch(context.Background(), Address{"p1", "c1"}, "", Body{Command: "sleep", Args: map[string]any{"delay": "1h"}})
	require.Eventually(t, func() bool {
		mailbox, _, ok := commander.Tree().Lookup(Address{"p1"})
		return ok && mailbox.Pending() == 0 && mailbox.RosterSize() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	disconnect()

	result, err := waitSettled(t, session.Future)
	require.NoError(t, err)
	assert.Equal(t, "session ended", result)

	_, err = waitSettled(t, child.Future)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, commander.Tree().Len())
}

func TestExecutor_ConnectionCancelAfterBodyReturns(t *testing.T) {
	commander, _ := newTestExecutor(t, nil)
	connection, disconnect := context.WithCancel(context.Background())
	defer disconnect()

	executor := commander.Executor(nil, nil, map[string]any{commands.KeyConnection: connection})
	session := executor.Dispatch(context.Background(), Address{"p1"}, "", Body{Command: "session"}, AllowInteractiveRoot())
	waitLive(t, commander.Tree(), Address{"p1"})

	child := executor.Dispatch(context.Background(), Address{"p1", "c1"}, "", Body{Command: "sleep", Args: map[string]any{"delay": "1h"}})
	require.Eventually(t, func() bool {
		mailbox, _, ok := commander.Tree().Lookup(Address{"p1"})
		return ok && mailbox.Pending() == 0 && mailbox.RosterSize() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	stop := executor.Dispatch(context.Background(), Address{"p1", "c2"}, "", Body{Command: "stop"})
	_, err := waitSettled(t, stop.Future)
	require.NoError(t, err)

	// The body has returned but teardown waits on the sleeping child
	require.Eventually(t, func() bool { return commander.Tree().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	select {
	case <-session.Done():
		t.Fatal("session settled while its child was running")
	case <-time.After(20 * time.Millisecond):
	}

	disconnect()

	result, err := waitSettled(t, session.Future)
	require.NoError(t, err)
	assert.Equal(t, "session stopped", result)

	_, err = waitSettled(t, child.Future)
	assert.ErrorIs(t, err, context.Canceled)
	select {
	case <-session.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("session task did not exit")
	}
}

func TestExecutor_AddressInUse(t *testing.T) {
	commander, executor := newTestExecutor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := executor.Dispatch(ctx, Address{"p1"}, "", Body{Command: "session"}, AllowInteractiveRoot())
	waitLive(t, commander.Tree(), Address{"p1"})

	_, err := executor.Execute(ctx, "", Body{Command: "session"}, AllowInteractiveRoot(), WithAddress(Address{"p1"}))
	assert.ErrorIs(t, err, ErrAddressInUse)

	cancel()
	_, err = waitSettled(t, first.Future)
	require.NoError(t, err)
}

func TestExecutor_MaxDepth(t *testing.T) {
	commander := NewCommander(newTestRegistry(t), nil, nil, WithConfig(Config{MaxDepth: 2, TracerName: "test"}))
	executor := commander.Executor(nil, nil, nil)

	_, err := executor.Execute(context.Background(), "", Body{Command: "echo"}, WithAddress(Address{"a", "b", "c"}))
	assert.ErrorIs(t, err, ErrAddressTooDeep)
}

func TestExecutor_InjectsRuntimeKeys(t *testing.T) {
	registry := commands.NewRegistry()
	captured := make(chan *runtimeKeys, 1)
	require.NoError(t, registry.Register("", "keys", &runtimeKeys{}))

	commander := NewCommander(registry, nil, map[string]any{"captured": captured})
	handler := struct{ name string }{name: "handler"}
	var progressed []any
	executor := commander.Executor(func(message any, _ ...any) { progressed = append(progressed, message) }, handler, nil)

	_, err := executor.Execute(context.Background(), "", Body{Command: "keys"}, WithAddress(Address{"m1"}))
	require.NoError(t, err)

	keys := <-captured
	assert.Same(t, commander, keys.Commander)
	assert.Same(t, executor, keys.Executor)
	assert.Same(t, registry, keys.Registry)
	assert.Equal(t, handler, keys.Handler)
	assert.Equal(t, []string{"m1"}, keys.MessageID)
	assert.Equal(t, []any{"working"}, progressed)
}

type runtimeKeys struct {
	Progress  cyclonetypes.ProgressFunc `inject:"progress_cb"`
	Handler   any                       `inject:"request_handler"`
	Commander *Commander                `inject:"commander"`
	Executor  *Executor                 `inject:"executor"`
	Registry  *commands.Registry        `inject:"registry"`
	MessageID []string                  `inject:"message_id"`
	Captured  chan *runtimeKeys         `inject:"captured"`
}

func (r *runtimeKeys) Execute(_ context.Context) (any, error) {
	r.Progress("working")
	r.Captured <- r
	return nil, nil
}

func TestCommander_Fork(t *testing.T) {
	commander, _ := newTestExecutor(t, map[string]any{"tag": "shared"})
	forked := commander.Fork()

	assert.Same(t, commander.Registry(), forked.Registry())
	assert.NotSame(t, commander.Tree(), forked.Tree())

	// The same address can be live in both trees at once
	ctx := context.Background()
	first := commander.Executor(nil, nil, nil).Dispatch(ctx, Address{"s"}, "", Body{Command: "session"}, AllowInteractiveRoot())
	second := forked.Executor(nil, nil, nil).Dispatch(ctx, Address{"s"}, "", Body{Command: "session"}, AllowInteractiveRoot())
	waitLive(t, commander.Tree(), Address{"s"})
	waitLive(t, forked.Tree(), Address{"s"})

	for _, task := range []*future.Task{first, second} {
		task.Cancel()
		<-task.Exited()
	}
}
