package builtin

import (
	"context"
	"fmt"

	"cyclone/pkg/cyclonetypes"
)

// SessionCommand is an interactive command that processes every nested request sent to it
// until it receives stop.
type SessionCommand struct {
	Name     string                    `arg:"name"`
	Progress cyclonetypes.ProgressFunc `inject:"progress_cb,nullable"`
}

// Description returns a brief description of what the session command does.
func (c *SessionCommand) Description() string {
	return "Process nested commands until stopped"
}

func (c *SessionCommand) progress(message any, keyvals ...any) {
	if c.Progress != nil {
		c.Progress(message, keyvals...)
	}
}

// Execute processes nested requests in the order they arrive.
func (c *SessionCommand) Execute(ctx context.Context, messages cyclonetypes.Messages) (any, error) {
	c.progress("session started", "name", c.Name)

	processed := 0
	for msg := range messages.Stream(ctx) {
		if _, ok := msg.Command().(*SessionStop); ok {
			msg.NoProcess()
			return map[string]any{"name": c.Name, "processed": processed, "stopped": true}, nil
		}

		processed++
		c.progress("processing", "command", fmt.Sprintf("%T", msg.Command()), "interactive", msg.Interactive())
		msg.Process()
	}
	return map[string]any{"name": c.Name, "processed": processed, "stopped": false}, nil
}

// SessionEcho replies with its info, labelled with the session's name.
type SessionEcho struct {
	Info   string          `arg:"info,required"`
	Parent *SessionCommand `inject:"_parent_command"`
}

// Description returns a brief description of what the session echo command does.
func (c *SessionEcho) Description() string {
	return "Reply with the given info from inside a session"
}

// Execute echoes Info back.
func (c *SessionEcho) Execute(_ context.Context) (any, error) {
	if c.Parent.Name == "" {
		return c.Info, nil
	}
	return c.Parent.Name + ": " + c.Info, nil
}

// SessionStop ends its session. The session acknowledges it without running it.
type SessionStop struct{}

// Description returns a brief description of what the stop command does.
func (c *SessionStop) Description() string {
	return "Stop the session"
}

// Execute is never reached through a session; a direct run is a no-op.
func (c *SessionStop) Execute(_ context.Context) (any, error) {
	return nil, nil
}

// Canceller is implemented by transports whose connection can be cancelled by a command.
type Canceller interface {
	Cancel()
}

// SessionDisconnect cancels the caller's connection, tearing down every command on it.
type SessionDisconnect struct {
	Handler Canceller `inject:"request_handler"`
}

// Description returns a brief description of what the disconnect command does.
func (c *SessionDisconnect) Description() string {
	return "Cancel the connection the session runs on"
}

// Execute cancels the connection.
func (c *SessionDisconnect) Execute(_ context.Context) (any, error) {
	c.Handler.Cancel()
	return map[string]any{"disconnecting": true}, nil
}

// SessionSub is a nested interactive command that processes Count requests and returns.
type SessionSub struct {
	Count    int                       `arg:"count"`
	Parent   *SessionCommand           `inject:"_parent_command"`
	Progress cyclonetypes.ProgressFunc `inject:"progress_cb,nullable"`
}

// Description returns a brief description of what the sub session command does.
func (c *SessionSub) Description() string {
	return "Process a number of nested commands inside a session"
}

// Execute waits for each processed request before taking the next.
func (c *SessionSub) Execute(ctx context.Context, messages cyclonetypes.Messages) (any, error) {
	var results []any
	if c.Count <= 0 {
		return map[string]any{"results": results}, nil
	}

	for msg := range messages.Stream(ctx) {
		value, err := msg.Process().Wait(ctx)
		if err != nil {
			return nil, err
		}
		results = append(results, value)
		if c.Progress != nil {
			c.Progress("sub processed", "count", len(results))
		}
		if len(results) >= c.Count {
			break
		}
	}
	return map[string]any{"results": results}, nil
}

// SubEcho replies with its info from inside a sub session.
type SubEcho struct {
	Info string `arg:"info,required"`
}

// Description returns a brief description of what the sub echo command does.
func (c *SubEcho) Description() string {
	return "Reply with the given info from inside a sub session"
}

// Execute echoes Info back.
func (c *SubEcho) Execute(_ context.Context) (any, error) {
	return "sub: " + c.Info, nil
}
