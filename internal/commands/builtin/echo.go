package builtin

import (
	"context"
	"fmt"
	"strings"

	"cyclone/pkg/cyclonetypes"
)

// EchoError is returned when the echoed text asks for an error.
type EchoError struct {
	Info string
}

func (e *EchoError) Error() string {
	return fmt.Sprintf("echo refused %q", e.Info)
}

// Details returns the wire representation of the error.
func (e *EchoError) Details() map[string]any {
	return map[string]any{"message": "Echo refused", "info": e.Info}
}

// EchoCommand replies with its info argument.
type EchoCommand struct {
	Info     string                    `arg:"info,required"`
	Progress cyclonetypes.ProgressFunc `inject:"progress_cb,nullable"`
}

// Description returns a brief description of what the echo command does.
func (c *EchoCommand) Description() string {
	return "Reply with the given info, failing if it mentions an error"
}

// Execute echoes Info back.
func (c *EchoCommand) Execute(_ context.Context) (any, error) {
	if strings.Contains(c.Info, "error") {
		return nil, &EchoError{Info: c.Info}
	}
	if c.Progress != nil {
		c.Progress("echoing", "length", len(c.Info))
	}
	return c.Info, nil
}
