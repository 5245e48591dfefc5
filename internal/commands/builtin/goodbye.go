package builtin

import (
	"context"

	"cyclone/internal/transport"
)

// GoodbyeCommand asks the WebSocket transport to close the connection.
type GoodbyeCommand struct{}

// Description returns a brief description of what the goodbye command does.
func (c *GoodbyeCommand) Description() string {
	return "Close the websocket connection after replying"
}

// Execute returns the closing reply.
func (c *GoodbyeCommand) Execute(_ context.Context) (any, error) {
	return transport.Closing, nil
}
