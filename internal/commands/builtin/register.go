// Package builtin provides the commands cyclone serves out of the box.
// Nothing registers on import; call Register with the registry being served.
package builtin

import (
	"fmt"

	"cyclone/internal/commands"
)

// KeyStarted is the option key holding the server start time, reported by status.
const KeyStarted = "started"

type registration struct {
	name   string
	sample any
	parent any
}

// registrations lists parents before their children.
var registrations = []registration{
	{name: "status", sample: &StatusCommand{}},
	{name: "echo", sample: &EchoCommand{}},
	{name: "sleep", sample: &SleepCommand{Ticks: 1}},
	{name: "goodbye", sample: &GoodbyeCommand{}},
	{name: "session", sample: &SessionCommand{}},
	{name: "echo", sample: &SessionEcho{}, parent: &SessionCommand{}},
	{name: "stop", sample: &SessionStop{}, parent: &SessionCommand{}},
	{name: "disconnect", sample: &SessionDisconnect{}, parent: &SessionCommand{}},
	{name: "sub", sample: &SessionSub{Count: 1}, parent: &SessionCommand{}},
	{name: "echo", sample: &SubEcho{}, parent: &SessionSub{}},
}

// Register adds every builtin command to the registry's default route.
func Register(reg *commands.Registry) error {
	for _, r := range registrations {
		var opts []commands.RegisterOption
		if r.parent != nil {
			opts = append(opts, commands.WithParent(r.parent))
		}
		if err := reg.Register("", r.name, r.sample, opts...); err != nil {
			return fmt.Errorf("failed to register %s command: %w", r.name, err)
		}
	}
	return nil
}
