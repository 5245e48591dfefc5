package builtin

import (
	"context"
	"time"

	"cyclone/internal/execution"
	"cyclone/internal/version"
)

// StatusCommand reports the build, the uptime and how many interactive commands are live in
// the caller's tree.
type StatusCommand struct {
	Commander *execution.Commander `inject:"commander"`
	Started   time.Time            `inject:"started,optional"`
}

// Description returns a brief description of what the status command does.
func (c *StatusCommand) Description() string {
	return "Report version, uptime and live interactive commands"
}

// Execute builds the status report.
func (c *StatusCommand) Execute(_ context.Context) (any, error) {
	info, err := version.GetInfo()
	if err != nil {
		return nil, err
	}

	status := map[string]any{
		"version":  info.Version,
		"codename": info.Codename,
		"live":     c.Commander.Tree().Len(),
	}
	if !c.Started.IsZero() {
		status["uptime"] = time.Since(c.Started).Truncate(time.Second).String()
	}
	return status, nil
}
