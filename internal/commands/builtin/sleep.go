package builtin

import (
	"context"
	"time"

	"cyclone/pkg/cyclonetypes"
)

// SleepCommand waits for Duration, reporting progress Ticks times along the way.
type SleepCommand struct {
	Duration time.Duration             `arg:"duration,required"`
	Ticks    int                       `arg:"ticks"`
	Progress cyclonetypes.ProgressFunc `inject:"progress_cb,nullable"`
}

// Description returns a brief description of what the sleep command does.
func (c *SleepCommand) Description() string {
	return "Wait for a duration, reporting progress on each tick"
}

// Execute sleeps until Duration has passed or ctx is done.
func (c *SleepCommand) Execute(ctx context.Context) (any, error) {
	ticks := max(c.Ticks, 1)
	interval := c.Duration / time.Duration(ticks)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for tick := 1; tick <= ticks; tick++ {
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if c.Progress != nil {
			c.Progress("sleeping", "tick", tick, "of", ticks)
		}
		timer.Reset(interval)
	}
	return map[string]any{"slept": c.Duration.String()}, nil
}
