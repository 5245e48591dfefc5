package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cyclone/pkg/cyclonetypes"
	"cyclone/pkg/future"
)

// ProcessItem is one nested request delivered from a mailbox to its command body.
type ProcessItem struct {
	fut     *future.Future
	command any
	execute ExecuteFunc
	mailbox *Mailbox

	once   sync.Once
	result *future.Future
}

var _ cyclonetypes.Message = (*ProcessItem)(nil)

// Command returns the bound nested command.
func (p *ProcessItem) Command() any {
	return p.command
}

// Future returns the future the request's caller is waiting on.
func (p *ProcessItem) Future() *future.Future {
	return p.fut
}

// Interactive reports whether the nested command is itself interactive.
func (p *ProcessItem) Interactive() bool {
	_, ok := p.command.(cyclonetypes.InteractiveCommand)
	return ok
}

// NoProcess resolves the request with the received acknowledgement without running anything.
func (p *ProcessItem) NoProcess() {
	p.fut.Resolve(cyclonetypes.Received())
}

// Process runs the nested command in its own task and transfers the outcome into the request's
// future. The task is detached from the caller and is only cancelled by mailbox teardown.
// Calling Process again returns the first call's future.
func (p *ProcessItem) Process() *future.Future {
	p.once.Do(func() {
		p.result = p.spawn()
	})
	return p.result
}

func (p *ProcessItem) spawn() *future.Future {
	execute := p.execute
	if execute == nil {
		cmd, ok := p.command.(cyclonetypes.SimpleCommand)
		if !ok {
			p.fut.Fail(fmt.Errorf("%w: %T", ErrNotExecutable, p.command))
			return p.fut
		}
		execute = cmd.Execute
	}

	name := fmt.Sprintf("%T", p.command)
	task, err := p.mailbox.startTask(name, execute)
	if err != nil {
		p.fut.Fail(err)
		return p.fut
	}

	interactive := p.Interactive()
	task.OnDone(func(done *future.Future) {
		if err := done.Err(); err != nil && interactive && !errors.Is(err, context.Canceled) {
			p.mailbox.logger.Error("Interactive command failed", "command", name, "error", err)
		}
	})
	task.Transfer(p.fut)
	return task.Future
}

// startTask spawns execute detached from the token's cancellation and tracks it as a
// propagating child.
func (m *Mailbox) startTask(name string, execute ExecuteFunc) (*future.Task, error) {
	m.mu.Lock()
	if m.finishing || m.state == MailboxClosed {
		m.mu.Unlock()
		return nil, ErrParentFinished
	}
	task := future.Go(context.WithoutCancel(m.token), name, execute)
	m.roster = append(m.roster, &rosterEntry{fut: task.Future, task: task, propagateOnTeardown: true})
	m.mu.Unlock()
	return task, nil
}
