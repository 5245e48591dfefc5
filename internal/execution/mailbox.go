package execution

import (
	"context"
	"iter"
	"sync"

	"github.com/charmbracelet/log"

	"cyclone/internal/logger"
	"cyclone/pkg/cyclonetypes"
	"cyclone/pkg/future"
)

// ExecuteFunc runs a queued command in place of the command's own Execute.
type ExecuteFunc func(ctx context.Context) (any, error)

// rosterEntry is one future or task the mailbox answers for at teardown.
type rosterEntry struct {
	fut                 *future.Future
	task                *future.Task
	cancelOnTeardown    bool
	propagateOnTeardown bool
}

func (e *rosterEntry) fail(err error) {
	if e.task != nil {
		e.task.Fail(err)
		return
	}
	e.fut.Fail(err)
}

func (e *rosterEntry) cancel() {
	if e.task != nil {
		e.task.Cancel()
		return
	}
	e.fut.Cancel()
}

// Mailbox queues nested requests for one running interactive command and owns every task
// spawned on their behalf.
type Mailbox struct {
	command any
	token   context.Context
	logger  *log.Logger

	mu        sync.Mutex
	state     MailboxState
	queue     []*ProcessItem
	signal    chan struct{}
	roster    []*rosterEntry
	main      *future.Task
	finishing bool
}

var _ cyclonetypes.Messages = (*Mailbox)(nil)

// NewMailbox creates an open mailbox for command. When token is done the mailbox stops
// delivering and starts draining.
func NewMailbox(command any, token context.Context) *Mailbox {
	return &Mailbox{
		command: command,
		token:   token,
		logger:  logger.NewStyledLogger("Mailbox"),
		state:   MailboxOpen,
		signal:  make(chan struct{}, 1),
	}
}

// Command returns the interactive command that owns the mailbox.
func (m *Mailbox) Command() any {
	return m.command
}

// Token returns the cancellation token the mailbox drains on.
func (m *Mailbox) Token() context.Context {
	return m.token
}

// State returns the current lifecycle state.
func (m *Mailbox) State() MailboxState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pending returns the number of queued requests not yet delivered.
func (m *Mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// RosterSize returns the number of tracked futures and tasks.
func (m *Mailbox) RosterSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.roster)
}

// Add queues a nested request. fut receives the request's outcome; execute may be nil to run
// the command's own Execute. A mailbox that is no longer open fails fut with ErrParentFinished.
func (m *Mailbox) Add(fut *future.Future, command any, execute ExecuteFunc) error {
	m.mu.Lock()
	if m.state == MailboxOpen && m.token.Err() != nil {
		m.state = MailboxDraining
	}
	if m.state != MailboxOpen {
		m.mu.Unlock()
		fut.Fail(ErrParentFinished)
		return ErrParentFinished
	}

	m.roster = append(m.roster, &rosterEntry{fut: fut, propagateOnTeardown: true})
	m.queue = append(m.queue, &ProcessItem{
		fut:     fut,
		command: command,
		execute: execute,
		mailbox: m,
	})
	m.mu.Unlock()

	m.notify()
	return nil
}

// AddMainTask records the task running the owning command's body.
func (m *Mailbox) AddMainTask(task *future.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.main = task
}

// Stream yields queued requests in the order they were added. Each step races the queue
// against the token and ctx; if either is done first, iteration ends without yielding.
func (m *Mailbox) Stream(ctx context.Context) iter.Seq[cyclonetypes.Message] {
	return func(yield func(cyclonetypes.Message) bool) {
		for {
			item, ok := m.next(ctx)
			if !ok {
				return
			}
			if !yield(item) {
				return
			}
		}
	}
}

func (m *Mailbox) next(ctx context.Context) (*ProcessItem, bool) {
	getter := future.New()
	entry := m.track(getter, nil, true, false)
	defer m.untrack(entry)

	for {
		if m.token.Err() != nil {
			getter.Cancel()
			m.drain()
			return nil, false
		}
		if item, ok := m.pop(); ok {
			getter.Resolve(item)
			return item, true
		}

		select {
		case <-m.signal:
		case <-m.token.Done():
			getter.Cancel()
			m.drain()
			return nil, false
		case <-ctx.Done():
			getter.Cancel()
			return nil, false
		case <-getter.Done():
			// Cancelled by teardown
			return nil, false
		}
	}
}

func (m *Mailbox) pop() (*ProcessItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return nil, false
	}
	item := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	if len(m.queue) > 0 {
		select {
		case m.signal <- struct{}{}:
		default:
		}
	}
	return item, true
}

func (m *Mailbox) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *Mailbox) drain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == MailboxOpen {
		m.state = MailboxDraining
		m.logger.Debug("Mailbox draining", "state", m.state.String())
	}
}

func (m *Mailbox) track(fut *future.Future, task *future.Task, cancelOnTeardown, propagateOnTeardown bool) *rosterEntry {
	entry := &rosterEntry{
		fut:                 fut,
		task:                task,
		cancelOnTeardown:    cancelOnTeardown,
		propagateOnTeardown: propagateOnTeardown,
	}
	m.mu.Lock()
	m.roster = append(m.roster, entry)
	m.mu.Unlock()
	return entry
}

func (m *Mailbox) untrack(entry *rosterEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.roster {
		if e == entry {
			m.roster = append(m.roster[:i], m.roster[i+1:]...)
			return
		}
	}
}

func (m *Mailbox) snapshot() []*rosterEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*rosterEntry(nil), m.roster...)
}

// cancelUnsettled cancels every pending future and every task's context.
func (m *Mailbox) cancelUnsettled() {
	for _, e := range m.snapshot() {
		switch {
		case e.task != nil:
			e.task.Cancel()
		case !e.fut.IsDone():
			e.fut.Cancel()
		}
	}
	m.logger.Debug("Mailbox token fired while draining", "state", MailboxDraining.String())
}

// Finish tears the mailbox down once the owning command's body has returned.
//
// A failed main task fails every unsettled propagating entry with its error. Cancel-flagged
// entries are cancelled, and every unsettled entry is cancelled when cancelled is true or the
// main task was cancelled. Requests still queued fail with ErrParentFinished. Finish then waits
// for every tracked task to exit, cancelling whatever is unsettled if the token fires meanwhile, fails whatever is still unsettled with ErrParentFinished,
// and closes the mailbox. Only the first call tears down; later calls return ErrMailboxClosed.
func (m *Mailbox) Finish(cancelled bool) error {
	m.mu.Lock()
	if m.state == MailboxClosed || m.finishing {
		m.mu.Unlock()
		return ErrMailboxClosed
	}
	m.finishing = true
	m.state = MailboxDraining
	queued := m.queue
	m.queue = nil
	main := m.main
	m.mu.Unlock()

	var mainErr error
	if main != nil && main.IsDone() {
		if main.Cancelled() {
			cancelled = true
		} else {
			mainErr = main.Err()
		}
	}

	entries := m.snapshot()
	if mainErr != nil {
		for _, e := range entries {
			if e.propagateOnTeardown && !e.fut.IsDone() {
				e.fail(mainErr)
			}
		}
	}
	for _, e := range entries {
		if (e.cancelOnTeardown || cancelled) && !e.fut.IsDone() {
			e.cancel()
		}
	}
	for _, item := range queued {
		item.fut.Fail(ErrParentFinished)
	}

	tokenDone := m.token.Done()
	for _, e := range m.snapshot() {
		if e.task == nil {
			continue
		}
		select {
		case <-e.task.Exited():
			continue
		case <-tokenDone:
			m.cancelUnsettled()
			tokenDone = nil
		}
		<-e.task.Exited()
	}

	for _, e := range m.snapshot() {
		e.fut.Fail(ErrParentFinished)
	}

	m.mu.Lock()
	m.state = MailboxClosed
	m.mu.Unlock()

	m.logger.Debug("Mailbox closed", "state", MailboxClosed.String(), "cancelled", cancelled, "error", mainErr)
	return nil
}
