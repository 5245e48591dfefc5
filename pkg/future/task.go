package future

import (
	"context"
	"errors"
	"fmt"
)

// Task runs a function in its own goroutine and settles its embedded Future with the outcome.
//
// Cancel and Fail settle the future immediately and cancel the task's context; the goroutine
// itself stops once the function observes the context. Exited is closed when it has.
type Task struct {
	*Future
	name   string
	cancel context.CancelFunc
	exited chan struct{}
}

// Go starts fn in a new goroutine under a context derived from ctx.
func Go(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		Future: New(),
		name:   name,
		cancel: cancel,
		exited: make(chan struct{}),
	}
	go t.run(taskCtx, fn)
	return t
}

func (t *Task) run(ctx context.Context, fn func(ctx context.Context) (any, error)) {
	defer close(t.exited)
	defer t.cancel()

	value, err := t.call(ctx, fn)
	switch {
	case err == nil:
		t.Future.Resolve(value)
	case errors.Is(err, context.Canceled):
		t.Future.Cancel()
	default:
		t.Future.Fail(err)
	}
}

func (t *Task) call(ctx context.Context, fn func(ctx context.Context) (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
	}()
	return fn(ctx)
}

// Name returns the label the task was started with.
func (t *Task) Name() string {
	return t.name
}

// Cancel settles the task as cancelled and cancels its context.
func (t *Task) Cancel() bool {
	settled := t.Future.Cancel()
	t.cancel()
	return settled
}

// Fail settles the task with err and cancels its context.
func (t *Task) Fail(err error) bool {
	settled := t.Future.Fail(err)
	t.cancel()
	return settled
}

// Exited is closed once the task's goroutine has returned.
func (t *Task) Exited() <-chan struct{} {
	return t.exited
}
