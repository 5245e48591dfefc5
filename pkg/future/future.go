// Package future provides single-assignment result cells and the goroutine tasks that settle them.
// A Future is settled exactly once: the first of Resolve, Fail or Cancel wins and every later call
// is a no-op that reports false.
package future

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrCancelled is the outcome of a cancelled future. It matches context.Canceled with errors.Is.
	ErrCancelled = fmt.Errorf("future cancelled: %w", context.Canceled)
	// ErrPending is returned by Result while the future is not settled.
	ErrPending = errors.New("future is not done")
)

// Future is a single-assignment result cell.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	value     any
	err       error
	cancelled bool
	callbacks []func(*Future)
}

// New creates an unsettled future.
func New() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved creates a future already settled with value.
func Resolved(value any) *Future {
	f := New()
	f.Resolve(value)
	return f
}

// Failed creates a future already settled with err.
func Failed(err error) *Future {
	f := New()
	f.Fail(err)
	return f
}

func (f *Future) settle(value any, err error, cancelled bool) bool {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return false
	default:
	}
	f.value, f.err, f.cancelled = value, err, cancelled
	close(f.done)
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(f)
	}
	return true
}

// Resolve settles the future with a value. It reports whether this call settled it.
func (f *Future) Resolve(value any) bool {
	return f.settle(value, nil, false)
}

// Fail settles the future with an error. It reports whether this call settled it.
func (f *Future) Fail(err error) bool {
	if err == nil {
		err = errors.New("future failed without an error")
	}
	return f.settle(nil, err, false)
}

// Cancel settles the future as cancelled. It reports whether this call settled it.
func (f *Future) Cancel() bool {
	return f.settle(nil, ErrCancelled, true)
}

// Done is closed once the future is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future is settled.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Cancelled reports whether the future was settled by Cancel.
func (f *Future) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// Result returns the settled outcome without blocking, or ErrPending.
func (f *Future) Result() (any, error) {
	if !f.IsDone() {
		return nil, ErrPending
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Err returns the error the future settled with. It is nil while pending or after Resolve.
func (f *Future) Err() error {
	if !f.IsDone() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the future settles or ctx is done.
// An expired ctx does not settle the future.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnDone registers fn to run once the future settles. If it already has, fn runs immediately.
func (f *Future) OnDone(fn func(*Future)) {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		fn(f)
		return
	default:
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}

// Transfer copies this future's outcome into dst once it settles.
// dst keeps whatever it was settled with first.
func (f *Future) Transfer(dst *Future) {
	f.OnDone(func(src *Future) {
		value, err := src.Result()
		switch {
		case src.Cancelled():
			dst.Cancel()
		case err != nil:
			dst.Fail(err)
		default:
			dst.Resolve(value)
		}
	})
}
