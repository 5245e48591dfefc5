// Package cyclonetypes defines the contracts between the cyclone runtime and the commands it runs.
// This file contains the two command variants, the mailbox view handed to interactive commands,
// and the progress callback signature.
package cyclonetypes

import (
	"context"
	"iter"

	"cyclone/pkg/future"
)

// ProgressFunc reports intermediate state for the command currently executing.
// The runtime never interprets what it returns.
type ProgressFunc func(message any, keyvals ...any)

// SimpleCommand runs to completion and returns its result.
// Registered types implement it on their pointer receiver.
type SimpleCommand interface {
	Execute(ctx context.Context) (any, error)
}

// InteractiveCommand runs for as long as it keeps consuming nested requests from messages.
// Because the method name matches SimpleCommand, a type can only ever be one of the two.
type InteractiveCommand interface {
	Execute(ctx context.Context, messages Messages) (any, error)
}

// Messages is the queue of nested requests addressed to a running interactive command.
type Messages interface {
	// Stream yields queued messages in the order they were added. It stops without yielding
	// once the connection token or ctx is done.
	Stream(ctx context.Context) iter.Seq[Message]
}

// Message is one nested request delivered to an interactive command.
type Message interface {
	// Command is the bound command value for the nested request.
	Command() any
	// Interactive reports whether the nested command is itself interactive.
	Interactive() bool
	// Process runs the nested command and returns a future for its outcome.
	// Calling it again returns the same future.
	Process() *future.Future
	// NoProcess acknowledges the request without running it.
	NoProcess()
}

// Received is the value a request resolves with when it is acknowledged through NoProcess.
func Received() map[string]any {
	return map[string]any{"received": true}
}
