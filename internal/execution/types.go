// Package execution provides the runtime that drives command trees for cyclone.
// It binds requests through the registry, runs simple commands to completion, and gives every
// running interactive command a mailbox that nested requests are routed to by address.
package execution

import "strings"

// MailboxState represents where a mailbox is in its lifecycle.
type MailboxState int

const (
	// MailboxOpen - accepting nested requests and delivering them to the command body
	MailboxOpen MailboxState = iota
	// MailboxDraining - the token fired or the body returned; no new requests are accepted
	MailboxDraining
	// MailboxClosed - teardown has settled every roster entry
	MailboxClosed
)

// String returns a human-readable representation of the mailbox state.
func (s MailboxState) String() string {
	switch s {
	case MailboxOpen:
		return "Open"
	case MailboxDraining:
		return "Draining"
	case MailboxClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Address identifies a command in a tree: a single id for a top-level command, or the ids from
// the root down for a nested one.
type Address []string

// Key returns a map key for the address.
func (a Address) Key() string {
	return strings.Join(a, "\x1f")
}

// Parent returns the address of the enclosing command, or nil for a top-level address.
func (a Address) Parent() Address {
	if len(a) < 2 {
		return nil
	}
	return a[:len(a)-1]
}

// IsNested reports whether the address points below a top-level command.
func (a Address) IsNested() bool {
	return len(a) > 1
}

// String returns a human-readable form of the address.
func (a Address) String() string {
	return "[" + strings.Join(a, ", ") + "]"
}

// Body is the command part of a request.
type Body struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
}

// Config holds configuration options for the executor.
type Config struct {
	// MaxDepth limits how deep nested requests may be addressed
	MaxDepth int
	// TracerName is the instrumentation name used for execution spans
	TracerName string
}

// DefaultConfig returns sensible default configuration for the executor.
func DefaultConfig() Config {
	return Config{
		MaxDepth:   50,
		TracerName: "cyclone/execution",
	}
}
