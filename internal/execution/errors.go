package execution

import (
	"errors"
	"fmt"
)

var (
	// ErrParentFinished settles nested requests whose interactive parent ended before they did.
	ErrParentFinished = errors.New("parent command finished")
	// ErrMailboxClosed is returned by a second Finish on the same mailbox.
	ErrMailboxClosed = errors.New("mailbox already closed")
	// ErrNotExecutable is returned when a queued command has no way to run.
	ErrNotExecutable = errors.New("command is not executable")
	// ErrAddressNotFound is the sentinel behind AddressNotFoundError.
	ErrAddressNotFound = errors.New("address not found")
	// ErrAddressInUse is the sentinel behind AddressInUseError.
	ErrAddressInUse = errors.New("address already in use")
	// ErrAddressTooDeep is returned for addresses nested deeper than Config.MaxDepth.
	ErrAddressTooDeep = errors.New("address nested too deep")
)

// AddressNotFoundError is returned when a nested request names a parent that is not live.
type AddressNotFoundError struct {
	Address Address
}

func (e *AddressNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAddressNotFound, e.Address)
}

func (e *AddressNotFoundError) Unwrap() error { return ErrAddressNotFound }

// Details returns the wire representation of the error.
func (e *AddressNotFoundError) Details() map[string]any {
	return map[string]any{"message": "No such command in the tree", "address": []string(e.Address)}
}

// AddressInUseError is returned when an interactive command starts at a live address.
type AddressInUseError struct {
	Address Address
}

func (e *AddressInUseError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAddressInUse, e.Address)
}

func (e *AddressInUseError) Unwrap() error { return ErrAddressInUse }

// Details returns the wire representation of the error.
func (e *AddressInUseError) Details() map[string]any {
	return map[string]any{"message": "Address already in use", "address": []string(e.Address)}
}
