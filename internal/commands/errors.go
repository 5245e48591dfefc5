package commands

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every typed error below unwraps to one of these.
var (
	ErrNoSuchRoute           = errors.New("unknown route")
	ErrUnknownCommand        = errors.New("unknown command")
	ErrInteractiveNotAllowed = errors.New("command is for websockets only")
	ErrBadArguments          = errors.New("bad arguments")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrMissingInjectedField  = errors.New("missing injected field")
	ErrDuplicateCommand      = errors.New("command already registered")
	ErrUnknownParent         = errors.New("parent command not registered")
	ErrNonInteractiveParent  = errors.New("parent command is not interactive")
	ErrNotCommand            = errors.New("type does not implement a command contract")
	ErrInvalidSchema         = errors.New("invalid command schema")
	ErrEmptyCommandName      = errors.New("command name cannot be empty")
)

// NoSuchRouteError is returned by Bind for a route nothing was registered under.
type NoSuchRouteError struct {
	Wanted    string
	Available []string
}

func (e *NoSuchRouteError) Error() string {
	return fmt.Sprintf("%s %q, available: %s", ErrNoSuchRoute, e.Wanted, strings.Join(e.Available, ", "))
}

func (e *NoSuchRouteError) Unwrap() error { return ErrNoSuchRoute }

// Details returns the wire representation of the error.
func (e *NoSuchRouteError) Details() map[string]any {
	return map[string]any{"message": "Unknown route", "wanted": e.Wanted, "available": e.Available}
}

// UnknownCommandError is returned by Bind for a name that is not available in the route.
type UnknownCommandError struct {
	Wanted    string
	Available []string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("%s %q, available: %s", ErrUnknownCommand, e.Wanted, strings.Join(e.Available, ", "))
}

func (e *UnknownCommandError) Unwrap() error { return ErrUnknownCommand }

// Details returns the wire representation of the error.
func (e *UnknownCommandError) Details() map[string]any {
	return map[string]any{"message": "Unknown command", "wanted": e.Wanted, "available": e.Available}
}

// InteractiveNotAllowedError is returned by Bind when a websocket-only command is
// requested without opting into interactive roots.
type InteractiveNotAllowedError struct {
	Wanted    string
	Available []string
}

func (e *InteractiveNotAllowedError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInteractiveNotAllowed, e.Wanted)
}

func (e *InteractiveNotAllowedError) Unwrap() error { return ErrInteractiveNotAllowed }

// Details returns the wire representation of the error.
func (e *InteractiveNotAllowedError) Details() map[string]any {
	return map[string]any{"message": "Command is for websockets only", "wanted": e.Wanted, "available": e.Available}
}

// InvalidArgumentError describes a single field that could not be bound.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s %s: %s", ErrInvalidArgument, e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

// Details returns the wire representation of the error.
func (e *InvalidArgumentError) Details() map[string]any {
	return map[string]any{"message": "Invalid argument", "field": e.Field, "reason": e.Reason}
}

// MissingInjectedFieldError is returned when a required injected key is absent from the Env.
type MissingInjectedFieldError struct {
	Key string
}

func (e *MissingInjectedFieldError) Error() string {
	return fmt.Sprintf("%s %q", ErrMissingInjectedField, e.Key)
}

func (e *MissingInjectedFieldError) Unwrap() error { return ErrMissingInjectedField }

// Details returns the wire representation of the error.
func (e *MissingInjectedFieldError) Details() map[string]any {
	return map[string]any{"message": "Missing injected field", "key": e.Key}
}

// BadArgumentsError aggregates every field-level failure found while binding a command.
type BadArgumentsError struct {
	Command string
	Errors  []error
}

func (e *BadArgumentsError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%s for %s: %s", ErrBadArguments, e.Command, strings.Join(parts, "; "))
}

// Unwrap exposes ErrBadArguments and every field error to errors.Is and errors.As.
func (e *BadArgumentsError) Unwrap() []error {
	return append([]error{ErrBadArguments}, e.Errors...)
}

// Details returns the wire representation of the error.
func (e *BadArgumentsError) Details() map[string]any {
	errs := make([]any, 0, len(e.Errors))
	for _, err := range e.Errors {
		if d, ok := err.(interface{ Details() map[string]any }); ok {
			errs = append(errs, d.Details())
			continue
		}
		errs = append(errs, err.Error())
	}
	return map[string]any{"message": "Bad arguments", "command": e.Command, "errors": errs}
}

// DuplicateCommandError is returned by Register when a type or name is already taken.
type DuplicateCommandError struct {
	Route string
	Name  string
	Type  string
}

func (e *DuplicateCommandError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: type %s", ErrDuplicateCommand, e.Type)
	}
	return fmt.Sprintf("%s: %s%s", ErrDuplicateCommand, e.Route, routeSuffix(e.Name))
}

func (e *DuplicateCommandError) Unwrap() error { return ErrDuplicateCommand }

// UnknownParentError is returned by Register when the parent is not registered in the route.
type UnknownParentError struct {
	Route  string
	Parent string
}

func (e *UnknownParentError) Error() string {
	return fmt.Sprintf("%s: %s in %s", ErrUnknownParent, e.Parent, e.Route)
}

func (e *UnknownParentError) Unwrap() error { return ErrUnknownParent }

// NonInteractiveParentError is returned by Register when the parent cannot receive messages.
type NonInteractiveParentError struct {
	Parent string
}

func (e *NonInteractiveParentError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNonInteractiveParent, e.Parent)
}

func (e *NonInteractiveParentError) Unwrap() error { return ErrNonInteractiveParent }

// InvalidSchemaError is returned by Register when a command's struct tags cannot be compiled.
type InvalidSchemaError struct {
	Type   string
	Field  string
	Reason string
}

func (e *InvalidSchemaError) Error() string {
	return fmt.Sprintf("%s %s.%s: %s", ErrInvalidSchema, e.Type, e.Field, e.Reason)
}

func (e *InvalidSchemaError) Unwrap() error { return ErrInvalidSchema }

func routeSuffix(name string) string {
	if name == "" {
		return ""
	}
	return " " + name
}
