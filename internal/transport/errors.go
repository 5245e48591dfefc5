// Package transport exposes a Commander over HTTP and WebSocket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"maps"
	"net/http"
	"reflect"

	"cyclone/internal/commands"
	"cyclone/internal/execution"
)

// Finished is an error that carries its own reply. Commands return it to answer with a
// specific status and body.
type Finished struct {
	Status int
	Fields map[string]any
}

// NewFinished creates a Finished reply with status and fields.
func NewFinished(status int, fields map[string]any) *Finished {
	return &Finished{Status: status, Fields: fields}
}

func (f *Finished) Error() string {
	return fmt.Sprintf("finished with status %d: %v", f.Status, f.Fields)
}

// ClosingReply asks the WebSocket transport to say goodbye and close the connection.
type ClosingReply struct{}

// Closing is returned by a command to end its WebSocket connection.
var Closing = ClosingReply{}

type detailer interface {
	Details() map[string]any
}

// internalServerError is the reply for anything the transport has no better description of.
func internalServerError() map[string]any {
	return map[string]any{
		"status":     http.StatusInternalServerError,
		"error":      "Internal Server Error",
		"error_code": "InternalServerError",
	}
}

// MessageFromError converts err into a reply status and body.
func MessageFromError(err error) (int, map[string]any) {
	var finished *Finished
	if errors.As(err, &finished) {
		body := maps.Clone(finished.Fields)
		if body == nil {
			body = make(map[string]any, 1)
		}
		body["status"] = finished.Status
		return finished.Status, body
	}

	status := statusFor(err)

	var d detailer
	if errors.As(err, &d) {
		return status, map[string]any{
			"status":     status,
			"error_code": errorCode(d),
			"error":      d.Details(),
		}
	}

	if code, ok := runtimeErrorCode(err); ok {
		return status, map[string]any{
			"status":     status,
			"error_code": code,
			"error":      err.Error(),
		}
	}

	return http.StatusInternalServerError, internalServerError()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, commands.ErrBadArguments),
		errors.Is(err, commands.ErrNoSuchRoute),
		errors.Is(err, commands.ErrUnknownCommand),
		errors.Is(err, commands.ErrInteractiveNotAllowed),
		errors.Is(err, execution.ErrAddressTooDeep):
		return http.StatusBadRequest
	case errors.Is(err, execution.ErrAddressNotFound),
		errors.Is(err, execution.ErrAddressInUse):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// runtimeErrorCode names the runtime's sentinel errors that have no Details of their own.
func runtimeErrorCode(err error) (string, bool) {
	switch {
	case errors.Is(err, execution.ErrAddressTooDeep):
		return "AddressTooDeep", true
	case errors.Is(err, execution.ErrParentFinished):
		return "ParentFinished", true
	case errors.Is(err, context.Canceled):
		return "Cancelled", true
	default:
		return "", false
	}
}

// errorCode returns the exported type name of v without its package or pointer. Unexported
// types such as the ones behind errors.New are reported as Error.
func errorCode(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if !token.IsExported(t.Name()) {
		return "Error"
	}
	return t.Name()
}
