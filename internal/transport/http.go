package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"cyclone/internal/commands"
	"cyclone/internal/execution"
	"cyclone/internal/logger"
)

// maxBodyBytes bounds the request bodies the HTTP handler will read.
const maxBodyBytes = 1 << 20

var errBodyNotObject = errors.New("body is not a json object")

// CommandHandler runs simple commands for PUT requests. The request path is the route and the
// body is {"command": <name>, "args": {...}}.
type CommandHandler struct {
	commander *execution.Commander
	progress  *ProgressMessageMaker
	final     context.Context
	logger    *log.Logger
}

// HandlerOption configures the HTTP and WebSocket handlers.
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	final       context.Context
	progress    *ProgressMessageMaker
	serverTime  any
	greet       bool
	newID       func() string
	logProgress bool
}

// WithFinal sets the token injected into commands under final.
func WithFinal(ctx context.Context) HandlerOption {
	return func(o *handlerOptions) {
		o.final = ctx
	}
}

// WithProgressMaker replaces the default progress message maker.
func WithProgressMaker(maker *ProgressMessageMaker) HandlerOption {
	return func(o *handlerOptions) {
		o.progress = maker
	}
}

func collectOptions(opts []HandlerOption) *handlerOptions {
	o := &handlerOptions{final: context.Background(), greet: true}
	for _, opt := range opts {
		opt(o)
	}
	if o.progress == nil {
		o.progress = NewProgressMessageMaker(o.logProgress)
	}
	return o
}

// NewCommandHandler creates an HTTP handler backed by commander.
func NewCommandHandler(commander *execution.Commander, opts ...HandlerOption) *CommandHandler {
	o := collectOptions(opts)
	return &CommandHandler{
		commander: commander,
		progress:  o.progress,
		final:     o.final,
		logger:    logger.NewStyledLogger("HTTP"),
	}
}

func (h *CommandHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.Header().Set("Allow", http.MethodPut)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, NewFinished(http.StatusBadRequest, map[string]any{"reason": "Failed to read body", "error": err.Error()}))
		return
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		h.logger.Error("Failed to load body as json", "body", string(raw))
		h.writeError(w, NewFinished(http.StatusBadRequest, map[string]any{"reason": "Failed to load body as json", "error": err.Error()}))
		return
	}

	body, err := ParseBody(decoded)
	if err != nil {
		h.writeError(w, err)
		return
	}

	progress := func(message any, keyvals ...any) {
		info := h.progress.Make(message, keyvals...)
		h.logger.Debug("Progress", "route", r.URL.Path, "command", body.Command, "progress", info)
	}
	executor := h.commander.Executor(progress, r, map[string]any{commands.KeyFinal: h.final})

	result, err := executor.Execute(r.Context(), r.URL.Path, body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

func (h *CommandHandler) writeError(w http.ResponseWriter, err error) {
	status, msg := MessageFromError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Command failed", "error", err)
	}
	writeResult(w, status, msg)
}

// ParseBody validates a decoded request body and returns it as an execution.Body.
func ParseBody(decoded any) (execution.Body, error) {
	obj, ok := decoded.(map[string]any)
	if !ok {
		return execution.Body{}, &commands.BadArgumentsError{
			Errors: []error{&commands.InvalidArgumentError{Field: "body", Reason: errBodyNotObject.Error()}},
		}
	}

	var errs []error
	command, ok := obj["command"].(string)
	if !ok || command == "" {
		errs = append(errs, &commands.InvalidArgumentError{Field: "command", Reason: "expected a command name"})
	}

	var args map[string]any
	switch a := obj["args"].(type) {
	case nil:
	case map[string]any:
		args = a
	default:
		errs = append(errs, &commands.InvalidArgumentError{Field: "args", Reason: "expected an object"})
	}

	if len(errs) > 0 {
		return execution.Body{}, &commands.BadArgumentsError{Command: command, Errors: errs}
	}
	return execution.Body{Command: command, Args: args}, nil
}

// writeResult writes msg as the HTTP reply.
//
// A map may carry "status" to pick the status code and "html" to reply with that markup instead.
// nil replies with no body. Maps, slices and structs are JSON; strings are text/plain unless
// they look like an html document.
func writeResult(w http.ResponseWriter, status int, msg any) {
	if m, ok := msg.(map[string]any); ok {
		if s, ok := statusValue(m["status"]); ok {
			status = s
		}
		if html, ok := m["html"]; ok {
			msg = html
		}
	}

	switch v := msg.(type) {
	case nil, ClosingReply:
		w.WriteHeader(status)
	case string:
		trimmed := strings.TrimLeft(v, " \t\r\n")
		if strings.HasPrefix(trimmed, "<html>") || strings.HasPrefix(trimmed, "<!DOCTYPE html>") {
			w.Header().Set("Content-Type", "text/html; charset=UTF-8")
		} else {
			w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, v)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "    ")
		if err := enc.Encode(v); err != nil {
			status, v = http.StatusInternalServerError, internalServerError()
			buf.Reset()
			_ = enc.Encode(v)
		}
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		w.WriteHeader(status)
		_, _ = w.Write(buf.Bytes())
	}
}

func statusValue(v any) (int, bool) {
	switch s := v.(type) {
	case int:
		return s, s > 0
	case float64:
		return int(s), s > 0
	default:
		return 0, false
	}
}
