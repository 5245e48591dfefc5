package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"cyclone/internal/commands"
	"cyclone/internal/execution"
	"cyclone/internal/logger"
	"cyclone/pkg/future"
)

// Reserved message ids.
const (
	TickMessageID       = "__tick__"
	ServerTimeMessageID = "__server_time__"
)

// WithServerTime sets the value sent as the greeting when a connection opens.
func WithServerTime(t time.Time) HandlerOption {
	return func(o *handlerOptions) {
		o.serverTime = float64(t.UnixNano()) / float64(time.Second)
	}
}

// WithoutGreeting disables the server time greeting.
func WithoutGreeting() HandlerOption {
	return func(o *handlerOptions) {
		o.greet = false
	}
}

// WithConnectionIDs replaces the generator used for connection keys.
func WithConnectionIDs(newID func() string) HandlerOption {
	return func(o *handlerOptions) {
		o.newID = newID
	}
}

// WithProgressLogging logs every progress message at debug level.
func WithProgressLogging() HandlerOption {
	return func(o *handlerOptions) {
		o.logProgress = true
	}
}

// WSHandler serves the streaming protocol over a WebSocket.
//
// Clients send {"path": <route>, "message_id": <id or [ids...]>, "body": {"command", "args"}}
// and receive {"reply": <reply>, "message_id": <id>} for progress and results. A list of ids
// addresses a nested request to the interactive command live at the leading ids.
type WSHandler struct {
	commander  *execution.Commander
	progress   *ProgressMessageMaker
	final      context.Context
	serverTime any
	greet      bool
	newID      func() string
	logger     *log.Logger

	mu     sync.Mutex
	conns  map[string]*WSConn
	closed bool
	wg     sync.WaitGroup
}

// NewWSHandler creates a WebSocket handler backed by commander. Every connection runs on a fork
// of commander with its own tree.
func NewWSHandler(commander *execution.Commander, opts ...HandlerOption) *WSHandler {
	o := collectOptions(opts)
	if o.serverTime == nil {
		o.serverTime = float64(time.Now().UnixNano()) / float64(time.Second)
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return &WSHandler{
		commander:  commander,
		progress:   o.progress,
		final:      o.final,
		serverTime: o.serverTime,
		greet:      o.greet,
		newID:      o.newID,
		logger:     logger.NewStyledLogger("WebSocket"),
		conns:      make(map[string]*WSConn),
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	server := websocket.Server{
		// Origin checks belong to whatever fronts the server
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   h.serve,
	}
	server.ServeHTTP(w, r)
}

// Connections returns the number of open connections.
func (h *WSHandler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close cancels every open connection and refuses new ones.
func (h *WSHandler) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*WSConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Cancel()
	}
}

// Wait blocks until every connection has closed and its commands have finished.
func (h *WSHandler) Wait() {
	h.wg.Wait()
}

func (h *WSHandler) serve(ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(h.final)
	c := &WSConn{
		key:       h.newID(),
		ws:        ws,
		ctx:       ctx,
		cancel:    cancel,
		commander: h.commander.Fork(),
		handler:   h,
	}

	h.mu.Lock()
	h.conns[c.key] = c
	h.mu.Unlock()
	logger.ConnectionEvent("open", c.key)

	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()

	defer func() {
		c.Cancel()
		c.wait()
		h.mu.Lock()
		delete(h.conns, c.key)
		h.mu.Unlock()
		logger.ConnectionEvent("closed", c.key)
	}()

	if h.greet {
		c.reply(h.serverTime, ServerTimeMessageID)
	}

	for {
		var raw string
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			if ctx.Err() == nil {
				logger.ConnectionEvent("receive failed", c.key, "error", err)
			}
			return
		}
		c.onMessage(raw)
	}
}

// WSConn is one open WebSocket connection. It is exposed to commands under request_handler.
type WSConn struct {
	key       string
	ws        *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	commander *execution.Commander
	handler   *WSHandler

	writeMu sync.Mutex

	tasksMu sync.Mutex
	tasks   []*future.Task
}

// Key returns the connection's unique key.
func (c *WSConn) Key() string {
	return c.key
}

// Context returns the connection token. It is done once the connection closes.
func (c *WSConn) Context() context.Context {
	return c.ctx
}

// Commander returns the commander the connection dispatches through.
func (c *WSConn) Commander() *execution.Commander {
	return c.commander
}

// Cancel cancels the connection token and closes the socket. Interactive commands started on
// the connection are torn down.
func (c *WSConn) Cancel() {
	c.cancel()
}

type wsReply struct {
	Reply     any `json:"reply"`
	MessageID any `json:"message_id"`
}

// reply sends msg for messageID. Writes are serialised; failures on a closing connection are
// only logged.
func (c *WSConn) reply(msg any, messageID any) {
	data, err := json.Marshal(wsReply{Reply: msg, MessageID: messageID})
	if err != nil {
		c.handler.logger.Error("Failed to encode reply", "connection", c.key, "error", err)
		data, _ = json.Marshal(wsReply{Reply: map[string]any{"error": fmt.Sprint(msg)}, MessageID: messageID})
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := websocket.Message.Send(c.ws, string(data)); err != nil {
		logger.ConnectionEvent("send failed", c.key, "error", err)
	}
}

type wsMessage struct {
	path      string
	messageID any
	address   execution.Address
	body      execution.Body
}

func (c *WSConn) onMessage(raw string) {
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		c.reply(map[string]any{"error": "Message wasn't valid json\t" + err.Error()}, nil)
		return
	}

	if obj, ok := parsed.(map[string]any); ok && obj["path"] == TickMessageID {
		c.reply(map[string]any{"ok": "thankyou"}, TickMessageID)
		return
	}

	msg, err := parseMessage(parsed)
	if err != nil {
		c.reply(map[string]any{"error_code": "InvalidMessage", "error": err.Error()}, nil)
		return
	}
	c.dispatch(msg)
}

func parseMessage(parsed any) (*wsMessage, error) {
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, errors.New("message must be an object")
	}

	path, ok := obj["path"].(string)
	if !ok || path == "" {
		return nil, errors.New("path: expected a string")
	}

	msg := &wsMessage{path: path}
	switch id := obj["message_id"].(type) {
	case string:
		if id == "" {
			return nil, errors.New("message_id: expected a non empty string")
		}
		msg.messageID = id
		msg.address = execution.Address{id}
	case []any:
		if len(id) == 0 {
			return nil, errors.New("message_id: expected at least one id")
		}
		ids := make([]string, 0, len(id))
		for i, part := range id {
			s, ok := part.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("message_id[%d]: expected a non empty string", i)
			}
			ids = append(ids, s)
		}
		msg.messageID = ids
		msg.address = execution.Address(ids)
	default:
		return nil, errors.New("message_id: expected a string or a list of strings")
	}

	if _, ok := obj["body"]; !ok {
		return nil, errors.New("body: expected a value")
	}
	body, err := ParseBody(obj["body"])
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	msg.body = body
	return msg, nil
}

func (c *WSConn) dispatch(msg *wsMessage) {
	progress := func(message any, keyvals ...any) {
		c.reply(map[string]any{"progress": c.handler.progress.Make(message, keyvals...)}, msg.messageID)
	}
	executor := c.commander.Executor(progress, c, map[string]any{
		commands.KeyFinal:      c.handler.final,
		commands.KeyConnection: c.ctx,
	})

	task := executor.Dispatch(c.ctx, msg.address, msg.path, msg.body, execution.AllowInteractiveRoot())
	c.track(task)
	task.OnDone(func(done *future.Future) {
		c.finish(msg, done)
	})
}

func (c *WSConn) finish(msg *wsMessage, done *future.Future) {
	result, err := done.Result()
	switch {
	case err != nil:
		if c.ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return
		}
		status, body := MessageFromError(err)
		if status >= http.StatusInternalServerError {
			c.handler.logger.Error("Command failed", "connection", c.key, "address", msg.address, "error", err)
		}
		c.reply(body, msg.messageID)
	case result == nil:
		c.reply(map[string]any{"done": true}, msg.messageID)
	default:
		if _, ok := result.(ClosingReply); ok {
			c.reply(map[string]any{"closing": "goodbye"}, msg.messageID)
			c.Cancel()
			return
		}
		c.reply(result, msg.messageID)
	}
}

func (c *WSConn) track(task *future.Task) {
	c.tasksMu.Lock()
	defer c.tasksMu.Unlock()

	live := c.tasks[:0]
	for _, t := range c.tasks {
		select {
		case <-t.Exited():
		default:
			live = append(live, t)
		}
	}
	c.tasks = append(live, task)
}

// wait blocks until every task dispatched on the connection has exited.
func (c *WSConn) wait() {
	c.tasksMu.Lock()
	tasks := append([]*future.Task(nil), c.tasks...)
	c.tasksMu.Unlock()

	for _, t := range tasks {
		<-t.Exited()
	}
}
