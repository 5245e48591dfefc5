package execution

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cyclone/internal/commands"
	"cyclone/internal/logger"
	"cyclone/pkg/cyclonetypes"
	"cyclone/pkg/future"
)

// Commander holds everything shared by the executors of one registry: the route table, the live
// tree, and the registry-wide options layered into every Env.
type Commander struct {
	registry *commands.Registry
	tree     *Tree
	options  map[string]any
	config   Config
	tracer   trace.Tracer
	logger   *log.Logger
}

// CommanderOption configures a Commander.
type CommanderOption func(*Commander)

// WithConfig replaces the default executor configuration.
func WithConfig(config Config) CommanderOption {
	return func(c *Commander) {
		c.config = config
	}
}

// NewCommander creates a commander. A nil tree gets a fresh one.
func NewCommander(registry *commands.Registry, tree *Tree, options map[string]any, opts ...CommanderOption) *Commander {
	if tree == nil {
		tree = NewTree()
	}
	c := &Commander{
		registry: registry,
		tree:     tree,
		options:  make(map[string]any, len(options)+1),
		config:   DefaultConfig(),
		logger:   logger.NewStyledLogger("Executor"),
	}
	for _, opt := range opts {
		opt(c)
	}
	for k, v := range options {
		c.options[k] = v
	}
	c.options[commands.KeyCommander] = c
	c.tracer = otel.Tracer(c.config.TracerName)
	return c
}

// Fork returns a commander with the same registry, options and configuration and a tree of its
// own. Transports fork once per connection so message ids only need to be unique per client.
func (c *Commander) Fork() *Commander {
	return NewCommander(c.registry, NewTree(), c.options, WithConfig(c.config))
}

// Registry returns the route table commands are bound against.
func (c *Commander) Registry() *commands.Registry {
	return c.registry
}

// Tree returns the live tree of interactive commands.
func (c *Commander) Tree() *Tree {
	return c.tree
}

// Executor returns an executor that reports progress to progress and exposes handler to
// commands under request_handler.
func (c *Commander) Executor(progress cyclonetypes.ProgressFunc, handler any, overrides map[string]any) *Executor {
	copied := make(map[string]any, len(overrides))
	for k, v := range overrides {
		copied[k] = v
	}
	return &Executor{
		commander: c,
		progress:  progress,
		handler:   handler,
		overrides: copied,
	}
}

// Executor binds and runs requests for one caller.
type Executor struct {
	commander *Commander
	progress  cyclonetypes.ProgressFunc
	handler   any
	overrides map[string]any
}

// ExecuteOption configures a single Execute call.
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	overrides        map[string]any
	allowInteractive bool
	requestFuture    *future.Future
	address          Address
}

// WithOverrides layers extra Env values on top of the executor's own.
func WithOverrides(overrides map[string]any) ExecuteOption {
	return func(o *executeOptions) {
		o.overrides = overrides
	}
}

// AllowInteractiveRoot lets websocket-only commands be started at the root of a tree.
func AllowInteractiveRoot() ExecuteOption {
	return func(o *executeOptions) {
		o.allowInteractive = true
	}
}

// WithRequestFuture supplies the future injected as request_future instead of a fresh one.
func WithRequestFuture(f *future.Future) ExecuteOption {
	return func(o *executeOptions) {
		o.requestFuture = f
	}
}

// WithAddress places the request in the tree. Addresses longer than one are nested requests
// for the interactive command live at the parent address.
func WithAddress(addr Address) ExecuteOption {
	return func(o *executeOptions) {
		o.address = addr
	}
}

// Commander returns the commander this executor belongs to.
func (e *Executor) Commander() *Commander {
	return e.commander
}

// Execute binds body against route and runs the resulting command. Binding errors are returned
// as they are. The request future is cancelled on every return path.
func (e *Executor) Execute(ctx context.Context, route string, body Body, opts ...ExecuteOption) (result any, err error) {
	o := &executeOptions{}
	for _, opt := range opts {
		opt(o)
	}
	requestFuture := o.requestFuture
	if requestFuture == nil {
		requestFuture = future.New()
	}
	defer requestFuture.Cancel()

	c := e.commander
	ctx, span := c.tracer.Start(ctx, "cyclone.execute", trace.WithAttributes(
		attribute.String("cyclone.route", route),
		attribute.String("cyclone.command", body.Command),
		attribute.Int("cyclone.address.depth", len(o.address)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger.CommandExecution(route, body.Command, o.address)

	if c.config.MaxDepth > 0 && len(o.address) > c.config.MaxDepth {
		return nil, fmt.Errorf("%w: %d levels", ErrAddressTooDeep, len(o.address))
	}

	env := commands.NewEnv(c.registry.Base()).
		Set(commands.KeyRegistry, c.registry).
		With(c.options).
		With(e.overrides).
		With(o.overrides).
		With(map[string]any{
			commands.KeyProgress:      e.progress,
			commands.KeyHandler:       e.handler,
			commands.KeyRequestFuture: requestFuture,
			commands.KeyExecutor:      e,
		})
	if len(o.address) > 0 {
		env = env.Set(commands.KeyMessageID, []string(o.address))
	}

	name := body.Command
	allowInteractive := o.allowInteractive
	var parent *Mailbox
	if o.address.IsNested() {
		mailbox, descriptor, ok := c.tree.Lookup(o.address.Parent())
		if !ok {
			return nil, &AddressNotFoundError{Address: o.address.Parent()}
		}
		parent = mailbox
		name = descriptor.Name + ":" + body.Command
		allowInteractive = true
		env = env.With(map[string]any{
			commands.KeyParentCommand: mailbox.Command(),
			commands.KeyConnection:    mailbox.Token(),
		})
	}

	descriptor, err := c.registry.Resolve(route, name, allowInteractive)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("cyclone.interactive", descriptor.Interactive))

	cmd, err := descriptor.Bind(body.Args, env)
	if err != nil {
		return nil, err
	}

	run := e.entry(descriptor, cmd, o.address, env)
	if parent == nil {
		return run(ctx)
	}

	fut := future.New()
	if err := parent.Add(fut, cmd, run); err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

// Dispatch runs Execute for addr in its own task. The task settles exactly once with the outcome.
func (e *Executor) Dispatch(ctx context.Context, addr Address, route string, body Body, opts ...ExecuteOption) *future.Task {
	opts = append(opts[:len(opts):len(opts)], WithAddress(addr))
	return future.Go(ctx, fmt.Sprintf("dispatch %s", addr), func(ctx context.Context) (any, error) {
		return e.Execute(ctx, route, body, opts...)
	})
}

// entry builds the execution entry point for a bound command. Interactive commands run with a
// mailbox of their own; simple commands run their Execute directly.
func (e *Executor) entry(d *commands.Descriptor, cmd any, addr Address, env commands.Env) ExecuteFunc {
	switch command := cmd.(type) {
	case cyclonetypes.InteractiveCommand:
		return func(ctx context.Context) (any, error) {
			token := ctx
			if v, ok := env.Lookup(commands.KeyConnection); ok {
				if connection, ok := v.(context.Context); ok && connection != nil {
					token = connection
				}
			}
			return e.commander.runInteractive(ctx, addr, d, command, token)
		}
	case cyclonetypes.SimpleCommand:
		return command.Execute
	}
	return func(context.Context) (any, error) {
		return nil, fmt.Errorf("%w: %T", ErrNotExecutable, cmd)
	}
}

// runInteractive runs an interactive command's body against a fresh mailbox and tears the
// mailbox down once the body returns. The address is released before teardown so late nested
// requests fail with AddressNotFoundError instead of queueing.
func (c *Commander) runInteractive(ctx context.Context, addr Address, d *commands.Descriptor, cmd cyclonetypes.InteractiveCommand, token context.Context) (any, error) {
	mailbox := NewMailbox(cmd, token)
	if len(addr) > 0 {
		if err := c.tree.Register(addr, mailbox, d); err != nil {
			return nil, err
		}
	}

	main := future.Go(ctx, d.Name, func(ctx context.Context) (any, error) {
		return cmd.Execute(ctx, mailbox)
	})
	mailbox.AddMainTask(main)

	<-main.Done()
	if len(addr) > 0 {
		c.tree.Remove(addr)
	}
	if err := mailbox.Finish(token.Err() != nil || ctx.Err() != nil); err != nil {
		c.logger.Warn("Mailbox teardown skipped", "command", d.Name, "address", []string(addr), "error", err)
	}
	<-main.Exited()

	return main.Result()
}
