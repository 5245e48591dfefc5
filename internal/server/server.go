// Package server hosts a Commander's routes over HTTP and WebSocket until the final token is
// cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"cyclone/internal/execution"
	"cyclone/internal/logger"
	"cyclone/internal/transport"
)

const (
	defaultShutdownTimeout   = 5 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
)

// Config defines the listening address and lifecycle timeouts.
type Config struct {
	Addr              string
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	// Greeting controls the server time message sent when a WebSocket opens
	Greeting bool
	// HandlerOptions are passed to both transports
	HandlerOptions []transport.HandlerOption
}

// Server serves every route of a commander's registry.
type Server struct {
	config    Config
	commander *execution.Commander
	started   time.Time
	logger    *log.Logger
}

// New creates a server for commander.
func New(commander *execution.Commander, config Config) (*Server, error) {
	if commander == nil {
		return nil, errors.New("commander is required")
	}
	if config.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	return &Server{
		config:    config,
		commander: commander,
		started:   time.Now(),
		logger:    logger.NewStyledLogger("Server"),
	}, nil
}

// WSPath returns where the WebSocket handler is mounted.
func (s *Server) WSPath() string {
	return s.commander.Registry().NormalizeRoute("") + "/ws"
}

// Handler builds the routing table. final is injected into commands and closes WebSocket
// connections when cancelled.
func (s *Server) Handler(final context.Context) (http.Handler, *transport.WSHandler) {
	opts := append([]transport.HandlerOption{
		transport.WithFinal(final),
		transport.WithServerTime(s.started),
	}, s.config.HandlerOptions...)
	if !s.config.Greeting {
		opts = append(opts, transport.WithoutGreeting())
	}

	commands := transport.NewCommandHandler(s.commander, opts...)
	ws := transport.NewWSHandler(s.commander, opts...)

	mux := http.NewServeMux()
	for _, route := range s.commander.Registry().Routes() {
		mux.Handle(route, commands)
	}
	mux.Handle(s.WSPath(), ws)
	return mux, ws
}

// Serve listens on the configured address and serves until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then shuts down: HTTP requests get the
// shutdown timeout to finish, and every WebSocket connection is cancelled and awaited.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	handler, ws := s.Handler(ctx)
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("Hosting server", "address", ln.Addr().String(), "routes", s.commander.Registry().Routes(), "ws", s.WSPath())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)

		ws.Close()
		ws.Wait()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
	return g.Wait()
}
