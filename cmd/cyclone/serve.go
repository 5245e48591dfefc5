package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cyclone/internal/logger"
	"cyclone/internal/server"
	"cyclone/internal/telemetry"
	"cyclone/internal/testutils"
	"cyclone/internal/transport"
	"cyclone/internal/version"
)

// serveCmd hosts every route until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the command routes over HTTP and WebSocket",
	Long: `Serve every registered route for HTTP PUT requests and mount the WebSocket handler at
<default route>/ws. The server shuts down gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "Interface to listen on")
	serveCmd.Flags().Int("port", 9000, "Port to listen on")
	serveCmd.Flags().Bool("greeting", true, "Send the server time when a WebSocket opens")
	serveCmd.Flags().Duration("shutdown-timeout", 5*time.Second, "How long in-flight HTTP requests get on shutdown")
	for _, name := range []string{"host", "port", "greeting", "shutdown-timeout"} {
		mustBind(serveCmd, name)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info, err := version.GetInfo()
	if err != nil {
		return err
	}
	shutdownTracing, err := telemetry.Setup(ctx, "cyclone", info.Version, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	logger.Info("Starting cyclone", "version", info.Version, "codename", info.Codename, "addr", cfg.Addr())

	srv, err := server.New(newCommander(cfg, registry), server.Config{
		Addr:            cfg.Addr(),
		ShutdownTimeout: cfg.ShutdownTimeout,
		Greeting:        cfg.Greeting,
		HandlerOptions: []transport.HandlerOption{
			transport.WithConnectionIDs(testutils.IDGenerator(cfg.TestMode)),
		},
	})
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}
