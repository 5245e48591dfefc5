package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"cyclone/internal/commands"
	"cyclone/internal/execution"
	"cyclone/internal/transport"
)

var (
	execRoute string
	execArgs  string
)

// errCommandFailed marks a command whose failure has already been printed.
var errCommandFailed = errors.New("command failed")

// execCmd runs one simple command in-process
var execCmd = &cobra.Command{
	Use:   "exec <command>",
	Short: "Run a simple command in-process and print its result",
	Long: `Bind and run a single simple command without starting the server. Progress is written to
stderr and the result to stdout. Interactive commands need a WebSocket and are refused.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := newRegistry(cfg)
		if err != nil {
			return err
		}
		return runExec(cmd, newCommander(cfg, registry), execRoute, args[0], execArgs)
	},
}

func init() {
	execCmd.Flags().StringVar(&execRoute, "route", "", "Route the command is registered under [default: the default route]")
	execCmd.Flags().StringVar(&execArgs, "args", "", "Command arguments as a JSON object")
}

func runExec(cmd *cobra.Command, commander *execution.Commander, route, name, rawArgs string) error {
	var args map[string]any
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return fmt.Errorf("--args must be a JSON object: %w", err)
		}
	}

	maker := transport.NewProgressMessageMaker(false)
	progress := func(message any, keyvals ...any) {
		_ = writeJSON(cmd.ErrOrStderr(), map[string]any{"progress": maker.Make(message, keyvals...)})
	}

	executor := commander.Executor(progress, nil, map[string]any{commands.KeyFinal: cmd.Context()})
	result, err := executor.Execute(cmd.Context(), route, execution.Body{Command: name, Args: args})
	if err != nil {
		_, body := transport.MessageFromError(err)
		if werr := writeJSON(cmd.OutOrStdout(), body); werr != nil {
			return werr
		}
		return fmt.Errorf("%w: %s", errCommandFailed, name)
	}

	switch v := result.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(cmd.OutOrStdout(), v)
		return err
	case transport.ClosingReply:
		return nil
	default:
		return writeJSON(cmd.OutOrStdout(), v)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
