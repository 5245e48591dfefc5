// Package main provides the cyclone CLI: it serves the command runtime over HTTP and WebSocket,
// runs single commands in-process and lists the command catalogue.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cyclone/internal/commands"
	"cyclone/internal/commands/builtin"
	"cyclone/internal/config"
	"cyclone/internal/execution"
	"cyclone/internal/logger"
)

var (
	configFile string
	logLevel   string
	logFile    string
	testMode   bool

	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cyclone",
	Short: "Cyclone - a command runtime over HTTP and WebSocket",
	Long: `Cyclone hosts a registry of typed commands. Simple commands answer HTTP PUT requests;
interactive commands run over a WebSocket and process nested commands addressed to them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().StringVar(&configFile, config.KeyConfigFile, "", "Read settings from a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug|info|warn|error) [default: info]")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&testMode, "test-mode", false, "Run in deterministic test mode")

	// Bind flags to viper
	for _, name := range []string{config.KeyConfigFile, "log-level", "log-file", "test-mode"} {
		mustBind(rootCmd, name)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(routesCmd)
	rootCmd.AddCommand(versionCmd)
}

func mustBind(cmd *cobra.Command, name string) {
	flag := cmd.PersistentFlags().Lookup(name)
	if flag == nil {
		flag = cmd.Flags().Lookup(name)
	}
	if err := viper.BindPFlag(name, flag); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", name, err)
		os.Exit(1)
	}
}

// initConfig loads the configuration layers and configures the logger before any command runs.
func initConfig() error {
	loaded, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Configure(loaded.LogLevel, loaded.LogFile, loaded.TestMode); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	cfg = loaded
	return nil
}

// newRegistry builds the route table with every built-in command.
func newRegistry(c *config.Config) (*commands.Registry, error) {
	registry := commands.NewRegistry(
		commands.WithDefaultRoute(c.DefaultRoute),
		commands.WithPrefix(c.Prefix),
	)
	if err := builtin.Register(registry); err != nil {
		return nil, fmt.Errorf("register builtin commands: %w", err)
	}
	return registry, nil
}

// newCommander builds the root commander. started is reported by the status command.
func newCommander(c *config.Config, registry *commands.Registry) *execution.Commander {
	execConfig := execution.DefaultConfig()
	if c.MaxDepth > 0 {
		execConfig.MaxDepth = c.MaxDepth
	}
	return execution.NewCommander(registry, nil, map[string]any{builtin.KeyStarted: time.Now()}, execution.WithConfig(execConfig))
}
