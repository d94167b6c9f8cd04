// Package cmd implements the CLI surface: --port, --bind, --config, and
// cobra's built-in -h/--help.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyredis/tinyredis/config"
	"github.com/tinyredis/tinyredis/server"
)

var (
	cfgPath  string
	portFlag int
	bindFlag string
)

var rootCmd = &cobra.Command{
	Use:   "tinyredis",
	Short: "tinyredis is a Redis-compatible in-memory key/value server",
	RunE:  runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().IntVar(&portFlag, "port", 0, "port to listen on (overrides config)")
	rootCmd.PersistentFlags().StringVar(&bindFlag, "bind", "", "address to bind to (overrides config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlagOverrides(cfg, cmd.Flags().Changed("port"), portFlag, cmd.Flags().Changed("bind"), bindFlag)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	built, err := server.Construct(cfg)
	if err != nil {
		return fmt.Errorf("failed to construct server: %w", err)
	}
	return built.Run(cfg.Address())
}

// applyFlagOverrides layers explicitly-set --port/--bind flags over the
// config loaded from file/env; an unset flag leaves the loaded value
// alone rather than clobbering it with the flag's zero value.
func applyFlagOverrides(cfg *config.Config, portChanged bool, port int, bindChanged bool, bind string) {
	if portChanged {
		cfg.Port = port
	}
	if bindChanged {
		cfg.BindAddress = bind
	}
}

// Execute runs the CLI, exiting 1 when cobra reports an error (a bad flag,
// or a RunE error: failed config load/validate or a server failure) and 0
// otherwise.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tinyredis: %v\n", err)
		os.Exit(1)
	}
}
