// Meshtastic MQTT Bridge
//
// meshbridge relays everything a Meshtastic radio hears onto an MQTT broker
// and keeps the radio connection alive without supervision:
//   - packets are normalised to JSON and published per message type
//   - node identities and telemetry are kept as retained node records
//   - a stalled radio is reconnected, and a wedged USB driver is reset
//
// Run "meshbridge --help" for commands and flags.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/meshtastic-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configPath is the --config flag.
var configPath string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "meshbridge",
		Short: "Bridge a Meshtastic radio to MQTT",
		Long: `meshbridge connects to a Meshtastic radio over USB serial or TCP and
publishes every packet it hears, plus node records and bridge status,
to an MQTT broker.

Configuration is read from a YAML file (--config, or MESHBRIDGE_CONFIG)
and may be overridden with MESHBRIDGE_* environment variables.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Cancel on Ctrl+C and SIGTERM for a graceful shutdown
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, configPath)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", getConfigPath(), "path to the YAML configuration file")

	rootCmd.AddCommand(newPortsCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// getConfigPath returns the configuration file path.
// Uses MESHBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MESHBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
