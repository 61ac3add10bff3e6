package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/nerrad567/meshtastic-bridge/internal/infrastructure/config"
	"github.com/nerrad567/meshtastic-bridge/internal/meshdev"
	"github.com/nerrad567/meshtastic-bridge/internal/platform"
)

func newPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports a radio may be attached to",
		Long: `List the serial ports reported by the operating system, merged with the
device nodes matching the configured recovery port patterns.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			osPorts, err := meshdev.ListSerialPorts()
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			host := platform.NewLinux(platform.Config{DriverModule: cfg.Recovery.DriverModule})
			matched := host.ListPorts(cfg.Recovery.PortPatterns)

			printPorts(cmd.OutOrStdout(), cfg.Device.Address, mergePorts(osPorts, matched))
			return nil
		},
	}
}

// mergePorts returns the sorted union of both lists.
func mergePorts(a, b []string) []string {
	out := slices.Concat(a, b)
	slices.Sort(out)
	return slices.Compact(out)
}

func printPorts(w io.Writer, configured string, ports []string) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return
	}
	for _, p := range ports {
		marker := " "
		if p == configured {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\n", marker, p)
	}
}
