// Devboot runs the device firmware on the host.
//
// The boot sequence, configuration store, network supervisor, dashboard and
// status indicator run against a flash image file and a simulated radio, so
// the whole device can be exercised without hardware. Use devboot-flash to
// build and inspect the image.
//
// Usage:
//
//	devboot [command] [flags]
//
// See 'devboot --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/devboot/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devboot",
	Short: "Device firmware host emulator",
	Long: `Runs the device firmware against a flash image file and a simulated radio.

The device mounts its configuration store, resolves network credentials,
joins a network or hosts its own access point, and serves the status
dashboard. Use 'devboot watch' to follow a running device, and the separate
'devboot-flash' utility to build and inspect flash images.`,
	Version:      version.Version,
	SilenceUsage: true,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("devboot %s\n", version.Full())
	},
}
