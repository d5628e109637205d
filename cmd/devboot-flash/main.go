// Devboot-flash builds and inspects devboot flash images.
//
// It creates images with the default partition layout and a formatted
// configuration store, seeds credentials, and reads or changes the OTA
// selection and the store contents of an existing image. Run it while the
// device is stopped; the image is memory-mapped by both tools.
//
// Usage:
//
//	devboot-flash [command] [flags]
//
// See 'devboot-flash --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/devboot/internal/logging"
	"github.com/muurk/devboot/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devboot-flash",
	Short: "Flash image utility for devboot",
	Long: `Builds and inspects the flash images devboot boots from.

Images carry a partition table, two OTA application slots with their
selection data, and the configuration store holding network and messaging
credentials.`,
	Version:      version.Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Silent unless DEVBOOT_LOG_LEVEL or --log-level asks for more
		level := logLevel
		if level == "" {
			level = "error"
		}
		return logging.Initialize(level)
	},
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
		fmt.Printf("devboot-flash %s\n", version.Full())
	},
}
