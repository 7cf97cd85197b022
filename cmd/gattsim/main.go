package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gattsim",
	Short: "Scripted Bluetooth Low Energy peripheral simulator",
	Long: `Simulates a Bluetooth Low Energy (BLE) peripheral from a declarative profile:

- Advertise the services and characteristics described by a JSON or YAML profile
- Back characteristics with Lua presets that answer reads, writes and notifications
- Manage and test presets without a radio
- Check a profile and see how each characteristic will behave

Ideal for app development against devices you do not have at hand.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("gattsim {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(advertiseCmd)
	rootCmd.AddCommand(presetCmd)
	rootCmd.AddCommand(profileCmd)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/gattsim/config.yaml)")
	rootCmd.PersistentFlags().String("presets-dir", "", "Directory holding preset files (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output (same as --log-level debug)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
