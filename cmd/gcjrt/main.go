package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"gcjrt/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "gcjrt",
	Short: "Object and thread runtime substrate for compiled Java",
	Long: `gcjrt exercises a managed object runtime: allocation over a collected
heap, monitors, thread sleep/join/interrupt and exception dispatch.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		mode, err := cmd.Root().PersistentFlags().GetString("color")
		if err != nil {
			return err
		}
		return applyColorMode(mode)
	},
}

// main registers subcommands and global flags, then runs the root command.
// A command error exits with status 1.
func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(scenarioCmd)
	rootCmd.AddCommand(stressCmd)
	rootCmd.AddCommand(heapCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("config", "", "path to gcjrt.toml (default: search upward from the working directory)")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("timings", false, "show timing information")
	rootCmd.PersistentFlags().String("trace", "", "trace output file (- for stderr)")
	rootCmd.PersistentFlags().String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	rootCmd.PersistentFlags().String("trace-mode", "ring", "trace storage (stream|ring|both)")
	rootCmd.PersistentFlags().String("trace-format", "auto", "trace format (auto|text|ndjson)")
	rootCmd.PersistentFlags().Int("trace-ring-size", 4096, "ring buffer capacity in events")
	rootCmd.PersistentFlags().Duration("trace-heartbeat", 0, "heartbeat interval (0 disables)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
