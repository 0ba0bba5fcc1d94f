// Package main is the entry point for the daxls language server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	flagConfig    string
	flagEngine    string
	flagEngineDir string
	flagModelPath string
	flagLogLevel  string
	flagLogFormat string
	flagDebugAddr string

	rootCmd = &cobra.Command{
		Use:   "daxls",
		Short: "Language server for DAX backed by an external analysis engine",
		Long: `daxls speaks the language server protocol on stdin and stdout and
delegates completions, hovers, signature help and diagnostics to a DAX
analysis engine running as a child process.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("daxls %s\n", version)
			fmt.Printf("Commit: %s\n", commit)
			fmt.Printf("Built: %s\n", date)
		},
	}
)

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "Path to configuration file")
	rootCmd.Flags().StringVar(&flagEngine, "engine", "", "Analysis engine command, arguments included (overrides config)")
	rootCmd.Flags().StringVar(&flagEngineDir, "engine-dir", "", "Working directory for the engine")
	rootCmd.Flags().StringVar(&flagModelPath, "model", "", "Semantic model JSON file to watch and push to the engine")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&flagLogFormat, "log-format", "", "Log format (text, json)")
	rootCmd.Flags().StringVar(&flagDebugAddr, "debug-addr", "", "Serve metrics and pprof on this address, e.g. localhost:6060")
	rootCmd.AddCommand(versionCmd)
}

// exitCode carries the session's exit status out of runServe, since a
// protocol-level failure is not a command error.
var exitCode int

func main() {
	os.Exit(execute())
}

func execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return exitCode
}
