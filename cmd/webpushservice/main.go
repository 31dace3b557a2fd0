// Package main is the entry point for the webpushservice binary.
//
// Usage:
//
//	webpushservice serve               # Run the HTTP API and Pub/Sub trigger
//	webpushservice validate            # Check the effective configuration
//	webpushservice vapid-keys          # Generate a VAPID key pair
//	webpushservice version             # Show version info
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time via ldflags, e.g. -X main.version=1.0.0
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "webpushservice",
	Short: "Web push subscription store and broadcast service",
	Long: `webpushservice stores browser push subscriptions and broadcasts a
notification to all of them over the Web Push protocol (VAPID).

Subscriptions whose endpoints the push service reports as gone (404/410)
are removed automatically during a broadcast.

Configuration comes from the embedded local.yaml (or --config) and is
overridden by environment variables such as PORT, STORAGE_BACKEND,
VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "webpushservice %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a YAML config file (defaults to the embedded local.yaml)")
	rootCmd.PersistentFlags().String("env-file", ".env", "optional dotenv file loaded before env overrides")
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger. LOG_LEVEL selects the level.
func newLogger() *slog.Logger {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-webpush-service")
}
