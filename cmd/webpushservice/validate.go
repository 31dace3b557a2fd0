package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	Long: `Load the YAML config, apply environment overrides and validate the
result without opening any connections.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	timeout := "none"
	if cfg.Broadcast.DeliveryTimeout > 0 {
		timeout = cfg.Broadcast.DeliveryTimeout.String()
	}
	concurrency := "unlimited"
	if cfg.Broadcast.MaxConcurrency > 0 {
		concurrency = fmt.Sprintf("%d", cfg.Broadcast.MaxConcurrency)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Listen:           %s\n", cfg.ListenAddr)
	fmt.Fprintf(out, "  Storage:          %s\n", cfg.StorageBackend)
	fmt.Fprintf(out, "  Redis cache:      %t\n", cfg.Redis.Enabled)
	fmt.Fprintf(out, "  Pub/Sub trigger:  %t\n", cfg.PipelineEnabled())
	fmt.Fprintf(out, "  Max concurrency:  %s\n", concurrency)
	fmt.Fprintf(out, "  Delivery timeout: %s\n", timeout)
	return nil
}
