package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/handleui/branchflow/internal/obs"
	"github.com/handleui/branchflow/internal/signal"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "branchflowd",
	Short:         "Branch-aware workflow scheduler daemon",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command with a signal-aware context and Sentry
// wired up for the duration of the process (apps/cli/cmd/root.go's
// Execute(); see obs.Init for the sentry.go grounding).
func Execute() error {
	_, flush := obs.Init(Version)
	defer flush()

	ctx := signal.SetupSignalHandler(context.Background())
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to branchflow.yaml (optional)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(dashboardCmd)
}
