package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/handleui/branchflow/internal/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate branchflow.yaml without starting the daemon",
	RunE:  runValidateConfig,
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Printf("config OK: max_workers=%d max_active_users=%d event_mailbox_size=%d latency_window=%s listen_addr=%s\n",
		cfg.MaxWorkers, cfg.MaxActiveUsers, cfg.EventMailboxSize, cfg.LatencyWindow, cfg.ListenAddr)
	return nil
}
