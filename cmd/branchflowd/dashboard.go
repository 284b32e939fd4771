package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/handleui/branchflow/internal/metrics"
)

var (
	dashboardAddr  string
	dashboardWatch bool
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Print the scheduler's dashboard snapshot (optionally tailing it)",
	RunE:  runDashboard,
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardAddr, "addr", "http://localhost:8080", "branchflowd base URL")
	dashboardCmd.Flags().BoolVar(&dashboardWatch, "watch", false, "keep polling every second instead of printing once")
}

func runDashboard(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	color := isatty.IsTerminal(os.Stdout.Fd())

	for {
		snap, err := fetchSnapshot(cmd.Context())
		if err != nil {
			return err
		}
		printSnapshot(snap, color)

		if !dashboardWatch {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

func fetchSnapshot(ctx context.Context) (metrics.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dashboardAddr+"/api/metrics/dashboard", nil)
	if err != nil {
		return metrics.Snapshot{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return metrics.Snapshot{}, fmt.Errorf("dashboard: %w", err)
	}
	defer resp.Body.Close()

	var snap metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return metrics.Snapshot{}, fmt.Errorf("dashboard: decoding response: %w", err)
	}
	return snap, nil
}

func printSnapshot(s metrics.Snapshot, color bool) {
	health := s.SystemHealth
	if color && health == "unhealthy" {
		health = "\033[31m" + health + "\033[0m"
	}
	fmt.Printf("workers=%d queue_depth=%d active_users=%d/%d latency=%.1fmin health=%s\n",
		s.ActiveWorkers, s.QueueDepth, s.ActiveUsers, s.MaxActiveUsers,
		s.JobLatencyMinutes, health)
}
