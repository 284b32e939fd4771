package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/handleui/branchflow/internal/api"
	"github.com/handleui/branchflow/internal/config"
	"github.com/handleui/branchflow/internal/engine"
	"github.com/handleui/branchflow/internal/events"
	"github.com/handleui/branchflow/internal/executor/imagesim"
	"github.com/handleui/branchflow/internal/metrics"
	"github.com/handleui/branchflow/internal/model"
	"github.com/handleui/branchflow/internal/procguard"
	transporthttp "github.com/handleui/branchflow/internal/transport/http"
	"github.com/handleui/branchflow/internal/workerpool"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon and HTTP transport",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	guard, err := procguard.Acquire(lockPath())
	if err != nil {
		return err
	}
	defer guard.Release()

	dispatch := workerpool.Dispatch{
		model.JobTypeCellSegmentation: imagesim.CellSegmentation{},
		model.JobTypeTissueMask:       imagesim.TissueMask{},
	}

	eng := engine.New(engine.Config{
		MaxWorkers:     cfg.MaxWorkers,
		MaxActiveUsers: cfg.MaxActiveUsers,
		MailboxSize:    cfg.EventMailboxSize,
	}, dispatch)

	mv := metrics.New(eng.Registry(), eng.Admission(), eng.Queues(), cfg.LatencyWindow, cfg.MaxWorkers)
	eng.SetLatencyHook(mv.RecordLatency)

	svc := api.New(eng, cfg)

	subscribe := func(tenantID string) transporthttp.Subscription {
		return &subscriptionAdapter{sub: eng.Events().Subscribe(tenantID)}
	}
	server := transporthttp.New(svc, mv, subscribe)

	ctx := cmd.Context()
	engDone := make(chan struct{})
	go func() { eng.Run(ctx); close(engDone) }()

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server}
	banner(cfg)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		slog.Info("shutting down", "addr", cfg.ListenAddr)
		_ = httpServer.Shutdown(context.Background())
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	<-engDone
	return nil
}

func lockPath() string {
	return filepath.Join(os.TempDir(), "branchflowd.lock")
}

func banner(cfg *config.Config) {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("branchflowd %s listening on %s (max_workers=%d max_active_users=%d)\n",
			Version, cfg.ListenAddr, cfg.MaxWorkers, cfg.MaxActiveUsers)
	}
	slog.Info("branchflowd starting", "version", Version, "addr", cfg.ListenAddr,
		"max_workers", cfg.MaxWorkers, "max_active_users", cfg.MaxActiveUsers)
}

// subscriptionAdapter bridges events.Subscription to the narrow
// transporthttp.Subscription interface, converting []events.Event to []any
// so the transport package need not import internal/events.
type subscriptionAdapter struct {
	sub *events.Subscription
}

func (a *subscriptionAdapter) Notify() <-chan struct{} { return a.sub.Notify() }

func (a *subscriptionAdapter) Drain() []any {
	evs := a.sub.Drain()
	out := make([]any, len(evs))
	for i, e := range evs {
		out[i] = e
	}
	return out
}

func (a *subscriptionAdapter) Close() { a.sub.Close() }
