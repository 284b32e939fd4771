// Package signal provides branchflowd's graceful-shutdown context, closed
// on SIGINT/SIGTERM.
//
// Adapted verbatim in shape from apps/cli/internal/signal/handler.go; the
// CLI's cancellation banner is replaced with a structured log line since
// branchflowd is a daemon, not an interactive terminal tool.
package signal

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler returns a context that is cancelled on SIGINT or
// SIGTERM, or when parent is cancelled.
func SetupSignalHandler(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig.String())
			cancel()
		case <-parent.Done():
		}
		signal.Stop(sigChan)
		close(sigChan)
	}()

	return ctx
}
