// Package obs wires structured logging and crash/invariant reporting for
// branchflowd. It is ambient infrastructure, not a spec.md module: every
// component logs through slog, and unexpected internal states (an engine
// invariant that should be impossible, e.g. a P1-P4 violation found by the
// engine's self-test after a mutation) are reported to Sentry if configured,
// exactly as the teacher reports unexpected CLI failures.
//
// Grounded on apps/cli/internal/sentry/sentry.go: same SENTRY_DSN-gated
// no-op-if-unset Init, same CaptureError/RecoverAndPanic shape, extended
// with a slog.Logger since a long-running daemon needs structured request
// logs the teacher's one-shot CLI does not.
package obs

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

const flushTimeout = 2 * time.Second

// Init configures process-wide logging and error reporting. version is
// reported as the Sentry release. Returns a cleanup function to defer from
// main.
func Init(version string) (*slog.Logger, func()) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	dsn := os.Getenv("SENTRY_DSN")
	if dsn == "" {
		return logger, func() {}
	}

	env := os.Getenv("SENTRY_ENVIRONMENT")
	if env == "" {
		env = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "branchflowd@" + version,
		Environment:      env,
		AttachStacktrace: true,
		SampleRate:       1.0,
	})
	if err != nil {
		logger.Warn("sentry init failed, continuing without crash reporting", "error", err)
		return logger, func() {}
	}

	return logger, func() { sentry.Flush(flushTimeout) }
}

// CaptureError reports an error that should never happen in normal
// operation (an invariant violation, not an expected validation failure).
// Safe to call even if Sentry is not configured.
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	slog.ErrorContext(ctx, "invariant violation", "error", err)
	sentry.CaptureException(err)
}

// RecoverAndReport recovers a panic, reports it, and logs it. Intended to
// be deferred at goroutine entry points that must never crash the process
// (HTTP handlers, the engine loop).
func RecoverAndReport(ctx context.Context) {
	if r := recover(); r != nil {
		slog.ErrorContext(ctx, "recovered panic", "panic", r)
		sentry.CurrentHub().Recover(r)
		sentry.Flush(flushTimeout)
	}
}
