package obs

import (
	"context"
	"errors"
	"testing"
)

func TestInitWithoutDSNReturnsNoopCleanup(t *testing.T) {
	t.Setenv("SENTRY_DSN", "")

	logger, cleanup := Init("test")
	if logger == nil {
		t.Fatal("Init returned a nil logger")
	}
	cleanup() // must not panic when Sentry was never configured
}

func TestCaptureErrorIgnoresNil(t *testing.T) {
	// Must not panic even though Sentry is unconfigured in this test binary.
	CaptureError(context.Background(), nil)
}

func TestCaptureErrorLogsNonNil(t *testing.T) {
	CaptureError(context.Background(), errors.New("boom"))
}

func TestRecoverAndReportSwallowsPanic(t *testing.T) {
	func() {
		defer RecoverAndReport(context.Background())
		panic("should be recovered")
	}()
	// Reaching here means the panic did not propagate.
}
