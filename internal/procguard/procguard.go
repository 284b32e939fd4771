// Package procguard prevents two branchflowd instances from racing on the
// same listen address in local/dev runs via a PID lockfile.
//
// Grounded on the teacher's worktree lock acquisition
// (apps/cli/internal/git/worktree.go: tryLockWithRetry / unlockWithLogging),
// adapted from "one lock per git worktree" to one lock per daemon process,
// with the same retry-on-transient-error, fail-on-ErrBusy shape.
package procguard

import (
	"fmt"
	"time"

	"github.com/nightlyone/lockfile"
)

const (
	retryAttempts = 3
	retryDelay    = 100 * time.Millisecond
)

// Guard holds an acquired process lock; call Release when done.
type Guard struct {
	lock lockfile.Lockfile
}

// Acquire takes an exclusive lock at path, retrying transient errors but
// failing immediately if another process already holds it.
func Acquire(path string) (*Guard, error) {
	lock, err := lockfile.New(path)
	if err != nil {
		return nil, fmt.Errorf("procguard: creating lockfile: %w", err)
	}

	var lastErr error
	for i := 0; i < retryAttempts; i++ {
		lastErr = lock.TryLock()
		if lastErr == nil {
			return &Guard{lock: lock}, nil
		}
		if lastErr == lockfile.ErrBusy {
			return nil, fmt.Errorf("procguard: another branchflowd instance is already running (%s)", path)
		}
		if te, ok := lastErr.(interface{ Temporary() bool }); ok && te.Temporary() {
			time.Sleep(retryDelay)
			continue
		}
		return nil, fmt.Errorf("procguard: acquiring lock: %w", lastErr)
	}
	return nil, fmt.Errorf("procguard: acquiring lock after retries: %w", lastErr)
}

// Release unlocks the guard. Safe to call once; errors are returned rather
// than logged so the caller (which has a real logger) can decide severity.
func (g *Guard) Release() error {
	if g == nil {
		return nil
	}
	if err := g.lock.Unlock(); err != nil {
		return fmt.Errorf("procguard: releasing lock: %w", err)
	}
	return nil
}
