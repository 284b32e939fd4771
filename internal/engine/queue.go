package engine

import "sync"

// inbox is an unbounded FIFO of commands feeding the Scheduler Loop. The
// spec places no bound on how many submit/cancel/worker-event commands may
// be outstanding at once (spec.md §4.7), which a native Go channel cannot
// express without either blocking producers or pre-sizing a buffer; this
// pairs a plain slice with a condition variable instead, the same shape the
// teacher's queue-backed CLI work uses (apps/cli/internal/runner), adapted
// from a bounded channel to an unbounded mutex-guarded slice.
type inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []any
	closed bool
}

func newInbox() *inbox {
	in := &inbox{}
	in.cond = sync.NewCond(&in.mu)
	return in
}

// push appends cmd and wakes one waiting receiver.
func (in *inbox) push(cmd any) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	in.items = append(in.items, cmd)
	in.cond.Signal()
}

// pop blocks until a command is available or the inbox is closed, in which
// case it returns (nil, false).
func (in *inbox) pop() (any, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for len(in.items) == 0 && !in.closed {
		in.cond.Wait()
	}
	if len(in.items) == 0 && in.closed {
		return nil, false
	}
	cmd := in.items[0]
	in.items = in.items[1:]
	return cmd, true
}

// close unblocks any pending pop and causes future pops to return false once
// drained.
func (in *inbox) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	in.cond.Broadcast()
}
