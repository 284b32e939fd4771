// Package admission implements the Tenant Admission controller (C3,
// spec.md §4.3): it tracks the set of currently active tenants and enforces
// MAX_ACTIVE_USERS. A tenant already holding any PENDING or RUNNING job is
// always re-admitted for free; only a brand-new tenant can be rejected, and
// only when the set is already full.
//
// Grounded on the map-of-clients-behind-a-mutex shape the pack's
// rate-limiter exercise uses for per-tenant state
// (zJUNAIDz-vibe-learning-dump/go-concurrency/projects/rate-limiter), pared
// down to a plain set since admission here has no time-decay component.
package admission

import "sync"

// Decision is the outcome of a TryAdmit call.
type Decision int

const (
	Admitted Decision = iota
	Rejected
)

// Controller enforces MAX_ACTIVE_USERS across tenants.
type Controller struct {
	maxActiveUsers int

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a Controller allowing up to maxActiveUsers concurrently
// active tenants. maxActiveUsers <= 0 means unlimited.
func New(maxActiveUsers int) *Controller {
	return &Controller{
		maxActiveUsers: maxActiveUsers,
		active:         make(map[string]struct{}),
	}
}

// TryAdmit returns Admitted if tenantID is already active or there is room
// for a new tenant, Rejected otherwise. A successful call for an
// already-active tenant does not reserve an additional slot (spec.md §4.3).
func (c *Controller) TryAdmit(tenantID string) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[tenantID]; ok {
		return Admitted
	}
	if c.maxActiveUsers > 0 && len(c.active) >= c.maxActiveUsers {
		return Rejected
	}
	c.active[tenantID] = struct{}{}
	return Admitted
}

// Release removes tenantID from the active set. Callers must only invoke
// this once the tenant has no PENDING or RUNNING jobs remaining anywhere.
func (c *Controller) Release(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, tenantID)
}

// IsActive reports whether tenantID currently holds an admission slot.
func (c *Controller) IsActive(tenantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[tenantID]
	return ok
}

// ActiveCount returns the number of currently active tenants.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// MaxActiveUsers returns the configured cap (0 means unlimited).
func (c *Controller) MaxActiveUsers() int {
	return c.maxActiveUsers
}

// ActiveTenants returns a snapshot of currently active tenant IDs.
func (c *Controller) ActiveTenants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.active))
	for t := range c.active {
		out = append(out, t)
	}
	return out
}
