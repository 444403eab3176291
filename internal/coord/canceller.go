package coord

import (
	"context"
	"sync"
)

// Handle is one cancellable request scope issued by a Canceller.
type Handle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Context is what the caller hands to the transport.
func (h *Handle) Context() context.Context { return h.ctx }

// Done is closed once the handle is cancelled or finished.
func (h *Handle) Done() <-chan struct{} { return h.ctx.Done() }

// Cancelled reports whether the handle was superseded, cancelled, or its parent ended.
func (h *Handle) Cancelled() bool { return h.ctx.Err() != nil }

// Canceller keeps at most one active handle. Beginning a new request aborts
// the previous one instead of merely ignoring its result.
type Canceller struct {
	mu     sync.Mutex
	active *Handle
}

// NewCanceller returns a canceller with no active handle.
func NewCanceller() *Canceller { return &Canceller{} }

// Begin cancels the current handle, if any, and returns a fresh one derived from parent.
func (c *Canceller) Begin(parent context.Context) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{ctx: ctx, cancel: cancel}

	c.mu.Lock()
	prev := c.active
	c.active = h
	c.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return h
}

// Finish releases h once its request settled. It is a no-op when h was
// already superseded.
func (c *Canceller) Finish(h *Handle) {
	c.mu.Lock()
	if c.active == h {
		c.active = nil
	}
	c.mu.Unlock()
	h.cancel()
}

// IsActive reports whether h is the handle currently in flight.
func (c *Canceller) IsActive(h *Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == h && !h.Cancelled()
}

// CancelAll aborts the active handle without starting a replacement.
func (c *Canceller) CancelAll() {
	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
}
