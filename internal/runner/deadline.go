package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Deadline is a one-way cancellation signal shared by every worker. It trips
// when the time budget elapses, when the parent context is cancelled, or when
// Trip is called, whichever happens first. Once tripped it stays tripped.
type Deadline struct {
	tripped atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	timer      *time.Timer
	stopParent func() bool
}

// NewDeadline arms a deadline that trips after budget. A budget of zero or
// less trips immediately. The returned deadline's context keeps parent's
// values but is only cancelled by the deadline itself.
func NewDeadline(parent context.Context, budget time.Duration) *Deadline {
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	d := &Deadline{ctx: ctx, cancel: cancel}

	if budget <= 0 {
		d.Trip()
		return d
	}

	d.mu.Lock()
	d.timer = time.AfterFunc(budget, func() { d.Trip() })
	d.stopParent = context.AfterFunc(parent, func() { d.Trip() })
	d.mu.Unlock()

	return d
}

// Trip fires the signal. It reports whether this call performed the
// transition; every later call is a no-op that returns false.
func (d *Deadline) Trip() bool {
	if !d.tripped.CompareAndSwap(false, true) {
		return false
	}
	d.cancel()

	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	if d.stopParent != nil {
		d.stopParent()
	}
	d.mu.Unlock()
	return true
}

// Tripped reports whether the signal has fired. It never blocks.
func (d *Deadline) Tripped() bool {
	return d.tripped.Load()
}

// Done is closed once the deadline trips.
func (d *Deadline) Done() <-chan struct{} {
	return d.ctx.Done()
}

// Context is cancelled once the deadline trips.
func (d *Deadline) Context() context.Context {
	return d.ctx
}
