// Package debounce coalesces bursts of events into one call after a quiet
// period.
package debounce

import (
	"sync"
	"time"
)

// Debouncer runs fn once the quiet period has elapsed since the last
// Trigger. Each Trigger resets the timer.
type Debouncer struct {
	quiet time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending bool
	stopped bool
}

func New(quiet time.Duration, fn func()) *Debouncer {
	return &Debouncer{quiet: quiet, fn: fn}
}

// Trigger (re)arms the timer. It does nothing after Stop.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	// A timer that already fired may still be waiting on mu; gen retires it.
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.quiet, func() { d.fire(gen) })
}

// Flush runs fn now if a call is pending.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	run := d.pending && !d.stopped
	d.pending = false
	d.mu.Unlock()

	if run {
		d.fn()
	}
}

// Pending reports whether a call is armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop cancels any pending call. The debouncer cannot be reused.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	run := d.pending && !d.stopped
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	if run {
		d.fn()
	}
}
