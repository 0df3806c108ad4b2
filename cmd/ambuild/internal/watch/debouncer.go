// Package watch rebuilds a configured build folder whenever the sources it
// was configured from change.
package watch

import (
	"sync"
	"time"

	"github.com/albertocavalcante/ambuild/pkg/util"
)

// MaxPending bounds the number of distinct paths held before a flush is
// forced, so a burst of generated files cannot grow the set without limit.
const MaxPending = 1000

// Debouncer collects changed paths and hands them over as one sorted batch once no
// new change arrived for a full window. Editors and formatters often write a
// file several times in a row; those writes become a single rebuild.
type Debouncer struct {
	mu      sync.Mutex
	pending util.Set[string]
	timer   *time.Timer
	window  time.Duration
	onFlush func(paths []string)
	stopped bool
}

// NewDebouncer returns a debouncer calling onFlush with each batch.
func NewDebouncer(window time.Duration, onFlush func(paths []string)) *Debouncer {
	return &Debouncer{
		pending: util.Set[string]{},
		window:  window,
		onFlush: onFlush,
	}
}

// Add records a changed path and restarts the window.
func (d *Debouncer) Add(path string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending.Add(path)

	if len(d.pending) >= MaxPending {
		d.stopTimerLocked()
		batch := d.takeLocked()
		d.mu.Unlock()
		d.deliver(batch)
		return
	}

	// A timer that already fired finds an empty or newer batch; both are fine.
	d.stopTimerLocked()
	d.timer = time.AfterFunc(d.window, d.FlushNow)
	d.mu.Unlock()
}

// FlushNow delivers the pending batch immediately.
func (d *Debouncer) FlushNow() {
	d.mu.Lock()
	d.stopTimerLocked()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	batch := d.takeLocked()
	d.mu.Unlock()
	d.deliver(batch)
}

// Stop delivers whatever is pending and ignores later changes.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.stopTimerLocked()
	batch := d.takeLocked()
	d.mu.Unlock()
	d.deliver(batch)
}

// PendingCount returns the number of paths waiting to be flushed.
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) takeLocked() []string {
	if len(d.pending) == 0 {
		return nil
	}
	batch := d.pending.Sorted()
	d.pending = util.Set[string]{}
	return batch
}

// deliver runs outside the lock so onFlush may call Add.
func (d *Debouncer) deliver(batch []string) {
	if len(batch) > 0 && d.onFlush != nil {
		d.onFlush(batch)
	}
}
