package persistence

import (
	"context"
	"sync"
	"time"

	"nutrition-platform/backend/internal/onboarding/domain"
)

// writeTimeout bounds a single remote write started by the debouncer.
const writeTimeout = 5 * time.Second

// WriteFunc performs one remote write.
type WriteFunc func(ctx context.Context, p *domain.Progress) error

// Debouncer coalesces remote writes: snapshots scheduled within the delay window collapse into one
// write of the latest snapshot. Close drops the pending snapshot; it is the teardown hook.
//
// Writes are serialized and never go backwards: a snapshot scheduled before one that has already
// been written is dropped, so a timer-driven write racing Flush cannot land last.
type Debouncer struct {
	delay   time.Duration
	write   WriteFunc
	onError func(error)

	mu         sync.Mutex
	timer      *time.Timer
	pending    *domain.Progress
	pendingSeq uint64
	seq        uint64
	closed     bool
	inflight   sync.WaitGroup

	writeMu sync.Mutex
	written uint64
}

// NewDebouncer returns a Debouncer that calls write delay after the last Schedule.
// onError receives failures of timer-driven writes and may be nil.
func NewDebouncer(delay time.Duration, write WriteFunc, onError func(error)) *Debouncer {
	return &Debouncer{delay: delay, write: write, onError: onError}
}

// Schedule replaces the pending snapshot with a copy of p and restarts the delay window.
func (d *Debouncer) Schedule(p *domain.Progress) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.seq++
	d.pending, d.pendingSeq = p.Clone(), d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

// Pending reports whether a snapshot is waiting to be written.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	p, seq := d.pending, d.pendingSeq
	d.pending = nil
	d.timer = nil
	if p == nil || d.closed {
		d.mu.Unlock()
		return
	}
	d.inflight.Add(1)
	d.mu.Unlock()
	defer d.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := d.writeInOrder(ctx, p, seq); err != nil && d.onError != nil {
		d.onError(err)
	}
}

// writeInOrder writes p unless a later snapshot has already been written.
func (d *Debouncer) writeInOrder(ctx context.Context, p *domain.Progress, seq uint64) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if seq <= d.written {
		return nil
	}
	if err := d.write(ctx, p); err != nil {
		return err
	}
	d.written = seq
	return nil
}

// Flush writes the pending snapshot now, if any, and returns the write error. It waits for a
// timer-driven write already in progress.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	p, seq := d.pending, d.pendingSeq
	d.pending = nil
	if p == nil || d.closed {
		d.mu.Unlock()
		return nil
	}
	d.inflight.Add(1)
	d.mu.Unlock()
	defer d.inflight.Done()
	return d.writeInOrder(ctx, p, seq)
}

// WriteNow drops the pending snapshot and writes p immediately, after any write in progress.
func (d *Debouncer) WriteNow(ctx context.Context, p *domain.Progress) error {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.seq++
	seq, closed := d.seq, d.closed
	if !closed {
		d.inflight.Add(1)
	}
	d.mu.Unlock()
	if !closed {
		defer d.inflight.Done()
	}
	return d.writeInOrder(ctx, p.Clone(), seq)
}

// Close cancels any pending write, refuses further schedules and waits for an in-flight write to finish.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.closed = true
	d.mu.Unlock()
	d.inflight.Wait()
}
