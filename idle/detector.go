// Package idle tracks foreground user activity against a timeout and reports
// idle/active transitions.
//
// A Detector owns a single rearmable timer. MarkActive restarts it; expiry
// flips the detector to idle. Moving to the background forces idle at once
// because no interaction can arrive while the app is not visible. State is
// ephemeral and starts over with every process.
package idle

import (
	"sync"
	"time"

	"github.com/MrEthical07/applock/internal/clock"
	"github.com/MrEthical07/applock/lifecycle"
	"go.uber.org/zap"
)

// DefaultTimeout matches the reference mobile configuration.
const DefaultTimeout = 10 * time.Second

// Listener receives the new idle flag after every transition.
type Listener func(idle bool)

// Detector is safe for concurrent use. Listeners run on the goroutine that
// caused the transition (a timer goroutine for expiries) and never under the
// detector's lock.
type Detector struct {
	mu      sync.Mutex
	clock   clock.Clock
	log     *zap.Logger
	timeout time.Duration

	timer   clock.Timer
	gen     uint64
	idle    bool
	started bool
	stopped bool

	nextID    uint64
	listeners map[uint64]Listener
}

// Option customises a Detector.
type Option func(*Detector)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(d *Detector) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithLogger attaches a zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.log = l
		}
	}
}

// New creates a stopped Detector. A non-positive timeout falls back to
// DefaultTimeout.
func New(timeout time.Duration, opts ...Option) *Detector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &Detector{
		clock:     clock.Real(),
		log:       zap.NewNop(),
		timeout:   timeout,
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Timeout returns the configured idle timeout.
func (d *Detector) Timeout() time.Duration {
	return d.timeout
}

// Start arms the timer. Calling Start more than once is a no-op.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	d.rearmLocked()
}

// Stop cancels the timer and detaches all listeners.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	d.cancelLocked()
	d.listeners = make(map[uint64]Listener)
}

// IsIdle reports the current idle flag.
func (d *Detector) IsIdle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idle
}

// Subscribe registers l and returns a function that removes it.
func (d *Detector) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.listeners[id] = l
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

// MarkActive restarts the timer and, when the detector was idle, flips it
// back to active and notifies listeners.
func (d *Detector) MarkActive() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.started = true
	wasIdle := d.idle
	d.idle = false
	d.rearmLocked()
	var notify []Listener
	if wasIdle {
		notify = d.snapshotLocked()
	}
	d.mu.Unlock()

	if wasIdle {
		d.log.Debug("idle detector active")
		emit(notify, false)
	}
}

// HandleLifecycle reacts to foreground/background transitions. Background
// forces idle and cancels the timer; active behaves like MarkActive.
// Inactive is ignored here.
func (d *Detector) HandleLifecycle(state lifecycle.State) {
	switch state {
	case lifecycle.Background:
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return
		}
		d.cancelLocked()
		notify := d.flipIdleLocked()
		d.mu.Unlock()
		if notify != nil {
			d.log.Debug("idle detector forced idle", zap.String("lifecycle", string(state)))
			emit(notify, true)
		}
	case lifecycle.Active:
		d.MarkActive()
	}
}

func (d *Detector) rearmLocked() {
	d.cancelLocked()
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.timeout, func() { d.expire(gen) })
}

func (d *Detector) cancelLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Detector) expire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	notify := d.flipIdleLocked()
	d.mu.Unlock()

	if notify != nil {
		d.log.Debug("idle detector timed out", zap.Duration("timeout", d.timeout))
		emit(notify, true)
	}
}

// flipIdleLocked sets idle and returns the listeners to notify, or nil when
// the detector was already idle.
func (d *Detector) flipIdleLocked() []Listener {
	if d.idle {
		return nil
	}
	d.idle = true
	return d.snapshotLocked()
}

func (d *Detector) snapshotLocked() []Listener {
	out := make([]Listener, 0, len(d.listeners))
	for _, l := range d.listeners {
		out = append(out, l)
	}
	return out
}

func emit(listeners []Listener, idle bool) {
	for _, l := range listeners {
		l(idle)
	}
}
