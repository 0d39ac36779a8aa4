package applock

import (
	"context"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/applock/internal/clock"
	"go.uber.org/zap"
)

// auditDispatcher hands events to the sink on its own goroutine so that a
// slow sink never stalls a state transition.
type auditDispatcher struct {
	dropIfFull bool
	sink       AuditSink
	clock      clock.Clock
	log        *zap.Logger

	queue   chan AuditEvent
	stop    chan struct{}
	worker  sync.WaitGroup
	dropped atomic.Uint64
	closed  atomic.Bool
	once    sync.Once
}

// newAuditDispatcher returns nil when auditing is disabled; every method
// accepts a nil receiver.
func newAuditDispatcher(cfg AuditConfig, sink AuditSink, clk clock.Clock, log *zap.Logger) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}

	d := &auditDispatcher{
		dropIfFull: cfg.DropIfFull,
		sink:       sink,
		clock:      clk,
		log:        log,
		queue:      make(chan AuditEvent, size),
		stop:       make(chan struct{}),
	}
	d.worker.Add(1)
	go d.loop()
	return d
}

func (d *auditDispatcher) loop() {
	defer d.worker.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *auditDispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *auditDispatcher) deliver(ev AuditEvent) {
	d.sink.Emit(context.Background(), ev)
}

// Emit stamps and queues ev. With dropIfFull a full queue drops the event;
// otherwise Emit waits for room, for ctx, or for Close.
func (d *auditDispatcher) Emit(ctx context.Context, ev AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.clock.Now()
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.noteDrop(ev.EventType)
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.noteDrop(ev.EventType)
	case <-d.stop:
	}
}

// noteDrop counts a lost event and logs on the 1st, 2nd, 4th, 8th... drop.
func (d *auditDispatcher) noteDrop(eventType string) {
	n := d.dropped.Add(1)
	if bits.OnesCount64(n) == 1 {
		d.log.Warn("audit events dropped", zap.Uint64("dropped", n), zap.String("last_event", eventType))
	}
}

// Close flushes queued events and stops the worker. Safe to call twice.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.worker.Wait()
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
