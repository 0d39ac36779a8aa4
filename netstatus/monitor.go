package netstatus

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/applock/internal/clock"
	"go.uber.org/zap"
)

// Reachability is the tri-state internet reachability reported by a probe.
type Reachability int8

const (
	ReachUnknown Reachability = iota
	Reachable
	Unreachable
)

func (r Reachability) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// State is one connectivity observation.
type State struct {
	Connected    bool
	Reachability Reachability
}

// Online reports connected with reachability not known to be false.
func (s State) Online() bool {
	return s.Connected && s.Reachability != Unreachable
}

// Prober reads the current connectivity state.
type Prober interface {
	Probe(ctx context.Context) (State, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) (State, error)

func (f ProberFunc) Probe(ctx context.Context) (State, error) { return f(ctx) }

// OnlineSetter receives every committed value.
type OnlineSetter interface {
	SetOnline(online bool)
}

// Config controls polling and debouncing.
type Config struct {
	// PollInterval between probes. Zero disables polling; pushed events
	// via Observe still apply.
	PollInterval time.Duration
	// SettleWindow an online observation must survive before it is committed.
	SettleWindow time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
}

// DefaultConfig returns a 5s poll, 1.2s settle window and 3s probe timeout.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		SettleWindow: 1200 * time.Millisecond,
		ProbeTimeout: 3 * time.Second,
	}
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger attaches a zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithSetter registers an OnlineSetter.
func WithSetter(s OnlineSetter) Option {
	return func(m *Monitor) {
		if s != nil {
			m.setters = append(m.setters, s)
		}
	}
}

// Monitor is safe for concurrent use. The committed flag starts as online.
type Monitor struct {
	mu      sync.Mutex
	cfg     Config
	prober  Prober
	clock   clock.Clock
	log     *zap.Logger
	setters []OnlineSetter

	offline   bool
	commitSeq uint64

	settle    clock.Timer
	settleGen uint64

	poll    clock.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool

	notifyMu    sync.Mutex
	notifiedSeq uint64
	nextID      uint64
	listeners   map[uint64]func(offline bool)
}

// NewMonitor creates a stopped Monitor. prober may be nil when all
// observations are pushed through Observe.
func NewMonitor(prober Prober, cfg Config, opts ...Option) *Monitor {
	if cfg.SettleWindow < 0 {
		cfg.SettleWindow = 0
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	m := &Monitor{
		cfg:       cfg,
		prober:    prober,
		clock:     clock.Real(),
		log:       zap.NewNop(),
		listeners: make(map[uint64]func(bool)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start schedules an immediate probe followed by periodic polling. Calling
// Start twice, or after Stop, is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	if m.prober != nil {
		m.poll = m.clock.AfterFunc(0, m.pollOnce)
	}
}

// Stop cancels polling, any pending online commit and in-flight probes.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	if m.poll != nil {
		m.poll.Stop()
		m.poll = nil
	}
	m.cancelSettleLocked()
	if m.cancel != nil {
		m.cancel()
	}
	m.listeners = make(map[uint64]func(bool))
}

// IsOffline reports the committed flag.
func (m *Monitor) IsOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offline
}

// Subscribe registers fn for committed changes and returns its remover.
func (m *Monitor) Subscribe(fn func(offline bool)) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Observe applies a pushed connectivity event.
func (m *Monitor) Observe(s State) {
	m.apply(s.Online(), "event")
}

// Check probes once, outside the polling schedule.
func (m *Monitor) Check(ctx context.Context) {
	if m.prober == nil {
		return
	}
	m.probe(ctx)
}

func (m *Monitor) pollOnce() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	m.mu.Unlock()

	m.probe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.cfg.PollInterval <= 0 {
		m.poll = nil
		return
	}
	m.poll = m.clock.AfterFunc(m.cfg.PollInterval, m.pollOnce)
}

func (m *Monitor) probe(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	s, err := m.prober.Probe(pctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// A failing probe says nothing about the link; assume online.
		m.log.Debug("connectivity probe failed", zap.Error(err))
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		m.cancelSettleLocked()
		changed := m.commitLocked(false)
		m.mu.Unlock()
		if changed {
			m.notify()
		}
		return
	}
	m.apply(s.Online(), "probe")
}

func (m *Monitor) apply(online bool, source string) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	if !online {
		// An offline observation always voids a pending online commit,
		// even when the committed state is already offline.
		m.cancelSettleLocked()
		changed := m.commitLocked(true)
		m.mu.Unlock()
		if changed {
			m.log.Info("network offline", zap.String("source", source))
			m.notify()
		}
		return
	}
	if !m.offline {
		m.mu.Unlock()
		return
	}

	m.cancelSettleLocked()
	gen := m.settleGen
	m.settle = m.clock.AfterFunc(m.cfg.SettleWindow, func() { m.settleOnline(gen) })
	m.mu.Unlock()
}

func (m *Monitor) settleOnline(gen uint64) {
	m.mu.Lock()
	if m.stopped || gen != m.settleGen {
		m.mu.Unlock()
		return
	}
	m.settle = nil
	changed := m.commitLocked(false)
	m.mu.Unlock()
	if changed {
		m.log.Info("network online")
		m.notify()
	}
}

func (m *Monitor) cancelSettleLocked() {
	m.settleGen++
	if m.settle != nil {
		m.settle.Stop()
		m.settle = nil
	}
}

func (m *Monitor) commitLocked(offline bool) bool {
	if m.offline == offline {
		return false
	}
	m.offline = offline
	m.commitSeq++
	return true
}

// notify forwards the latest committed value. Concurrent commits collapse
// into a single delivery of the newest value.
func (m *Monitor) notify() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.commitSeq == m.notifiedSeq {
		m.mu.Unlock()
		return
	}
	m.notifiedSeq = m.commitSeq
	offline := m.offline
	setters := append([]OnlineSetter(nil), m.setters...)
	listeners := make([]func(bool), 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, s := range setters {
		s.SetOnline(!offline)
	}
	for _, l := range listeners {
		l(offline)
	}
}
