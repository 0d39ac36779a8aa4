package netstatus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/applock/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSetter struct {
	mu     sync.Mutex
	values []bool
}

func (r *recordingSetter) SetOnline(online bool) {
	r.mu.Lock()
	r.values = append(r.values, online)
	r.mu.Unlock()
}

func (r *recordingSetter) all() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.values...)
}

type scriptedProber struct {
	mu     sync.Mutex
	states []State
	errs   []error
	calls  int
}

func (p *scriptedProber) Probe(context.Context) (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return State{}, p.errs[i]
	}
	if i < len(p.states) {
		return p.states[i], nil
	}
	return State{Connected: true, Reachability: Reachable}, nil
}

var (
	online  = State{Connected: true, Reachability: Reachable}
	unknown = State{Connected: true, Reachability: ReachUnknown}
	offline = State{Connected: false}
)

func newTestMonitor(p Prober, opts ...Option) (*Monitor, *clock.Fake, *recordingSetter) {
	fc := clock.NewFake(time.Unix(0, 0))
	rec := &recordingSetter{}
	opts = append([]Option{WithClock(fc), WithSetter(rec)}, opts...)
	return NewMonitor(p, DefaultConfig(), opts...), fc, rec
}

func TestStateOnline(t *testing.T) {
	assert.True(t, online.Online())
	assert.True(t, unknown.Online(), "unknown reachability counts as reachable")
	assert.False(t, offline.Online())
	assert.False(t, State{Connected: true, Reachability: Unreachable}.Online())
	assert.False(t, State{Connected: false, Reachability: Reachable}.Online())
}

func TestOfflineCommitsImmediately(t *testing.T) {
	m, _, rec := newTestMonitor(nil)
	m.Observe(offline)
	require.True(t, m.IsOffline())
	require.Equal(t, []bool{false}, rec.all())
}

func TestOnlineCommitsAfterSettleWindow(t *testing.T) {
	m, fc, rec := newTestMonitor(nil)
	m.Observe(offline)
	m.Observe(online)

	fc.Advance(1199 * time.Millisecond)
	require.True(t, m.IsOffline(), "online must not commit before the window")

	fc.Advance(time.Millisecond)
	require.False(t, m.IsOffline())
	require.Equal(t, []bool{false, true}, rec.all())
}

func TestOfflineCancelsPendingOnline(t *testing.T) {
	m, fc, rec := newTestMonitor(nil)
	m.Observe(offline)
	m.Observe(online)
	fc.Advance(600 * time.Millisecond)
	m.Observe(offline)
	fc.Advance(5 * time.Second)

	require.True(t, m.IsOffline())
	require.Equal(t, []bool{false}, rec.all())
	require.Zero(t, fc.Pending())
}

func TestOfflineInsideSettleWindowKeepsOffline(t *testing.T) {
	m, fc, rec := newTestMonitor(nil)
	m.Observe(offline)
	m.Observe(online)
	fc.Advance(600 * time.Millisecond)
	m.Observe(offline)
	fc.Advance(700 * time.Millisecond)

	assert.True(t, m.IsOffline(), "stale online commit fired after an offline observation")
	assert.Equal(t, []bool{false}, rec.all())
	assert.Zero(t, fc.Pending())

	m.Observe(online)
	fc.Advance(1200 * time.Millisecond)
	require.False(t, m.IsOffline())
	require.Equal(t, []bool{false, true}, rec.all())
}

func TestRepeatedOnlineRestartsWindow(t *testing.T) {
	m, fc, _ := newTestMonitor(nil)
	m.Observe(offline)
	m.Observe(online)
	fc.Advance(time.Second)
	m.Observe(online)
	fc.Advance(time.Second)
	require.True(t, m.IsOffline())
	fc.Advance(200 * time.Millisecond)
	require.False(t, m.IsOffline())
}

func TestSameStateIsIgnored(t *testing.T) {
	m, _, rec := newTestMonitor(nil)
	m.Observe(online)
	m.Observe(unknown)
	require.False(t, m.IsOffline())
	require.Empty(t, rec.all())
}

func TestPollingProbesOnSchedule(t *testing.T) {
	p := &scriptedProber{states: []State{online, offline, offline, online}}
	m, fc, _ := newTestMonitor(p)
	m.Start(context.Background())
	defer m.Stop()

	fc.Advance(0)
	require.False(t, m.IsOffline())

	fc.Advance(5 * time.Second)
	require.True(t, m.IsOffline())

	fc.Advance(5 * time.Second)
	fc.Advance(5 * time.Second)
	require.True(t, m.IsOffline(), "settle window still running")
	fc.Advance(1200 * time.Millisecond)
	require.False(t, m.IsOffline())
	require.Equal(t, 4, p.calls)
}

func TestProbeErrorCommitsOnline(t *testing.T) {
	p := &scriptedProber{errs: []error{nil, errors.New("radio api failed")}, states: []State{offline}}
	m, fc, rec := newTestMonitor(p)
	m.Start(context.Background())
	defer m.Stop()

	fc.Advance(0)
	require.True(t, m.IsOffline())

	fc.Advance(5 * time.Second)
	require.False(t, m.IsOffline(), "probe errors commit online without settling")
	require.Equal(t, []bool{false, true}, rec.all())
}

func TestStopHaltsPollingAndPendingCommit(t *testing.T) {
	p := &scriptedProber{states: []State{offline, online}}
	m, fc, _ := newTestMonitor(p)
	m.Start(context.Background())
	fc.Advance(0)
	fc.Advance(5 * time.Second)
	m.Stop()
	fc.Advance(time.Minute)

	require.True(t, m.IsOffline())
	require.Equal(t, 2, p.calls)
	m.Observe(online)
	require.Zero(t, fc.Pending())
}

func TestSubscribeReceivesCommittedChanges(t *testing.T) {
	m, fc, _ := newTestMonitor(nil)
	var got []bool
	unsubscribe := m.Subscribe(func(off bool) { got = append(got, off) })
	m.Observe(offline)
	m.Observe(online)
	fc.Advance(2 * time.Second)
	unsubscribe()
	m.Observe(offline)
	require.Equal(t, []bool{true, false}, got)
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	p := &HTTPProber{URL: srv.URL}

	s, err := p.Probe(context.Background())
	require.NoError(t, err)
	require.True(t, s.Online(), "any response proves reachability")

	srv.Close()
	s, err = p.Probe(context.Background())
	require.NoError(t, err)
	require.False(t, s.Online())

	_, err = (&HTTPProber{}).Probe(context.Background())
	require.Error(t, err)
}
