package applock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/applock/biometric"
	"github.com/MrEthical07/applock/credstore"
	"github.com/MrEthical07/applock/internal/clock"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeAuth struct {
	mu           sync.Mutex
	users        map[string]string
	profiles     map[string]Profile
	loginErr     error
	profileErr   error
	loginCalls   int
	profileCalls int

	// When set, calls block until the channel is closed.
	loginGate    chan struct{}
	loginEntered chan struct{}
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		users: map[string]string{
			"emilys":   "emilyspass",
			"michaelw": "michaelwpass",
		},
		profiles: map[string]Profile{
			"tok-emilys":   Profile(`{"id":1,"username":"emilys","firstName":"Emily"}`),
			"tok-michaelw": Profile(`{"id":2,"username":"michaelw","firstName":"Michael"}`),
		},
	}
}

func (a *fakeAuth) Login(ctx context.Context, username, password string) (LoginResult, error) {
	a.mu.Lock()
	a.loginCalls++
	gate, entered := a.loginGate, a.loginEntered
	a.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loginErr != nil {
		return LoginResult{}, a.loginErr
	}
	if want, ok := a.users[username]; !ok || want != password {
		return LoginResult{}, ErrUnauthorized
	}
	token := "tok-" + username
	return LoginResult{Token: token, Username: username, Profile: a.profiles[token]}, nil
}

func (a *fakeAuth) FetchProfile(ctx context.Context, token string) (Profile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.profileCalls++
	if a.profileErr != nil {
		return nil, a.profileErr
	}
	p, ok := a.profiles[token]
	if !ok {
		return nil, ErrUnauthorized
	}
	return p, nil
}

func (a *fakeAuth) calls() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loginCalls, a.profileCalls
}

type recordingNav struct {
	mu     sync.Mutex
	routes []Route
}

func (n *recordingNav) Navigate(r Route) {
	n.mu.Lock()
	n.routes = append(n.routes, r)
	n.mu.Unlock()
}

func (n *recordingNav) last() Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.routes) == 0 {
		return ""
	}
	return n.routes[len(n.routes)-1]
}

type countingCache struct {
	mu     sync.Mutex
	clears int
}

func (c *countingCache) Clear(context.Context) error {
	c.mu.Lock()
	c.clears++
	c.mu.Unlock()
	return nil
}

// gatedHardware holds Authenticate until release is closed.
type gatedHardware struct {
	*biometric.Scripted
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedHardware() *gatedHardware {
	return &gatedHardware{
		Scripted: biometric.NewScripted(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (g *gatedHardware) Authenticate(ctx context.Context, p biometric.Prompt) (biometric.Result, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return biometric.Result{}, ctx.Err()
	}
	return g.Scripted.Authenticate(ctx, p)
}

type harness struct {
	t     testing.TB
	ctrl  *Controller
	store *credstore.MemoryStore
	vault *credstore.Vault
	hw    biometric.Hardware
	bio   *biometric.Scripted
	auth  *fakeAuth
	nav   *recordingNav
	cache *countingCache
	clk   *clock.Fake
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Network.PollInterval = 0
	return cfg
}

type harnessOption func(*harness, *Builder)

func withHardware(hw biometric.Hardware, scripted *biometric.Scripted) harnessOption {
	return func(h *harness, b *Builder) {
		h.hw = hw
		h.bio = scripted
		b.WithBiometric(hw)
	}
}

func withConfig(cfg Config) harnessOption {
	return func(_ *harness, b *Builder) {
		b.WithConfig(cfg)
	}
}

func withAuditSink(sink AuditSink) harnessOption {
	return func(_ *harness, b *Builder) {
		b.WithAuditSink(sink)
	}
}

func newHarness(t testing.TB, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		t:     t,
		store: credstore.NewMemoryStore(),
		auth:  newFakeAuth(),
		nav:   &recordingNav{},
		cache: &countingCache{},
		clk:   clock.NewFake(testEpoch),
	}
	h.bio = biometric.NewScripted()
	h.hw = h.bio

	b := New().
		WithConfig(testConfig()).
		WithStore(h.store).
		WithAuthClient(h.auth).
		WithBiometric(h.hw).
		WithNavigator(h.nav).
		WithDataCache(h.cache).
		WithClock(h.clk)
	for _, opt := range opts {
		opt(h, b)
	}

	ctrl, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	h.ctrl = ctrl
	h.vault = ctrl.vault
	t.Cleanup(ctrl.Close)
	return h
}

// seed stores a credential set as a previous successful login would.
func (h *harness) seed(username, plain string, profile string) {
	h.t.Helper()
	token := "tok-" + username
	if err := h.vault.SaveCredentials(context.Background(), token, username, plain, []byte(profile)); err != nil {
		h.t.Fatalf("seed failed: %v", err)
	}
}

func (h *harness) start() {
	h.t.Helper()
	if err := h.ctrl.Start(context.Background()); err != nil {
		h.t.Fatalf("Start failed: %v", err)
	}
}

func (h *harness) login(username, plain string) {
	h.t.Helper()
	if err := h.ctrl.Login(context.Background(), username, plain); err != nil {
		h.t.Fatalf("Login(%s) failed: %v", username, err)
	}
}

func (h *harness) stored(key string) (string, bool) {
	h.t.Helper()
	v, ok, err := h.vault.Store().Get(context.Background(), key)
	if err != nil {
		h.t.Fatalf("store get %s: %v", key, err)
	}
	return v, ok
}

func (h *harness) assertNoCredentials() {
	h.t.Helper()
	for _, k := range credstore.AuthKeys {
		if _, ok := h.stored(k); ok {
			h.t.Fatalf("expected %s to be cleared", k)
		}
	}
}

func (h *harness) assertPhase(want Phase) Snapshot {
	h.t.Helper()
	s := h.ctrl.State()
	if s.Phase != want {
		h.t.Fatalf("expected phase %s, got %s", want, s.Phase)
	}
	return s
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
