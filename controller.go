package applock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrEthical07/applock/biometric"
	"github.com/MrEthical07/applock/credstore"
	"github.com/MrEthical07/applock/idle"
	"github.com/MrEthical07/applock/internal/clock"
	"github.com/MrEthical07/applock/jwt"
	"github.com/MrEthical07/applock/lifecycle"
	"github.com/MrEthical07/applock/netstatus"
	"go.uber.org/zap"
)

// Controller is the session lifecycle and app-lock state machine.
//
// Every transition holds txMu for its whole check-write-commit sequence,
// including credential store calls, and takes mu only to read or write the
// fields below it. Neither lock is held across the biometric prompt, the
// network, the navigator or subscribers.
type Controller struct {
	cfg     Config
	log     *zap.Logger
	clock   clock.Clock
	vault   *credstore.Vault
	auth    AuthClient
	gate    *biometric.Gate
	idle    *idle.Detector
	monitor *netstatus.Monitor
	cache   DataCache
	nav     Navigator
	metrics *Metrics
	audit   *auditDispatcher

	txMu sync.Mutex

	mu              sync.Mutex
	phase           Phase
	session         Session
	pendingUsername string
	hasStored       bool
	route           Route
	loading         bool
	promptVisible   bool
	appState        lifecycle.State
	initialized     bool
	closed          bool
	epoch           uint64
	version         uint64
	nextSubID       uint64
	subs            map[uint64]func(Snapshot)
	detach          []func()

	unlockInFlight atomic.Bool
	loginInFlight  atomic.Bool
}

// effects are applied after a transition, outside every lock.
type effects struct {
	markActive bool
	navigateTo Route
	// relock re-checks the remembered app state once a session goes live.
	relock bool
}

// Start runs the startup protocol once: a stored token and username lead to
// BiometricPending and an immediate biometric prompt, anything else to
// LoggedOut. Start blocks until the prompt and the profile refresh that may
// follow it are resolved. Later calls only clear the loading flag.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.initialized {
		changed := c.loading
		if changed {
			c.loading = false
			c.version++
		}
		c.mu.Unlock()
		if changed {
			c.afterChange(ctx, effects{})
		}
		return nil
	}
	c.initialized = true
	c.loading = true
	c.version++
	epoch := c.epoch
	c.mu.Unlock()

	c.metrics.Inc(MetricStartup)
	c.attachTimers(ctx)

	if r, ok := c.cache.(interface {
		Restore(context.Context) (int, error)
	}); ok {
		if n, err := r.Restore(ctx); err != nil {
			c.log.Warn("restoring persisted query cache failed", zap.Error(err))
		} else if n > 0 {
			c.log.Debug("restored persisted query cache", zap.Int("entries", n))
		}
	}

	c.txMu.Lock()
	stored, err := c.vault.Load(ctx)
	if err != nil {
		c.log.Warn("reading stored session failed, treating it as absent", zap.Error(err))
		stored = credstore.StoredSession{}
	}

	c.mu.Lock()
	if c.epoch != epoch || c.phase != PhaseInitializing {
		// A logout finished first and owns the state now.
		c.loading = false
		c.version++
		c.mu.Unlock()
		c.txMu.Unlock()
		c.discardStale("startup")
		c.afterChange(ctx, effects{})
		return nil
	}
	if !stored.HasSession() {
		c.phase = PhaseLoggedOut
		c.hasStored = false
		c.loading = false
		c.version++
		c.mu.Unlock()
		c.txMu.Unlock()
		c.log.Info("no stored session")
		c.emitAudit(ctx, AuditStartup, "", true, "no_stored_session", nil)
		c.afterChange(ctx, effects{})
		return nil
	}
	c.phase = PhaseBiometricPending
	c.pendingUsername = stored.Username
	c.hasStored = true
	c.promptVisible = true
	c.loading = false
	c.version++
	c.mu.Unlock()
	c.txMu.Unlock()

	c.metrics.Inc(MetricStoredSessionFound)
	c.log.Info("stored session found, prompting biometric unlock")
	c.emitAudit(ctx, AuditStartup, stored.Username, true, "stored_session", nil)
	c.afterChange(ctx, effects{})

	return c.promptRestore(ctx, epoch)
}

func (c *Controller) attachTimers(ctx context.Context) {
	offIdle := c.idle.Subscribe(c.onIdle)
	offNet := c.monitor.Subscribe(func(offline bool) {
		c.log.Debug("connectivity changed", zap.Bool("offline", offline))
		c.publish()
	})
	c.mu.Lock()
	c.detach = append(c.detach, offIdle, offNet)
	c.mu.Unlock()

	c.idle.Start()
	c.monitor.Start(context.WithoutCancel(ctx))
}

// RetryBiometric prompts again while the stored-session prompt is pending.
// It joins a prompt that is already showing.
func (c *Controller) RetryBiometric(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseBiometricPending {
		c.mu.Unlock()
		return ErrNotPending
	}
	epoch := c.epoch
	if !c.promptVisible {
		c.promptVisible = true
		c.version++
	}
	c.mu.Unlock()
	return c.promptRestore(ctx, epoch)
}

// CancelBiometric dismisses the pending prompt. The stored credential set
// is cleared and the controller moves to LoggedOut.
func (c *Controller) CancelBiometric(ctx context.Context) error {
	return c.abandonPending(ctx, "biometric_canceled", 0, true)
}

// FallbackToPassword abandons the stored session in favour of the login
// form. Like CancelBiometric it clears the stored credential set.
func (c *Controller) FallbackToPassword(ctx context.Context) error {
	return c.abandonPending(ctx, "fallback_to_password", 0, true)
}

// promptRestore runs the gate for the stored session of epoch and resolves
// its outcome. Results that arrive after the pending state ended are
// dropped.
func (c *Controller) promptRestore(ctx context.Context, epoch uint64) error {
	outcome := c.gate.Attempt(ctx)
	if ctx.Err() != nil {
		// The caller went away mid-prompt; leave the prompt pending.
		return ctx.Err()
	}
	c.recordOutcome(ctx, outcome)

	var err error
	switch outcome {
	case biometric.Success:
		err = c.restore(ctx, epoch)
	case biometric.FallbackRequested:
		err = c.abandonPending(ctx, "biometric_fallback", epoch, false)
	default:
		err = c.abandonPending(ctx, "biometric_canceled", epoch, false)
	}
	if errors.Is(err, ErrStaleResult) {
		return nil
	}
	return err
}

// abandonPending clears the stored session and moves BiometricPending to
// LoggedOut. With anyEpoch false the pending state must still belong to
// epoch.
func (c *Controller) abandonPending(ctx context.Context, reason string, epoch uint64, anyEpoch bool) error {
	c.txMu.Lock()
	c.mu.Lock()
	ok := c.phase == PhaseBiometricPending && (anyEpoch || c.epoch == epoch)
	user := c.pendingUsername
	c.mu.Unlock()
	if !ok {
		c.txMu.Unlock()
		if anyEpoch {
			return ErrNotPending
		}
		c.discardStale(reason)
		return ErrStaleResult
	}
	clearErr := c.endSessionTx(ctx)
	c.txMu.Unlock()

	c.log.Info("stored session abandoned", zap.String("reason", reason))
	c.emitAudit(ctx, AuditCredentialsCleared, user, true, reason, clearErr)
	c.afterChange(ctx, effects{markActive: true, navigateTo: c.cfg.Routes.Login})
	return nil
}

// restore refreshes the profile for the stored session after a successful
// prompt and commits Unlocked or LoggedOut.
func (c *Controller) restore(ctx context.Context, epoch uint64) error {
	c.txMu.Lock()
	c.mu.Lock()
	if c.epoch != epoch || c.phase != PhaseBiometricPending {
		c.mu.Unlock()
		c.txMu.Unlock()
		c.discardStale("restore")
		return ErrStaleResult
	}
	c.phase = PhaseRestoring
	c.promptVisible = false
	c.loading = true
	c.version++
	c.mu.Unlock()

	stored, err := c.vault.Load(ctx)
	if err != nil {
		c.log.Warn("reading stored session failed", zap.Error(err))
		stored = credstore.StoredSession{}
	}
	if !stored.HasSession() {
		clearErr := c.endSessionTx(ctx)
		c.txMu.Unlock()
		c.metrics.Inc(MetricRestoreFailure)
		c.emitAudit(ctx, AuditRestoreFailed, stored.Username, false, "stored_session_missing", clearErr)
		c.afterChange(ctx, effects{navigateTo: c.cfg.Routes.Login})
		return nil
	}
	c.txMu.Unlock()
	c.publish()

	profile, fetchErr := c.fetchProfile(ctx, stored.Token)

	c.txMu.Lock()
	c.mu.Lock()
	if c.epoch != epoch || c.phase != PhaseRestoring {
		c.mu.Unlock()
		c.txMu.Unlock()
		c.discardStale("profile_refresh")
		return ErrStaleResult
	}
	c.mu.Unlock()

	var fx effects
	switch {
	case fetchErr == nil:
		if err := c.vault.SaveProfile(ctx, []byte(profile)); err != nil {
			c.log.Warn("persisting refreshed profile failed", zap.Error(err))
		}
		c.commitAuthenticated(stored.Token, stored.Username, profile)
		c.txMu.Unlock()
		c.metrics.Inc(MetricRestoreSuccess)
		c.emitAudit(ctx, AuditSessionRestored, stored.Username, true, "profile_refreshed", nil)
		fx.markActive = true
		fx.relock = true

	case ClassifyError(fetchErr) == ErrUnauthorized:
		clearErr := c.endSessionTx(ctx)
		c.txMu.Unlock()
		c.metrics.Inc(MetricRestoreUnauthorized)
		c.log.Info("stored token rejected, session cleared")
		c.emitAudit(ctx, AuditRestoreFailed, stored.Username, false, "unauthorized", errors.Join(fetchErr, clearErr))
		fx.navigateTo = c.cfg.Routes.Login

	case len(stored.Profile) > 0:
		c.commitAuthenticated(stored.Token, stored.Username, Profile(stored.Profile))
		c.txMu.Unlock()
		c.metrics.Inc(MetricRestoreFromCache)
		c.log.Info("profile refresh failed, restored with cached profile", zap.Error(fetchErr))
		c.emitAudit(ctx, AuditSessionRestored, stored.Username, true, "cached_profile", fetchErr)
		fx.markActive = true
		fx.relock = true

	default:
		clearErr := c.endSessionTx(ctx)
		c.txMu.Unlock()
		c.metrics.Inc(MetricRestoreFailure)
		c.log.Info("profile refresh failed without a cached profile, session cleared", zap.Error(fetchErr))
		c.emitAudit(ctx, AuditRestoreFailed, stored.Username, false, "no_cached_profile", errors.Join(fetchErr, clearErr))
		fx.navigateTo = c.cfg.Routes.Login
	}

	c.afterChange(ctx, fx)
	return nil
}

func (c *Controller) fetchProfile(ctx context.Context, token string) (Profile, error) {
	if c.monitor.IsOffline() {
		return nil, fmt.Errorf("%w: offline", ErrNetwork)
	}
	start := c.clock.Now()
	p, err := c.auth.FetchProfile(ctx, token)
	c.metrics.Observe(MetricProfileFetchLatency, c.clock.Now().Sub(start))
	return p, err
}

// endSessionTx clears the stored credential set and resets the in-memory
// session. The caller holds txMu. The reset happens even when the clear
// fails; the clear error is returned.
func (c *Controller) endSessionTx(ctx context.Context) error {
	err := c.vault.ClearAuth(ctx)
	if err != nil {
		c.log.Warn("clearing stored credentials failed", zap.Error(err))
	} else {
		c.metrics.Inc(MetricCredentialsCleared)
	}
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
	return err
}

func (c *Controller) resetLocked() {
	c.epoch++
	c.session = Session{}
	c.phase = PhaseLoggedOut
	c.hasStored = false
	c.pendingUsername = ""
	c.promptVisible = false
	c.loading = false
	c.version++
}

// commitAuthenticated installs a live session and moves to Unlocked.
func (c *Controller) commitAuthenticated(token, username string, profile Profile) {
	s := Session{
		Token:         token,
		Username:      username,
		Role:          DeriveRole(username, c.cfg.Roles.PrivilegedUsernames),
		Profile:       profile,
		Authenticated: true,
	}
	if info, err := jwt.Inspect(token); err == nil {
		s.TokenExpiresAt = info.ExpiresAt
	}

	c.mu.Lock()
	c.epoch++
	c.session = s
	c.phase = PhaseUnlocked
	c.hasStored = true
	c.pendingUsername = ""
	c.promptVisible = false
	c.loading = false
	c.version++
	c.mu.Unlock()
}

func (c *Controller) discardStale(step string) {
	c.metrics.Inc(MetricStaleResultDiscarded)
	c.log.Debug("discarding stale result", zap.String("step", step))
}

/*
====================================
STATE, NAVIGATION, SUBSCRIBERS
====================================
*/

// State returns a snapshot of the controller.
func (c *Controller) State() Snapshot {
	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	snap.Offline = c.monitor.IsOffline()
	return snap
}

// Session returns a copy of the live session, including its token.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	s.Profile = append(Profile(nil), s.Profile...)
	return s
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Version:          c.version,
		Phase:            c.phase,
		Lock:             c.phase.LockState(),
		Authenticated:    c.session.Authenticated,
		Username:         c.session.Username,
		Role:             c.session.Role,
		Profile:          append(Profile(nil), c.session.Profile...),
		TokenExpiresAt:   c.session.TokenExpiresAt,
		PendingUsername:  c.pendingUsername,
		HasStoredSession: c.hasStored,
		Route:            c.route,
		Loading:          c.loading || c.phase == PhaseInitializing || c.phase == PhaseRestoring,
		PromptVisible:    c.promptVisible,
	}
}

// Subscribe registers fn for every state change and returns its remover.
// fn runs on the goroutine that caused the change and may call back into
// the Controller.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// SetRoute records the route the UI is showing and re-derives navigation.
func (c *Controller) SetRoute(route Route) {
	c.txMu.Lock()
	c.mu.Lock()
	changed := c.route != route
	if changed {
		c.route = route
		c.version++
	}
	c.mu.Unlock()
	c.txMu.Unlock()
	if !changed {
		return
	}

	ctx := context.Background()
	// Leaving the login route while already idle locks at once.
	if c.idle.IsIdle() && c.lockIfEligible(ctx, "idle") {
		return
	}
	c.afterChange(ctx, effects{})
}

func (c *Controller) navInputLocked() NavInput {
	return NavInput{
		Authenticated:    c.session.Authenticated,
		Route:            c.route,
		Loading:          c.loading || c.phase == PhaseInitializing || c.phase == PhaseRestoring,
		BiometricPending: c.promptVisible || c.phase == PhaseBiometricPending,
		Locked:           c.phase == PhaseLocked,
		LoginRoute:       c.cfg.Routes.Login,
		MainRoute:        c.cfg.Routes.Main,
	}
}

func (c *Controller) afterChange(ctx context.Context, fx effects) {
	if fx.markActive {
		c.idle.MarkActive()
	}
	c.navigate(fx.navigateTo)
	c.publish()
	if fx.relock {
		c.relockIfAway(ctx)
	}
}

// navigate replaces the current route with explicit, or with the derived
// target when explicit is empty. Explicit targets obey the same loading,
// prompt and lock gates as derived ones.
func (c *Controller) navigate(explicit Route) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	in := c.navInputLocked()
	target, ok := explicit, explicit != ""
	if ok && (in.Loading || in.BiometricPending || in.Locked) {
		ok = false
	}
	if !ok {
		target, ok = DeriveNavigation(in)
	}
	if !ok || target == c.route {
		c.mu.Unlock()
		return
	}
	c.route = target
	c.version++
	nav := c.nav
	c.mu.Unlock()

	c.log.Debug("navigating", zap.String("route", string(target)))
	if nav != nil {
		nav.Navigate(target)
	}
}

func (c *Controller) publish() {
	c.mu.Lock()
	snap := c.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	snap.Offline = c.monitor.IsOffline()
	for _, fn := range subs {
		fn(snap)
	}
}

/*
====================================
ACCESSORS
====================================
*/

// ObserveNetwork feeds a pushed connectivity event to the reachability monitor.
func (c *Controller) ObserveNetwork(s netstatus.State) {
	c.monitor.Observe(s)
}

// IsOffline reports the committed reachability flag.
func (c *Controller) IsOffline() bool {
	return c.monitor.IsOffline()
}

// Metrics returns the controller counters.
func (c *Controller) Metrics() *Metrics {
	return c.metrics
}

// MetricsSnapshot copies the controller counters.
func (c *Controller) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped reports audit events lost to a full buffer.
func (c *Controller) AuditDropped() uint64 {
	return c.audit.Dropped()
}

// Close stops timers, polling and the audit worker, and detaches every
// subscriber. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	detach := c.detach
	c.detach = nil
	c.subs = make(map[uint64]func(Snapshot))
	c.mu.Unlock()

	for _, off := range detach {
		off()
	}
	c.idle.Stop()
	c.monitor.Stop()
	c.audit.Close()
}
