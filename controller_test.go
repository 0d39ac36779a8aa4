package applock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/applock/biometric"
	"github.com/MrEthical07/applock/credstore"
	"github.com/MrEthical07/applock/lifecycle"
	"github.com/MrEthical07/applock/netstatus"
)

const emilysProfile = `{"id":1,"username":"emilys","firstName":"Emily"}`

func TestStartWithoutStoredSessionRoutesToLogin(t *testing.T) {
	h := newHarness(t)
	h.start()

	s := h.assertPhase(PhaseLoggedOut)
	if s.Authenticated || s.HasStoredSession || s.Loading {
		t.Fatalf("unexpected snapshot after empty startup: %+v", s)
	}
	if got := h.nav.last(); got != "/login" {
		t.Fatalf("expected navigation to /login, got %q", got)
	}
	if len(h.bio.Prompts()) != 0 {
		t.Fatal("expected no biometric prompt without a stored session")
	}
	if got := h.ctrl.Metrics().Value(MetricStartup); got != 1 {
		t.Fatalf("expected 1 startup, got %d", got)
	}
}

func TestStartTwiceIsNoop(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.start()
	if got := h.ctrl.Metrics().Value(MetricStartup); got != 1 {
		t.Fatalf("expected startup to run once, got %d", got)
	}
}

func TestStartRestoresStoredSessionAfterBiometricSuccess(t *testing.T) {
	h := newHarness(t)
	h.seed("emilys", "emilyspass", `{"stale":true}`)
	h.bio.Push(biometric.Result{Success: true})
	h.start()

	s := h.assertPhase(PhaseUnlocked)
	if !s.Authenticated || s.Username != "emilys" {
		t.Fatalf("expected emilys authenticated, got %+v", s)
	}
	if s.Role != RoleSuperAdmin {
		t.Fatalf("expected superAdmin role, got %q", s.Role)
	}
	if string(s.Profile) != emilysProfile {
		t.Fatalf("expected refreshed profile, got %s", s.Profile)
	}
	if stored, _ := h.stored(credstore.KeyUserProfile); stored != emilysProfile {
		t.Fatalf("expected refreshed profile persisted, got %q", stored)
	}
	if got := h.nav.last(); got != "/products" {
		t.Fatalf("expected navigation to /products, got %q", got)
	}
	if got := h.ctrl.Session().Token; got != "tok-emilys" {
		t.Fatalf("expected token tok-emilys, got %q", got)
	}

	prompts := h.bio.Prompts()
	if len(prompts) != 1 {
		t.Fatalf("expected one prompt, got %d", len(prompts))
	}
	if prompts[0].Message != "Unlock with Fingerprint" {
		t.Fatalf("unexpected prompt message %q", prompts[0].Message)
	}
}

func TestBiometricCancelClearsStoredSession(t *testing.T) {
	h := newHarness(t)
	h.seed("emilys", "emilyspass", emilysProfile)
	if err := h.ctrl.SetThemeMode(context.Background(), "dark"); err != nil {
		t.Fatalf("SetThemeMode failed: %v", err)
	}
	h.bio.Push(biometric.Result{Error: "user_cancel"})
	h.start()

	s := h.assertPhase(PhaseLoggedOut)
	if s.HasStoredSession || s.PendingUsername != "" {
		t.Fatalf("expected pending session dropped, got %+v", s)
	}
	h.assertNoCredentials()
	if mode, _ := h.ctrl.ThemeMode(context.Background()); mode != "dark" {
		t.Fatalf("expected theme to survive, got %q", mode)
	}
	if got := h.nav.last(); got != "/login" {
		t.Fatalf("expected /login, got %q", got)
	}
	if _, profiles := h.auth.calls(); profiles != 0 {
		t.Fatalf("expected no profile fetch, got %d", profiles)
	}
	if got := h.ctrl.Metrics().Value(MetricBiometricCanceled); got != 1 {
		t.Fatalf("expected 1 canceled outcome, got %d", got)
	}
}

func TestBiometricFallbackClearsStoredSession(t *testing.T) {
	h := newHarness(t)
	h.seed("emilys", "emilyspass", emilysProfile)
	h.bio.Push(biometric.Result{Error: biometric.ErrorUserFallback})
	h.start()

	h.assertPhase(PhaseLoggedOut)
	h.assertNoCredentials()
	if got := h.ctrl.Metrics().Value(MetricBiometricFallback); got != 1 {
		t.Fatalf("expected 1 fallback outcome, got %d", got)
	}
}

func TestBiometricUnavailableFallsBackToLogin(t *testing.T) {
	h := newHarness(t)
	h.seed("emilys", "emilyspass", emilysProfile)
	h.bio.SetAvailability(true, false)
	h.start()

	h.assertPhase(PhaseLoggedOut)
	h.assertNoCredentials()
	if len(h.bio.Prompts()) != 0 {
		t.Fatal("expected no prompt without enrollment")
	}
}

func TestRestoreUnauthorizedClearsSession(t *testing.T) {
	h := newHarness(t)
	h.seed("ghost", "ghostpass", `{"id":9}`)
	h.bio.Push(biometric.Result{Success: true})
	h.start()

	h.assertPhase(PhaseLoggedOut)
	h.assertNoCredentials()
	if got := h.ctrl.Metrics().Value(MetricRestoreUnauthorized); got != 1 {
		t.Fatalf("expected 1 unauthorized restore, got %d", got)
	}
	if got := h.nav.last(); got != "/login" {
		t.Fatalf("expected /login, got %q", got)
	}
}

func TestRestoreNetworkFailureUsesCachedProfile(t *testing.T) {
	h := newHarness(t)
	h.seed("emilys", "emilyspass", `{"cached":true}`)
	h.auth.profileErr = fmt.Errorf("%w: connection refused", ErrNetwork)
	h.bio.Push(biometric.Result{Success: true})
	h.start()

	s := h.assertPhase(PhaseUnlocked)
	if string(s.Profile) != `{"cached":true}` {
		t.Fatalf("expected cached profile, got %s", s.Profile)
	}
	if _, ok := h.stored(credstore.KeyToken); !ok {
		t.Fatal("expected stored token to survive")
	}
	if got := h.ctrl.Metrics().Value(MetricRestoreFromCache); got != 1 {
		t.Fatalf("expected 1 cached restore, got %d", got)
	}
}

func TestRestoreServerFailureWithoutCacheClearsSession(t *testing.T) {
	h := newHarness(t)
	h.seed("emilys", "emilyspass", "")
	h.auth.profileErr = fmt.Errorf("%w: status 500", ErrServer)
	h.bio.Push(biometric.Result{Success: true})
	h.start()

	h.assertPhase(PhaseLoggedOut)
	h.assertNoCredentials()
	if got := h.ctrl.Metrics().Value(MetricRestoreFailure); got != 1 {
		t.Fatalf("expected 1 failed restore, got %d", got)
	}
}

func TestRestoreWhileOfflineSkipsNetwork(t *testing.T) {
	h := newHarness(t)
	h.seed("emilys", "emilyspass", `{"cached":true}`)
	h.ctrl.ObserveNetwork(netstatus.State{Connected: false})
	h.bio.Push(biometric.Result{Success: true})
	h.start()

	s := h.assertPhase(PhaseUnlocked)
	if !s.Offline {
		t.Fatal("expected snapshot to report offline")
	}
	if _, profiles := h.auth.calls(); profiles != 0 {
		t.Fatalf("expected no profile fetch while offline, got %d", profiles)
	}
}

func TestLoginPersistsCredentialsAndNavigates(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.login("emilys", "emilyspass")

	s := h.assertPhase(PhaseUnlocked)
	if s.Role != RoleSuperAdmin || s.Username != "emilys" {
		t.Fatalf("unexpected session %+v", s)
	}
	if got := h.nav.last(); got != "/products" {
		t.Fatalf("expected /products, got %q", got)
	}
	if tok, _ := h.stored(credstore.KeyToken); tok != "tok-emilys" {
		t.Fatalf("expected stored token, got %q", tok)
	}
	if user, _ := h.stored(credstore.KeyUsername); user != "emilys" {
		t.Fatalf("expected stored username, got %q", user)
	}
	pw, _ := h.stored(credstore.KeyPassword)
	if pw == "" || pw == "emilyspass" || !strings.HasPrefix(pw, "$argon2id$") {
		t.Fatalf("expected hashed stored password, got %q", pw)
	}
}

func TestLoginStandardRole(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.login("michaelw", "michaelwpass")

	if got := h.ctrl.State().Role; got != RoleStandard {
		t.Fatalf("expected standard role, got %q", got)
	}
}

func TestLoginFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	h.start()

	err := h.ctrl.Login(context.Background(), "emilys", "wrong")
	if !errors.Is(err, ErrLoginFailed) || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected login failure wrapping unauthorized, got %v", err)
	}
	s := h.assertPhase(PhaseLoggedOut)
	if s.Loading {
		t.Fatal("expected loading cleared after failed login")
	}
	h.assertNoCredentials()
	if got := h.ctrl.Metrics().Value(MetricLoginFailure); got != 1 {
		t.Fatalf("expected 1 failed login, got %d", got)
	}
}

func TestLoginGuards(t *testing.T) {
	h := newHarness(t)

	if err := h.ctrl.Login(context.Background(), "", "x"); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if err := h.ctrl.Login(context.Background(), "emilys", "emilyspass"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	h.start()
	h.login("emilys", "emilyspass")
	if err := h.ctrl.Login(context.Background(), "emilys", "emilyspass"); !errors.Is(err, ErrAlreadyAuthenticated) {
		t.Fatalf("expected ErrAlreadyAuthenticated, got %v", err)
	}

	h.ctrl.Close()
	if err := h.ctrl.Login(context.Background(), "emilys", "emilyspass"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := h.ctrl.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Start, got %v", err)
	}
}

func TestOfflineLoginUsesStoredCredentials(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.seed("emilys", "emilyspass", emilysProfile)
	h.ctrl.ObserveNetwork(netstatus.State{Connected: false})

	if err := h.ctrl.Login(context.Background(), "emilys", "nope"); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("expected wrong stored password to fail, got %v", err)
	}
	if !errors.Is(h.ctrl.Login(context.Background(), "michaelw", "michaelwpass"), ErrNetwork) {
		t.Fatal("expected other user to fail with a network cause")
	}

	h.login("emilys", "emilyspass")
	s := h.assertPhase(PhaseUnlocked)
	if string(s.Profile) != emilysProfile {
		t.Fatalf("expected stored profile, got %s", s.Profile)
	}
	if logins, _ := h.auth.calls(); logins != 0 {
		t.Fatalf("expected no network login while offline, got %d", logins)
	}
	if got := h.ctrl.Metrics().Value(MetricLoginOfflineFallback); got != 1 {
		t.Fatalf("expected 1 offline login, got %d", got)
	}
}

func TestLoginNetworkFailureFallsBackToStoredCredentials(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.seed("emilys", "emilyspass", emilysProfile)
	h.auth.loginErr = fmt.Errorf("%w: timeout", ErrNetwork)

	h.login("emilys", "emilyspass")
	h.assertPhase(PhaseUnlocked)
	if logins, _ := h.auth.calls(); logins != 1 {
		t.Fatalf("expected one network attempt, got %d", logins)
	}
}

func TestLogoutDuringLoginDiscardsResult(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.auth.loginGate = make(chan struct{})
	h.auth.loginEntered = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- h.ctrl.Login(context.Background(), "emilys", "emilyspass")
	}()
	waitFor(t, h.auth.loginEntered, "login call")

	if err := h.ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	close(h.auth.loginGate)

	select {
	case err := <-done:
		if !errors.Is(err, ErrStaleResult) {
			t.Fatalf("expected ErrStaleResult, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("login did not return")
	}
	h.assertPhase(PhaseLoggedOut)
	h.assertNoCredentials()
}

func TestLogoutDuringPromptDiscardsBiometricSuccess(t *testing.T) {
	hw := newGatedHardware()
	h := newHarness(t, withHardware(hw, hw.Scripted))
	h.seed("emilys", "emilyspass", emilysProfile)
	hw.Push(biometric.Result{Success: true})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Start(context.Background()) }()
	waitFor(t, hw.entered, "biometric prompt")

	s := h.assertPhase(PhaseBiometricPending)
	if !s.PromptVisible || s.PendingUsername != "emilys" {
		t.Fatalf("unexpected pending snapshot %+v", s)
	}
	if err := h.ctrl.Login(context.Background(), "emilys", "emilyspass"); !errors.Is(err, ErrRestoreInProgress) {
		t.Fatalf("expected ErrRestoreInProgress, got %v", err)
	}

	if err := h.ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	close(hw.release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	h.assertPhase(PhaseLoggedOut)
	if _, profiles := h.auth.calls(); profiles != 0 {
		t.Fatalf("expected stale success to skip profile fetch, got %d", profiles)
	}
	if got := h.ctrl.Metrics().Value(MetricStaleResultDiscarded); got == 0 {
		t.Fatal("expected stale result to be counted")
	}
}

func TestCancelBiometricWhilePromptShowing(t *testing.T) {
	hw := newGatedHardware()
	h := newHarness(t, withHardware(hw, hw.Scripted))
	h.seed("emilys", "emilyspass", emilysProfile)

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Start(context.Background()) }()
	waitFor(t, hw.entered, "biometric prompt")

	h.ctrl.HandleLifecycle(context.Background(), lifecycle.Background)
	h.assertPhase(PhaseBiometricPending)

	if err := h.ctrl.CancelBiometric(context.Background()); err != nil {
		t.Fatalf("CancelBiometric failed: %v", err)
	}
	h.assertPhase(PhaseLoggedOut)
	h.assertNoCredentials()

	close(hw.release)
	if err := <-done; err != nil {
		t.Fatalf("Start returned %v", err)
	}
	h.assertPhase(PhaseLoggedOut)
	if err := h.ctrl.FallbackToPassword(context.Background()); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestIdleTimeoutLocksAndUnlockResumes(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.login("emilys", "emilyspass")

	h.clk.Advance(9 * time.Second)
	h.ctrl.UserInteraction()
	h.clk.Advance(9 * time.Second)
	h.assertPhase(PhaseUnlocked)

	h.clk.Advance(time.Second)
	s := h.assertPhase(PhaseLocked)
	if s.Lock != Locked || !s.Authenticated {
		t.Fatalf("expected locked live session, got %+v", s)
	}

	h.bio.Push(biometric.Result{Success: true})
	if err := h.ctrl.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	h.assertPhase(PhaseUnlocked)
	if tok, _ := h.stored(credstore.KeyToken); tok != "tok-emilys" {
		t.Fatal("expected credentials kept after unlock")
	}

	h.clk.Advance(10 * time.Second)
	h.assertPhase(PhaseLocked)
}

func TestUnlockFailureClearsSession(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.login("emilys", "emilyspass")
	h.ctrl.HandleLifecycle(context.Background(), lifecycle.Background)
	h.assertPhase(PhaseLocked)

	h.bio.Push(biometric.Result{Error: "lockout"})
	if err := h.ctrl.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock returned %v", err)
	}
	s := h.assertPhase(PhaseLoggedOut)
	if s.Authenticated {
		t.Fatal("expected session dropped")
	}
	h.assertNoCredentials()
	if got := h.nav.last(); got != "/login" {
		t.Fatalf("expected /login, got %q", got)
	}
	if err := h.ctrl.Unlock(context.Background()); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("expected ErrNotLocked, got %v", err)
	}
}

func TestInactiveLifecycleLocks(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.login("emilys", "emilyspass")

	h.ctrl.HandleLifecycle(context.Background(), lifecycle.Inactive)
	h.assertPhase(PhaseLocked)
	if got := h.ctrl.Metrics().Value(MetricLock); got != 1 {
		t.Fatalf("expected one lock, got %d", got)
	}
}

func TestRestoreFinishingInBackgroundLocks(t *testing.T) {
	hw := newGatedHardware()
	h := newHarness(t, withHardware(hw, hw.Scripted))
	h.seed("emilys", "emilyspass", emilysProfile)
	hw.Push(biometric.Result{Success: true})

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Start(context.Background()) }()
	waitFor(t, hw.entered, "biometric prompt")

	h.ctrl.HandleLifecycle(context.Background(), lifecycle.Background)
	h.assertPhase(PhaseBiometricPending)

	close(hw.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("restore did not finish")
	}

	s := h.assertPhase(PhaseLocked)
	if !s.Authenticated {
		t.Fatal("expected the restored session kept behind the lock")
	}
	if got := h.ctrl.Metrics().Value(MetricLock); got != 1 {
		t.Fatalf("expected one lock, got %d", got)
	}
}

func TestLoginFinishingAfterForegroundStaysUnlocked(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.auth.loginGate = make(chan struct{})
	h.auth.loginEntered = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- h.ctrl.Login(context.Background(), "emilys", "emilyspass")
	}()
	waitFor(t, h.auth.loginEntered, "login call")

	h.ctrl.HandleLifecycle(context.Background(), lifecycle.Background)
	h.ctrl.HandleLifecycle(context.Background(), lifecycle.Active)
	close(h.auth.loginGate)
	if err := <-done; err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	h.assertPhase(PhaseUnlocked)
	if got := h.ctrl.Metrics().Value(MetricLock); got != 0 {
		t.Fatalf("expected no lock, got %d", got)
	}
}

func TestLoginFinishingInBackgroundLocks(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.auth.loginGate = make(chan struct{})
	h.auth.loginEntered = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- h.ctrl.Login(context.Background(), "emilys", "emilyspass")
	}()
	waitFor(t, h.auth.loginEntered, "login call")

	h.ctrl.HandleLifecycle(context.Background(), lifecycle.Inactive)
	close(h.auth.loginGate)
	if err := <-done; err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	h.assertPhase(PhaseLocked)
	if tok, _ := h.stored(credstore.KeyToken); tok != "tok-emilys" {
		t.Fatal("expected credentials saved by the login")
	}
}

func TestIdleDoesNotLockWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.start()

	h.clk.Advance(time.Minute)
	h.ctrl.HandleLifecycle(context.Background(), lifecycle.Background)
	h.assertPhase(PhaseLoggedOut)
	if got := h.ctrl.Metrics().Value(MetricLock); got != 0 {
		t.Fatalf("expected no lock, got %d", got)
	}
}

func TestSecondUnlockWhilePromptShowingReturnsNil(t *testing.T) {
	hw := newGatedHardware()
	h := newHarness(t, withHardware(hw, hw.Scripted))
	h.start()
	h.login("emilys", "emilyspass")
	h.ctrl.HandleLifecycle(context.Background(), lifecycle.Background)
	h.assertPhase(PhaseLocked)

	hw.Push(biometric.Result{Success: true})
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Unlock(context.Background()) }()
	waitFor(t, hw.entered, "unlock prompt")

	if err := h.ctrl.Unlock(context.Background()); err != nil {
		t.Fatalf("expected nil from concurrent Unlock, got %v", err)
	}
	close(hw.release)
	if err := <-done; err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	h.assertPhase(PhaseUnlocked)
	if got := len(hw.Prompts()); got != 1 {
		t.Fatalf("expected one prompt, got %d", got)
	}
}

func TestLogoutClearsCacheAndKeepsTheme(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.login("emilys", "emilyspass")
	if err := h.ctrl.SetThemeMode(context.Background(), "light"); err != nil {
		t.Fatalf("SetThemeMode failed: %v", err)
	}

	if err := h.ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	h.assertPhase(PhaseLoggedOut)
	h.assertNoCredentials()
	if h.cache.clears != 1 {
		t.Fatalf("expected one cache clear, got %d", h.cache.clears)
	}
	if mode, _ := h.ctrl.ThemeMode(context.Background()); mode != "light" {
		t.Fatalf("expected theme kept, got %q", mode)
	}
	if got := h.nav.last(); got != "/login" {
		t.Fatalf("expected /login, got %q", got)
	}
	if err := h.ctrl.SetThemeMode(context.Background(), "sepia"); !errors.Is(err, ErrInvalidThemeMode) {
		t.Fatalf("expected ErrInvalidThemeMode, got %v", err)
	}
}

func TestSubscribersSeeIncreasingVersions(t *testing.T) {
	h := newHarness(t)
	var snaps []Snapshot
	off := h.ctrl.Subscribe(func(s Snapshot) { snaps = append(snaps, s) })

	h.start()
	h.login("emilys", "emilyspass")
	off()
	h.ctrl.HandleLifecycle(context.Background(), lifecycle.Background)

	if len(snaps) < 2 {
		t.Fatalf("expected several snapshots, got %d", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Version < snaps[i-1].Version {
			t.Fatalf("version went backwards at %d: %d < %d", i, snaps[i].Version, snaps[i-1].Version)
		}
	}
	last := snaps[len(snaps)-1]
	if last.Phase != PhaseUnlocked || last.Route != "/products" {
		t.Fatalf("unexpected final snapshot %+v", last)
	}
}

func TestSetRouteRederivesNavigation(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.login("emilys", "emilyspass")

	h.ctrl.SetRoute("/login")
	if got := h.ctrl.State().Route; got != "/products" {
		t.Fatalf("expected authenticated user bounced to /products, got %q", got)
	}
}

func TestAuditEventsCarryNoSecrets(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 32
	cfg.Audit.DropIfFull = false
	sink := NewChannelSink(32)

	h := newHarness(t, withConfig(cfg), withAuditSink(sink))
	h.start()
	h.login("emilys", "emilyspass")
	if err := h.ctrl.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	var types []string
	timeout := time.After(2 * time.Second)
collect:
	for {
		select {
		case ev := <-sink.Events():
			types = append(types, ev.EventType)
			for _, field := range []string{ev.Error, ev.Reason, ev.Username} {
				if strings.Contains(field, "emilyspass") || strings.Contains(field, "tok-emilys") {
					t.Fatalf("secret leaked in audit event %+v", ev)
				}
			}
			if ev.EventType == AuditLogout {
				break collect
			}
		case <-timeout:
			t.Fatalf("timed out; saw %v", types)
		}
	}
	if types[0] != AuditStartup {
		t.Fatalf("expected startup first, got %v", types)
	}
}
