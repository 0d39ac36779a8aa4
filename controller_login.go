package applock

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Login authenticates with the backend and persists the credential set.
// When the backend cannot be reached, or rejects the attempt, Login falls
// back to the stored session: the same username plus a password that
// verifies against the stored one restores it with the stored profile.
// A failed login leaves the state untouched and returns an error wrapping
// ErrLoginFailed and the cause.
func (c *Controller) Login(ctx context.Context, username, pass string) error {
	if username == "" || pass == "" {
		return ErrMissingCredentials
	}
	if !c.loginInFlight.CompareAndSwap(false, true) {
		return ErrLoginInProgress
	}
	defer c.loginInFlight.Store(false)

	c.mu.Lock()
	if err := c.loginAllowedLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	epoch := c.epoch
	c.loading = true
	c.version++
	c.mu.Unlock()
	c.publish()

	res, loginErr := c.remoteLogin(ctx, username, pass)

	c.txMu.Lock()
	c.mu.Lock()
	if c.epoch != epoch || c.phase != PhaseLoggedOut || c.session.Authenticated {
		c.mu.Unlock()
		c.txMu.Unlock()
		c.discardStale("login")
		return ErrStaleResult
	}
	c.mu.Unlock()

	if loginErr == nil {
		if err := c.vault.SaveCredentials(ctx, res.Token, res.Username, pass, res.Profile); err != nil {
			c.log.Warn("persisting credentials failed", zap.Error(err))
		}
		c.commitAuthenticated(res.Token, res.Username, res.Profile)
		c.txMu.Unlock()

		c.metrics.Inc(MetricLoginSuccess)
		c.log.Info("login succeeded", zap.String("username", res.Username))
		c.emitAudit(ctx, AuditLogin, res.Username, true, "remote", nil)
		c.afterChange(ctx, effects{markActive: true, navigateTo: c.cfg.Routes.Main, relock: true})
		return nil
	}

	if token, storedUser, profile, ok := c.offlineMatch(ctx, username, pass); ok {
		c.commitAuthenticated(token, storedUser, profile)
		c.txMu.Unlock()

		c.metrics.Inc(MetricLoginOfflineFallback)
		c.log.Info("login served from stored credentials", zap.Error(loginErr))
		c.emitAudit(ctx, AuditLogin, storedUser, true, "stored_credentials", loginErr)
		c.afterChange(ctx, effects{markActive: true, navigateTo: c.cfg.Routes.Main, relock: true})
		return nil
	}

	c.mu.Lock()
	c.loading = false
	c.version++
	c.mu.Unlock()
	c.txMu.Unlock()

	c.metrics.Inc(MetricLoginFailure)
	c.log.Info("login failed", zap.Error(loginErr))
	c.emitAudit(ctx, AuditLoginFailed, username, false, ClassifyError(loginErr).Error(), loginErr)
	c.afterChange(ctx, effects{})
	return fmt.Errorf("%w: %w", ErrLoginFailed, loginErr)
}

func (c *Controller) loginAllowedLocked() error {
	switch {
	case c.closed:
		return ErrClosed
	case !c.initialized || c.phase == PhaseInitializing:
		return ErrNotStarted
	case c.session.Authenticated:
		return ErrAlreadyAuthenticated
	case c.phase == PhaseBiometricPending || c.phase == PhaseRestoring:
		return ErrRestoreInProgress
	}
	return nil
}

func (c *Controller) remoteLogin(ctx context.Context, username, pass string) (LoginResult, error) {
	if c.monitor.IsOffline() {
		return LoginResult{}, fmt.Errorf("%w: offline", ErrNetwork)
	}
	res, err := c.auth.Login(ctx, username, pass)
	if err != nil {
		return LoginResult{}, err
	}
	if res.Token == "" || res.Username == "" {
		return LoginResult{}, fmt.Errorf("%w: login response without token or username", ErrServer)
	}
	return res, nil
}

// offlineMatch checks username and pass against the stored credential set.
// The caller holds txMu.
func (c *Controller) offlineMatch(ctx context.Context, username, pass string) (string, string, Profile, bool) {
	stored, err := c.vault.Load(ctx)
	if err != nil {
		c.log.Warn("reading stored credentials failed", zap.Error(err))
		return "", "", nil, false
	}
	if !stored.HasSession() || stored.Username != username ||
		len(stored.Profile) == 0 || stored.PasswordHash == "" {
		return "", "", nil, false
	}
	ok, err := c.vault.VerifyPassword(ctx, stored, pass)
	if err != nil {
		c.log.Warn("verifying stored password failed", zap.Error(err))
		return "", "", nil, false
	}
	if !ok {
		return "", "", nil, false
	}
	return stored.Token, stored.Username, Profile(stored.Profile), true
}

// Logout clears the stored credential set, the in-memory session and the
// data cache, then routes to login. State is reset even when clearing the
// store fails; that error is returned.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	user := c.session.Username
	if user == "" {
		user = c.pendingUsername
	}
	c.mu.Unlock()

	c.txMu.Lock()
	clearErr := c.endSessionTx(ctx)
	c.txMu.Unlock()

	var cacheErr error
	if c.cache != nil {
		if cacheErr = c.cache.Clear(ctx); cacheErr != nil {
			c.log.Warn("clearing data cache failed", zap.Error(cacheErr))
		}
	}

	c.metrics.Inc(MetricLogout)
	c.log.Info("logged out")
	c.emitAudit(ctx, AuditLogout, user, clearErr == nil, "", clearErr)
	c.afterChange(ctx, effects{navigateTo: c.cfg.Routes.Login})
	if clearErr != nil {
		return clearErr
	}
	return cacheErr
}

// ThemeMode returns the stored theme preference, or "" when none is set.
func (c *Controller) ThemeMode(ctx context.Context) (string, error) {
	return c.vault.ThemeMode(ctx)
}

// SetThemeMode stores "light" or "dark". Theme survives logout.
func (c *Controller) SetThemeMode(ctx context.Context, mode string) error {
	if mode != "light" && mode != "dark" {
		return ErrInvalidThemeMode
	}
	return c.vault.SetThemeMode(ctx, mode)
}
