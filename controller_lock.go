package applock

import (
	"context"

	"github.com/MrEthical07/applock/biometric"
	"github.com/MrEthical07/applock/lifecycle"
	"go.uber.org/zap"
)

// lockIfEligible moves Unlocked to Locked when a session is live, no prompt
// is showing and the login route is not displayed. It reports whether the
// lock happened.
func (c *Controller) lockIfEligible(ctx context.Context, reason string) bool {
	c.txMu.Lock()
	c.mu.Lock()
	ok := !c.closed &&
		c.phase == PhaseUnlocked &&
		c.session.Authenticated &&
		!c.promptVisible &&
		c.route != c.cfg.Routes.Login
	user := c.session.Username
	if ok {
		c.phase = PhaseLocked
		c.version++
	}
	c.mu.Unlock()
	c.txMu.Unlock()
	if !ok {
		return false
	}

	c.metrics.Inc(MetricLock)
	c.log.Info("app locked", zap.String("reason", reason))
	c.emitAudit(ctx, AuditLocked, user, true, reason, nil)
	c.afterChange(ctx, effects{})
	return true
}

func (c *Controller) onIdle(idle bool) {
	if !idle || !c.idle.IsIdle() {
		return
	}
	c.lockIfEligible(context.Background(), "idle")
}

// HandleLifecycle reacts to a host application state change. Moving to the
// background or inactive state locks a live session; returning to the
// foreground re-arms the inactivity timer. The state is remembered so a
// session that goes live while away is locked as soon as it commits.
func (c *Controller) HandleLifecycle(ctx context.Context, state lifecycle.State) {
	c.mu.Lock()
	c.appState = state
	c.mu.Unlock()
	if state.Leaving() {
		c.lockIfEligible(ctx, "app_"+string(state))
	}
	c.idle.HandleLifecycle(state)
}

// relockIfAway locks a session that went live while the app was in the
// background or inactive, such as a restore that finished behind the
// home screen.
func (c *Controller) relockIfAway(ctx context.Context) {
	c.mu.Lock()
	state := c.appState
	c.mu.Unlock()
	if state.Leaving() {
		c.lockIfEligible(ctx, "app_"+string(state))
	}
}

// UserInteraction records a touch, key press or scroll. It is ignored while
// locked or while a biometric prompt is showing.
func (c *Controller) UserInteraction() {
	c.mu.Lock()
	ignore := c.closed || c.phase == PhaseLocked || c.promptVisible
	c.mu.Unlock()
	if ignore {
		return
	}
	c.idle.MarkActive()
}

// Unlock prompts for biometrics while Locked. Success resumes the session.
// Any other outcome clears the stored credentials and routes to login; that
// is a state change, not an error. A second call while a prompt is already
// showing returns nil immediately.
func (c *Controller) Unlock(ctx context.Context) error {
	if !c.unlockInFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer c.unlockInFlight.Store(false)

	c.mu.Lock()
	if c.phase != PhaseLocked {
		c.mu.Unlock()
		return ErrNotLocked
	}
	epoch := c.epoch
	user := c.session.Username
	c.mu.Unlock()

	outcome := c.gate.Attempt(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.recordOutcome(ctx, outcome)

	c.txMu.Lock()
	c.mu.Lock()
	if c.epoch != epoch || c.phase != PhaseLocked {
		c.mu.Unlock()
		c.txMu.Unlock()
		c.discardStale("unlock")
		return nil
	}
	if outcome == biometric.Success {
		c.phase = PhaseUnlocked
		c.version++
		c.mu.Unlock()
		c.txMu.Unlock()

		c.metrics.Inc(MetricUnlockSuccess)
		c.log.Info("app unlocked")
		c.emitAudit(ctx, AuditUnlock, user, true, outcome.String(), nil)
		c.afterChange(ctx, effects{markActive: true})
		return nil
	}
	c.mu.Unlock()
	clearErr := c.endSessionTx(ctx)
	c.txMu.Unlock()

	c.metrics.Inc(MetricUnlockFailure)
	c.log.Info("unlock abandoned, session cleared", zap.Stringer("outcome", outcome))
	c.emitAudit(ctx, AuditUnlock, user, false, outcome.String(), clearErr)
	c.afterChange(ctx, effects{markActive: true, navigateTo: c.cfg.Routes.Login})
	return nil
}
