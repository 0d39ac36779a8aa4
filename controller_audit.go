package applock

import (
	"context"

	"github.com/MrEthical07/applock/biometric"
)

// emitAudit queues an event for the audit sink. It reads the phase under
// mu, so callers must not hold mu.
func (c *Controller) emitAudit(ctx context.Context, eventType, username string, success bool, reason string, err error) {
	if c.audit == nil {
		return
	}
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()

	ev := AuditEvent{
		EventType: eventType,
		Username:  username,
		Phase:     phase.String(),
		Success:   success,
		Reason:    reason,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.audit.Emit(ctx, ev)
}

func (c *Controller) recordOutcome(ctx context.Context, outcome biometric.Outcome) {
	switch outcome {
	case biometric.Success:
		c.metrics.Inc(MetricBiometricSuccess)
	case biometric.FallbackRequested:
		c.metrics.Inc(MetricBiometricFallback)
	default:
		c.metrics.Inc(MetricBiometricCanceled)
	}
	c.emitAudit(ctx, AuditBiometricOutcome, "", outcome == biometric.Success, outcome.String(), nil)
}
