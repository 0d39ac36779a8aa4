package applock

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Audit event types.
const (
	AuditStartup            = "startup"
	AuditBiometricOutcome   = "biometric_outcome"
	AuditSessionRestored    = "session_restored"
	AuditRestoreFailed      = "restore_failed"
	AuditLocked             = "locked"
	AuditUnlock             = "unlock"
	AuditLogin              = "login"
	AuditLoginFailed        = "login_failed"
	AuditLogout             = "logout"
	AuditCredentialsCleared = "credentials_cleared"
)

// AuditEvent records one session transition. It never carries tokens or
// passwords.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Username  string            `json:"username,omitempty"`
	Phase     string            `json:"phase,omitempty"`
	Success   bool              `json:"success"`
	Reason    string            `json:"reason,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the dispatcher goroutine.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, event AuditEvent)

func (f AuditSinkFunc) Emit(ctx context.Context, event AuditEvent) { f(ctx, event) }

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// MultiSink fans each event out to every sink in order.
func MultiSink(sinks ...AuditSink) AuditSink {
	return AuditSinkFunc(func(ctx context.Context, event AuditEvent) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(ctx, event)
			}
		}
	})
}

// ChannelSink hands events to a reader. Emit blocks while the channel is
// full unless ctx ends first.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{events: make(chan AuditEvent, max(buffer, 1))}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// LoggerSink writes each event as a structured log entry. Failed
// transitions log at warn.
type LoggerSink struct {
	log *zap.Logger
}

func NewLoggerSink(log *zap.Logger) *LoggerSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggerSink{log: log}
}

func (s *LoggerSink) Emit(_ context.Context, event AuditEvent) {
	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.Time("at", event.Timestamp),
	}
	if event.Username != "" {
		fields = append(fields, zap.String("username", event.Username))
	}
	if event.Phase != "" {
		fields = append(fields, zap.String("phase", event.Phase))
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	if !event.Success {
		s.log.Warn("audit", fields...)
		return
	}
	s.log.Info("audit", fields...)
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}
