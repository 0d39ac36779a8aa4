package biometric

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Type is a biometric modality reported by the platform.
type Type int

const (
	TypeFingerprint Type = iota + 1
	TypeFacialRecognition
	TypeIris
)

// ErrorUserFallback is the platform error code emitted when the user picks
// the password fallback button on the system prompt.
const ErrorUserFallback = "user_fallback"

// Prompt configures the system dialog.
type Prompt struct {
	Message               string
	FallbackLabel         string
	CancelLabel           string
	DisableDeviceFallback bool
}

// Result is the raw platform answer. Error carries the platform code when
// Success is false (user_cancel, system_cancel, lockout, user_fallback...).
type Result struct {
	Success bool
	Error   string
}

// Hardware is the platform biometric capability.
type Hardware interface {
	HasHardware(ctx context.Context) (bool, error)
	IsEnrolled(ctx context.Context) (bool, error)
	SupportedTypes(ctx context.Context) ([]Type, error)
	Authenticate(ctx context.Context, p Prompt) (Result, error)
}

// Outcome is the only thing callers learn from an attempt.
type Outcome int

const (
	Success Outcome = iota
	UserCanceled
	FallbackRequested
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case UserCanceled:
		return "user_canceled"
	case FallbackRequested:
		return "fallback_requested"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Config holds prompt wording. MessageTemplate receives the modality label.
type Config struct {
	MessageTemplate string
	FallbackLabel   string
	CancelLabel     string
}

// DefaultConfig mirrors the wording of the restore prompt.
func DefaultConfig() Config {
	return Config{
		MessageTemplate: "Unlock with %s",
		FallbackLabel:   "Use Password",
		CancelLabel:     "Cancel",
	}
}

// Gate serialises prompts: concurrent Attempt calls share the in-flight
// prompt and all receive its outcome.
type Gate struct {
	hw       Hardware
	cfg      Config
	log      *zap.Logger
	group    singleflight.Group
	inFlight atomic.Bool

	mu      sync.Mutex
	waiters int
	prompt  context.Context
	cancel  context.CancelFunc
}

// NewGate wraps hw. Empty Config fields fall back to DefaultConfig.
func NewGate(hw Hardware, cfg Config, log *zap.Logger) *Gate {
	def := DefaultConfig()
	if cfg.MessageTemplate == "" {
		cfg.MessageTemplate = def.MessageTemplate
	}
	if cfg.FallbackLabel == "" {
		cfg.FallbackLabel = def.FallbackLabel
	}
	if cfg.CancelLabel == "" {
		cfg.CancelLabel = def.CancelLabel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{hw: hw, cfg: cfg, log: log}
}

// InFlight reports whether a prompt is currently shown.
func (g *Gate) InFlight() bool {
	return g.inFlight.Load()
}

// Attempt runs the hardware checks and the prompt, or joins the prompt that
// is already running.
//
// The prompt runs on a context detached from any single caller. A caller
// whose ctx ends stops waiting and gets UserCanceled while the others keep
// waiting; the prompt itself is canceled once no caller is left.
func (g *Gate) Attempt(ctx context.Context) Outcome {
	pctx := g.join(ctx)
	ch := g.group.DoChan("prompt", func() (interface{}, error) {
		g.inFlight.Store(true)
		defer g.inFlight.Store(false)
		return g.attempt(pctx), nil
	})

	select {
	case r := <-ch:
		g.leave()
		outcome := r.Val.(Outcome)
		if r.Shared {
			g.log.Debug("biometric prompt joined in-flight attempt", zap.Stringer("outcome", outcome))
		}
		return outcome
	case <-ctx.Done():
		g.leave()
		g.log.Debug("biometric wait abandoned", zap.Error(ctx.Err()))
		return UserCanceled
	}
}

// join registers a waiter and returns the context the prompt runs on.
func (g *Gate) join(ctx context.Context) context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiters == 0 {
		g.prompt, g.cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	g.waiters++
	return g.prompt
}

func (g *Gate) leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waiters--
	if g.waiters == 0 {
		g.cancel()
		g.prompt, g.cancel = nil, nil
	}
}

func (g *Gate) attempt(ctx context.Context) Outcome {
	if g.hw == nil {
		return FallbackRequested
	}

	has, err := g.hw.HasHardware(ctx)
	if err != nil {
		g.log.Warn("biometric hardware check failed", zap.Error(err))
		return UserCanceled
	}
	if !has {
		return FallbackRequested
	}

	enrolled, err := g.hw.IsEnrolled(ctx)
	if err != nil {
		g.log.Warn("biometric enrollment check failed", zap.Error(err))
		return UserCanceled
	}
	if !enrolled {
		return FallbackRequested
	}

	label := "Biometric"
	if types, err := g.hw.SupportedTypes(ctx); err == nil {
		label = Label(types)
	}

	res, err := g.hw.Authenticate(ctx, Prompt{
		Message:       fmt.Sprintf(g.cfg.MessageTemplate, label),
		FallbackLabel: g.cfg.FallbackLabel,
		CancelLabel:   g.cfg.CancelLabel,
	})
	if err != nil {
		g.log.Warn("biometric prompt failed", zap.Error(err))
		return UserCanceled
	}
	switch {
	case res.Success:
		return Success
	case res.Error == ErrorUserFallback:
		return FallbackRequested
	default:
		return UserCanceled
	}
}

// Label picks the user-facing modality name, preferring face over
// fingerprint over iris.
func Label(types []Type) string {
	has := func(want Type) bool {
		for _, t := range types {
			if t == want {
				return true
			}
		}
		return false
	}
	switch {
	case has(TypeFacialRecognition):
		return "Face ID"
	case has(TypeFingerprint):
		return "Fingerprint"
	case has(TypeIris):
		return "Iris"
	}
	return "Biometric"
}
