package applock

import (
	"context"
	"errors"
)

var (
	// ErrUnauthorized means the backend rejected the credential (HTTP 401).
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNetwork covers transport failures and the offline short-circuit.
	ErrNetwork = errors.New("network unavailable")
	// ErrServer covers every other non-success backend answer.
	ErrServer = errors.New("server error")
	// ErrMissingCredentials is returned by Login for an empty username or password.
	ErrMissingCredentials = errors.New("username and password are required")
	// ErrLoginFailed wraps the cause of a rejected explicit login.
	ErrLoginFailed = errors.New("invalid credentials or no internet connection")
	// ErrLoginInProgress is returned while another Login call is running.
	ErrLoginInProgress = errors.New("login already in progress")
	// ErrNotStarted is returned before Start has run.
	ErrNotStarted = errors.New("controller not started")
	// ErrAlreadyAuthenticated is returned by Login while a session is live.
	ErrAlreadyAuthenticated = errors.New("session already authenticated")
	// ErrRestoreInProgress is returned by Login while a stored session is being restored.
	ErrRestoreInProgress = errors.New("stored session restore in progress")
	// ErrNotLocked is returned by Unlock when the controller is not locked.
	ErrNotLocked = errors.New("controller not locked")
	// ErrNotPending is returned by the biometric prompt actions outside BiometricPending.
	ErrNotPending = errors.New("no biometric prompt pending")
	// ErrStaleResult means an asynchronous result arrived after the state that
	// requested it changed, and was discarded.
	ErrStaleResult = errors.New("stale result discarded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
	// ErrInvalidThemeMode is returned by SetThemeMode for values other than light and dark.
	ErrInvalidThemeMode = errors.New("theme mode must be light or dark")
)

// ClassifyError maps err onto the session error taxonomy: ErrUnauthorized,
// ErrNetwork or ErrServer. It returns nil for nil.
func ClassifyError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnauthorized):
		return ErrUnauthorized
	case errors.Is(err, ErrNetwork),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ErrNetwork
	default:
		return ErrServer
	}
}
