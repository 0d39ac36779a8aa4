package applock

import (
	"context"
	"strings"
	"time"
)

// Role is the privilege class derived from the username.
type Role string

const (
	RoleStandard   Role = "standard"
	RoleSuperAdmin Role = "superAdmin"
)

// DeriveRole returns RoleSuperAdmin when username matches one of privileged
// case-insensitively, RoleStandard otherwise.
func DeriveRole(username string, privileged []string) Role {
	if username == "" {
		return RoleStandard
	}
	for _, p := range privileged {
		if strings.EqualFold(username, p) {
			return RoleSuperAdmin
		}
	}
	return RoleStandard
}

// Profile is the user profile as returned by the backend. The controller
// stores and forwards it without interpreting it.
type Profile []byte

// Session is the in-memory authenticated identity.
type Session struct {
	Token          string
	Username       string
	Role           Role
	Profile        Profile
	Authenticated  bool
	TokenExpiresAt time.Time
}

// LoginResult is what the login capability returns.
type LoginResult struct {
	Token    string
	Username string
	Profile  Profile
}

// AuthClient is the network login and profile capability. Errors should be
// classifiable with ClassifyError.
type AuthClient interface {
	Login(ctx context.Context, username, password string) (LoginResult, error)
	FetchProfile(ctx context.Context, token string) (Profile, error)
}

// Navigator performs route replacements requested by the controller.
type Navigator interface {
	Navigate(route Route)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route Route)

func (f NavigatorFunc) Navigate(route Route) { f(route) }

// DataCache is the query layer dropped on logout.
type DataCache interface {
	Clear(ctx context.Context) error
}

// Phase is the controller state.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseBiometricPending
	PhaseRestoring
	PhaseUnlocked
	PhaseLocked
	PhaseLoggedOut
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseBiometricPending:
		return "biometric_pending"
	case PhaseRestoring:
		return "restoring"
	case PhaseUnlocked:
		return "unlocked"
	case PhaseLocked:
		return "locked"
	case PhaseLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// LockState is the user-facing gate derived from the phase.
type LockState int

const (
	Unlocked LockState = iota
	Locked
	BiometricPending
)

func (s LockState) String() string {
	switch s {
	case Locked:
		return "locked"
	case BiometricPending:
		return "biometric_pending"
	default:
		return "unlocked"
	}
}

// LockState maps the phase onto the three lock states.
func (p Phase) LockState() LockState {
	switch p {
	case PhaseLocked:
		return Locked
	case PhaseBiometricPending:
		return BiometricPending
	default:
		return Unlocked
	}
}

// Route is an application route such as "/login".
type Route string

// NavInput is everything navigation depends on.
type NavInput struct {
	Authenticated    bool
	Route            Route
	Loading          bool
	BiometricPending bool
	Locked           bool
	LoginRoute       Route
	MainRoute        Route
}

// DeriveNavigation returns the route to replace the current one with, if any.
// It never navigates while loading, while the biometric prompt is visible or
// while locked.
func DeriveNavigation(in NavInput) (Route, bool) {
	if in.Loading || in.BiometricPending || in.Locked {
		return "", false
	}
	onLogin := in.Route == in.LoginRoute
	if !in.Authenticated && !onLogin {
		return in.LoginRoute, true
	}
	if in.Authenticated && (onLogin || in.Route == "") {
		return in.MainRoute, true
	}
	return "", false
}

// Snapshot is a consistent copy of the controller state. Version increases
// with every change, so subscribers can discard out-of-order deliveries.
type Snapshot struct {
	Version          uint64
	Phase            Phase
	Lock             LockState
	Authenticated    bool
	Username         string
	Role             Role
	Profile          Profile
	TokenExpiresAt   time.Time
	PendingUsername  string
	HasStoredSession bool
	Route            Route
	Loading          bool
	PromptVisible    bool
	Offline          bool
}
