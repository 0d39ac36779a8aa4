// Package lifecycle names the foreground/background transitions a mobile
// host reports to the session controller.
package lifecycle

import (
	"fmt"
	"strings"
)

// State is an application lifecycle state.
type State string

const (
	Active     State = "active"
	Background State = "background"
	Inactive   State = "inactive"
)

// Parse converts a host-reported state name.
func Parse(s string) (State, error) {
	switch State(strings.ToLower(strings.TrimSpace(s))) {
	case Active:
		return Active, nil
	case Background:
		return Background, nil
	case Inactive:
		return Inactive, nil
	}
	return "", fmt.Errorf("unknown lifecycle state %q", s)
}

// Leaving reports whether the app is moving away from the foreground.
func (s State) Leaving() bool {
	return s == Background || s == Inactive
}
