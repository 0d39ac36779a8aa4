package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Script is a scenario replayed against one simulated device.
type Script struct {
	Name string `yaml:"name"`
	// Config is an applock config file, relative to the working directory.
	Config string `yaml:"config"`
	// Backend is "mock" for the in-process mock backend, or a base URL.
	Backend string `yaml:"backend"`
	// Store is "memory" or "redis".
	Store     string `yaml:"store"`
	RedisAddr string `yaml:"redis_addr"`
	Steps     []Step `yaml:"steps"`
}

// Step is one scripted action. Only the fields of its action are read.
type Step struct {
	Action string `yaml:"action"`

	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Results  []string `yaml:"results,omitempty"`
	State    string   `yaml:"state,omitempty"`
	Duration string   `yaml:"duration,omitempty"`
	Online   *bool    `yaml:"online,omitempty"`
	Down     *bool    `yaml:"down,omitempty"`
	Route    string   `yaml:"route,omitempty"`
	Path     string   `yaml:"path,omitempty"`
	Theme    string   `yaml:"theme,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect asserts on the snapshot after a step. Empty fields are not checked.
type Expect struct {
	Phase         string `yaml:"phase,omitempty"`
	Route         string `yaml:"route,omitempty"`
	Username      string `yaml:"username,omitempty"`
	Role          string `yaml:"role,omitempty"`
	Authenticated *bool  `yaml:"authenticated,omitempty"`
	Offline       *bool  `yaml:"offline,omitempty"`
	Error         string `yaml:"error,omitempty"`
	Stale         *bool  `yaml:"stale,omitempty"`
}

var knownActions = map[string]bool{
	"start": true, "relaunch": true, "biometric": true, "retry_biometric": true,
	"cancel_biometric": true, "fallback": true, "login": true, "logout": true,
	"unlock": true, "lifecycle": true, "advance": true, "touch": true,
	"route": true, "network": true, "outage": true, "fetch": true,
	"theme": true, "expect": true,
}

// LoadScript reads and checks a YAML script.
func LoadScript(path string) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Script
	if err := yaml.UnmarshalStrict(raw, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if s.Backend == "" {
		s.Backend = "mock"
	}
	if s.Store == "" {
		s.Store = "memory"
	}
	if s.Store != "memory" && s.Store != "redis" {
		return nil, fmt.Errorf("store must be memory or redis, got %q", s.Store)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("%s: no steps", path)
	}
	for i, st := range s.Steps {
		if !knownActions[st.Action] {
			return nil, fmt.Errorf("step %d: unknown action %q", i+1, st.Action)
		}
		if st.Duration != "" {
			if _, err := time.ParseDuration(st.Duration); err != nil {
				return nil, fmt.Errorf("step %d: %w", i+1, err)
			}
		}
	}
	return &s, nil
}
