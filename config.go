package applock

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/applock/biometric"
	"github.com/MrEthical07/applock/idle"
	"github.com/MrEthical07/applock/netstatus"
	"github.com/MrEthical07/applock/password"
	"github.com/MrEthical07/applock/querycache"
)

// Config is the controller configuration. Start from DefaultConfig and
// override fields; LoadConfig does that from a file and the environment.
type Config struct {
	Idle      IdleConfig      `mapstructure:"idle"`
	Network   NetworkConfig   `mapstructure:"network"`
	Biometric BiometricConfig `mapstructure:"biometric"`
	Roles     RolesConfig     `mapstructure:"roles"`
	Routes    RoutesConfig    `mapstructure:"routes"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Password  PasswordConfig  `mapstructure:"password"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

/*
====================================
SESSION GATING
====================================
*/

// IdleConfig controls the inactivity lock.
type IdleConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// NetworkConfig controls the reachability monitor. ProbeURL enables the
// HEAD probe; without it only pushed connectivity events apply.
type NetworkConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SettleWindow time.Duration `mapstructure:"settle_window"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	ProbeURL     string        `mapstructure:"probe_url"`
}

// BiometricConfig holds the prompt wording.
type BiometricConfig struct {
	MessageTemplate string `mapstructure:"message_template"`
	FallbackLabel   string `mapstructure:"fallback_label"`
	CancelLabel     string `mapstructure:"cancel_label"`
}

// RolesConfig lists usernames granted RoleSuperAdmin.
type RolesConfig struct {
	PrivilegedUsernames []string `mapstructure:"privileged_usernames"`
}

// RoutesConfig names the two routes navigation derives.
type RoutesConfig struct {
	Login Route `mapstructure:"login"`
	Main  Route `mapstructure:"main"`
}

/*
====================================
PERSISTENCE
====================================
*/

// StorageConfig namespaces the persisted keys.
type StorageConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// PasswordConfig controls hashing of the stored offline-fallback password.
// With HashStoredPassword false the password is stored as given.
type PasswordConfig struct {
	HashStoredPassword bool   `mapstructure:"hash_stored_password"`
	Memory             uint32 `mapstructure:"memory"` // in KB
	Time               uint32 `mapstructure:"time"`
	Parallelism        uint8  `mapstructure:"parallelism"`
	SaltLength         uint32 `mapstructure:"salt_length"`
	KeyLength          uint32 `mapstructure:"key_length"`
}

// CacheConfig configures the query cache built by NewQueryCache.
type CacheConfig struct {
	StaleTime time.Duration `mapstructure:"stale_time"`
	MaxAge    time.Duration `mapstructure:"max_age"`
	Retries   uint64        `mapstructure:"retries"`
}

/*
====================================
OBSERVABILITY
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	nc := netstatus.DefaultConfig()
	bc := biometric.DefaultConfig()
	pc := password.DefaultConfig()
	qc := querycache.DefaultConfig()
	return Config{
		Idle: IdleConfig{Timeout: idle.DefaultTimeout},
		Network: NetworkConfig{
			PollInterval: nc.PollInterval,
			SettleWindow: nc.SettleWindow,
			ProbeTimeout: nc.ProbeTimeout,
		},
		Biometric: BiometricConfig{
			MessageTemplate: bc.MessageTemplate,
			FallbackLabel:   bc.FallbackLabel,
			CancelLabel:     bc.CancelLabel,
		},
		Roles: RolesConfig{
			PrivilegedUsernames: []string{"emilys", "superadmin", "admin"},
		},
		Routes: RoutesConfig{
			Login: "/login",
			Main:  "/products",
		},
		Password: PasswordConfig{
			HashStoredPassword: true,
			Memory:             pc.Memory,
			Time:               pc.Time,
			Parallelism:        pc.Parallelism,
			SaltLength:         pc.SaltLength,
			KeyLength:          pc.KeyLength,
		},
		Cache: CacheConfig{
			StaleTime: qc.StaleTime,
			MaxAge:    qc.MaxAge,
			Retries:   qc.Retries,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Roles.PrivilegedUsernames = append([]string(nil), cfg.Roles.PrivilegedUsernames...)
	return out
}

func (c *Config) passwordConfig() password.Config {
	return password.Config{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}
}

func (c *Config) netstatusConfig() netstatus.Config {
	return netstatus.Config{
		PollInterval: c.Network.PollInterval,
		SettleWindow: c.Network.SettleWindow,
		ProbeTimeout: c.Network.ProbeTimeout,
	}
}

func (c *Config) biometricConfig() biometric.Config {
	return biometric.Config{
		MessageTemplate: c.Biometric.MessageTemplate,
		FallbackLabel:   c.Biometric.FallbackLabel,
		CancelLabel:     c.Biometric.CancelLabel,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	// Idle
	if c.Idle.Timeout <= 0 {
		return errors.New("Idle Timeout must be > 0")
	}

	// Network
	if c.Network.PollInterval < 0 {
		return errors.New("Network PollInterval must be >= 0")
	}
	if c.Network.SettleWindow < 0 {
		return errors.New("Network SettleWindow must be >= 0")
	}
	if c.Network.ProbeTimeout <= 0 {
		return errors.New("Network ProbeTimeout must be > 0")
	}
	if c.Network.ProbeURL != "" &&
		!strings.HasPrefix(c.Network.ProbeURL, "http://") &&
		!strings.HasPrefix(c.Network.ProbeURL, "https://") {
		return errors.New("Network ProbeURL must be an http(s) URL")
	}

	// Biometric
	if c.Biometric.MessageTemplate != "" && strings.Count(c.Biometric.MessageTemplate, "%s") != 1 {
		return errors.New("Biometric MessageTemplate must contain exactly one %s")
	}

	// Roles
	for _, u := range c.Roles.PrivilegedUsernames {
		if strings.TrimSpace(u) == "" {
			return errors.New("Roles PrivilegedUsernames must not contain empty names")
		}
	}

	// Routes
	if c.Routes.Login == "" || c.Routes.Main == "" {
		return errors.New("Routes Login and Main are required")
	}
	if c.Routes.Login == c.Routes.Main {
		return errors.New("Routes Login and Main must differ")
	}

	// Storage
	if strings.ContainsAny(c.Storage.Prefix, " \t\n") {
		return errors.New("Storage Prefix must not contain whitespace")
	}

	// Password
	if c.Password.HashStoredPassword {
		if err := c.passwordConfig().Validate(); err != nil {
			return err
		}
	}

	// Cache
	if c.Cache.StaleTime < 0 {
		return errors.New("Cache StaleTime must be >= 0")
	}
	if c.Cache.MaxAge <= 0 {
		return errors.New("Cache MaxAge must be > 0")
	}
	if c.Cache.StaleTime > c.Cache.MaxAge {
		return errors.New("Cache StaleTime must be <= MaxAge")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
