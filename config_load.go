package applock

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. APPLOCK_IDLE_TIMEOUT=30s.
const EnvPrefix = "APPLOCK"

// LoadConfig reads path (any format viper understands, typically YAML) over
// DefaultConfig, applies APPLOCK_* environment overrides and validates the
// result. An empty path loads defaults and the environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, defaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to bind config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("idle.timeout", d.Idle.Timeout)

	v.SetDefault("network.poll_interval", d.Network.PollInterval)
	v.SetDefault("network.settle_window", d.Network.SettleWindow)
	v.SetDefault("network.probe_timeout", d.Network.ProbeTimeout)
	v.SetDefault("network.probe_url", d.Network.ProbeURL)

	v.SetDefault("biometric.message_template", d.Biometric.MessageTemplate)
	v.SetDefault("biometric.fallback_label", d.Biometric.FallbackLabel)
	v.SetDefault("biometric.cancel_label", d.Biometric.CancelLabel)

	v.SetDefault("roles.privileged_usernames", d.Roles.PrivilegedUsernames)

	v.SetDefault("routes.login", string(d.Routes.Login))
	v.SetDefault("routes.main", string(d.Routes.Main))

	v.SetDefault("storage.prefix", d.Storage.Prefix)

	v.SetDefault("password.hash_stored_password", d.Password.HashStoredPassword)
	v.SetDefault("password.memory", d.Password.Memory)
	v.SetDefault("password.time", d.Password.Time)
	v.SetDefault("password.parallelism", d.Password.Parallelism)
	v.SetDefault("password.salt_length", d.Password.SaltLength)
	v.SetDefault("password.key_length", d.Password.KeyLength)

	v.SetDefault("cache.stale_time", d.Cache.StaleTime)
	v.SetDefault("cache.max_age", d.Cache.MaxAge)
	v.SetDefault("cache.retries", d.Cache.Retries)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", d.Audit.DropIfFull)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", d.Metrics.EnableLatencyHistograms)
}

// IsConfigNotFound reports whether err came from a missing config file.
func IsConfigNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, fs.ErrNotExist)
}
