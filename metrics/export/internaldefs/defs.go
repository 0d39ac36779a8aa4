package internaldefs

import (
	"github.com/MrEthical07/applock"
)

// CounterDef names one controller counter.
type CounterDef struct {
	ID   applock.MetricID
	Name string
	Help string
}

// HistogramDef names one controller histogram.
type HistogramDef struct {
	ID   applock.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: applock.MetricStartup, Name: "applock_startup_total", Help: "Startup protocol runs."},
	{ID: applock.MetricStoredSessionFound, Name: "applock_stored_session_found_total", Help: "Startups that found a stored session."},
	{ID: applock.MetricBiometricSuccess, Name: "applock_biometric_success_total", Help: "Successful biometric prompts."},
	{ID: applock.MetricBiometricCanceled, Name: "applock_biometric_canceled_total", Help: "Biometric prompts canceled or failed."},
	{ID: applock.MetricBiometricFallback, Name: "applock_biometric_fallback_total", Help: "Biometric prompts where the user chose the password."},
	{ID: applock.MetricRestoreSuccess, Name: "applock_restore_success_total", Help: "Sessions restored with a fresh profile."},
	{ID: applock.MetricRestoreFromCache, Name: "applock_restore_from_cache_total", Help: "Sessions restored from the cached profile."},
	{ID: applock.MetricRestoreUnauthorized, Name: "applock_restore_unauthorized_total", Help: "Restores rejected by the server."},
	{ID: applock.MetricRestoreFailure, Name: "applock_restore_failure_total", Help: "Restores that ended the session."},
	{ID: applock.MetricLock, Name: "applock_lock_total", Help: "Transitions into the locked state."},
	{ID: applock.MetricUnlockSuccess, Name: "applock_unlock_success_total", Help: "Successful biometric unlocks."},
	{ID: applock.MetricUnlockFailure, Name: "applock_unlock_failure_total", Help: "Unlock attempts that ended the session."},
	{ID: applock.MetricLoginSuccess, Name: "applock_login_success_total", Help: "Successful online logins."},
	{ID: applock.MetricLoginOfflineFallback, Name: "applock_login_offline_fallback_total", Help: "Logins accepted against stored credentials."},
	{ID: applock.MetricLoginFailure, Name: "applock_login_failure_total", Help: "Rejected logins."},
	{ID: applock.MetricLogout, Name: "applock_logout_total", Help: "Explicit logouts."},
	{ID: applock.MetricCredentialsCleared, Name: "applock_credentials_cleared_total", Help: "Stored credential set removals."},
	{ID: applock.MetricStaleResultDiscarded, Name: "applock_stale_result_discarded_total", Help: "Async results dropped because the session changed."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: applock.MetricProfileFetchLatency, Name: "applock_profile_fetch_latency_seconds", Help: "Profile fetch latency histogram."},
}

// HistogramBounds are the upper bounds of the eight buckets, in seconds.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in instrument-name form.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

// GaugeDef names one gauge derived from the controller snapshot.
type GaugeDef struct {
	Name  string
	Help  string
	Value func(applock.Snapshot) int64
}

// GaugeDefs lists the state gauges exported next to the counters.
var GaugeDefs = []GaugeDef{
	{Name: "applock_locked", Help: "1 while the app is locked or awaiting biometrics.", Value: func(s applock.Snapshot) int64 {
		return boolValue(s.Lock != applock.Unlocked)
	}},
	{Name: "applock_authenticated", Help: "1 while a session is live.", Value: func(s applock.Snapshot) int64 {
		return boolValue(s.Authenticated)
	}},
	{Name: "applock_offline", Help: "1 while the network is considered unavailable.", Value: func(s applock.Snapshot) int64 {
		return boolValue(s.Offline)
	}},
	{Name: "applock_phase", Help: "Current controller phase as its numeric value.", Value: func(s applock.Snapshot) int64 {
		return int64(s.Phase)
	}},
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
