// Package prometheus renders controller metrics in Prometheus text
// exposition format.
//
// Counters are named applock_*_total. The one histogram is
// applock_profile_fetch_latency_seconds. Nothing is registered globally;
// callers mount Handler where they like.
package prometheus
