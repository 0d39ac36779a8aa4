package applock

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("expected empty snapshot when disabled")
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLock)
	m.Inc(MetricLock)
	m.Inc(MetricLock)

	if got := m.Value(MetricLock); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsNilIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLock)
	m.Observe(MetricProfileFetchLatency, time.Second)
	if m.Value(MetricLock) != 0 {
		t.Fatal("expected nil metrics to read zero")
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricUnlockSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricUnlockSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		20 * time.Millisecond,
		50 * time.Millisecond,
		80 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		900 * time.Millisecond,
		2 * time.Second,
		4 * time.Second,
		9 * time.Second,
	}
	for _, d := range observations {
		m.Observe(MetricProfileFetchLatency, d)
	}
	// Only the profile fetch carries a histogram.
	m.Observe(MetricLock, time.Second)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricProfileFetchLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	want := []uint64{2, 1, 1, 1, 1, 1, 1, 1}
	for i := range want {
		if buckets[i] != want[i] {
			t.Fatalf("bucket %d: expected %d, got %d", i, want[i], buckets[i])
		}
	}
	if _, ok := snap.Histograms[MetricLock]; ok {
		t.Fatal("expected no histogram for counters")
	}
}

func TestMetricsHistogramDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricProfileFetchLatency, time.Second)
	if _, ok := m.Snapshot().Histograms[MetricProfileFetchLatency]; ok {
		t.Fatal("expected no histogram when latency is disabled")
	}
}
