package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/applock"
	"github.com/MrEthical07/applock/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() applock.MetricsSnapshot
	AuditDropped() uint64
}

// stateSource is implemented by *applock.Controller. Sources without it
// publish no state gauges.
type stateSource interface {
	State() applock.Snapshot
}

type histogramInstruments struct {
	id      applock.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes controller metrics through observable instruments.
type OTelExporter struct {
	source       metricsSource
	state        stateSource
	registration metric.Registration

	counters     map[applock.MetricID]metric.Int64ObservableCounter
	histograms   []histogramInstruments
	gauges       []metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read from c.
func NewOTelExporter(meter metric.Meter, c *applock.Controller) (*OTelExporter, error) {
	if c == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, c)
}

// NewOTelExporterFromSource registers instruments reading from source. One
// callback serves every instrument per collection.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:   source,
		counters: make(map[applock.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	e.state, _ = source.(stateSource)

	observables, err := e.createInstruments(meter)
	if err != nil {
		return nil, err
	}
	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) createInstruments(meter metric.Meter) ([]metric.Observable, error) {
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = ins
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := histogramInstruments{id: def.ID}
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return nil, fmt.Errorf("create bucket gauge %s: %w", name, err)
			}
			h.buckets[i] = ins
			observables = append(observables, ins)
		}
		ins, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription("Histogram sample count."))
		if err != nil {
			return nil, fmt.Errorf("create count gauge %s: %w", def.Name, err)
		}
		h.count = ins
		observables = append(observables, ins)
		e.histograms = append(e.histograms, h)
	}

	if e.state != nil {
		for _, def := range internaldefs.GaugeDefs {
			ins, err := meter.Int64ObservableGauge(def.Name, metric.WithDescription(def.Help))
			if err != nil {
				return nil, fmt.Errorf("create gauge %s: %w", def.Name, err)
			}
			e.gauges = append(e.gauges, ins)
			observables = append(observables, ins)
		}
	}

	dropped, err := meter.Int64ObservableCounter(
		"applock_audit_dropped_total",
		metric.WithDescription("Dropped audit events due to dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = dropped
	return append(observables, dropped), nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for id, ins := range e.counters {
		o.ObserveInt64(ins, int64(snapshot.Counters[id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, v := range cumulative {
			o.ObserveInt64(h.buckets[i], int64(v))
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	if e.state != nil {
		s := e.state.State()
		for i, def := range internaldefs.GaugeDefs {
			o.ObserveInt64(e.gauges[i], def.Value(s))
		}
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
