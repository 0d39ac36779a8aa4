package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/applock"
	"github.com/MrEthical07/applock/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() applock.MetricsSnapshot
	AuditDropped() uint64
}

// stateSource is implemented by *applock.Controller.
type stateSource interface {
	State() applock.Snapshot
}

// PrometheusExporter renders controller metrics in Prometheus text format.
type PrometheusExporter struct {
	source metricsSource
	state  stateSource
}

// NewPrometheusExporter reads counters and state gauges from c.
func NewPrometheusExporter(c *applock.Controller) *PrometheusExporter {
	return &PrometheusExporter{source: c, state: c}
}

// NewPrometheusExporterFromSource reads counters from source. State gauges
// are rendered only when source also reports a snapshot.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	p := &PrometheusExporter{source: source}
	p.state, _ = source.(stateSource)
	return p
}

// Handler serves Render.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics, or "" when metrics are disabled.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		writeSample(&b, def.Name, def.Help, "counter", strconv.FormatUint(snapshot.Counters[def.ID], 10))
	}
	writeSample(&b, "applock_audit_dropped_total", "Dropped audit events due to dispatcher backpressure.",
		"counter", strconv.FormatUint(dropped, 10))

	for _, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		writeHistogram(&b, def.Name, def.Help, cumulative)
	}

	if p.state != nil {
		s := p.state.State()
		for _, def := range internaldefs.GaugeDefs {
			writeSample(&b, def.Name, def.Help, "gauge", strconv.FormatInt(def.Value(s), 10))
		}
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	b.WriteString("# TYPE " + name + " " + kind + "\n")
}

func writeSample(b *strings.Builder, name, help, kind, value string) {
	writeHeader(b, name, help, kind)
	b.WriteString(name + " " + value + "\n")
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	writeHeader(b, name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		b.WriteString(name + `_bucket{le="` + le + `"} ` + strconv.FormatUint(cumulative[i], 10) + "\n")
	}
	b.WriteString(name + "_count " + strconv.FormatUint(cumulative[len(cumulative)-1], 10) + "\n")
	// Snapshots carry no sum.
	b.WriteString(name + "_sum 0\n")
}

func escapeHelp(help string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
}
