package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/AndreiTuhkru/sessionwatch"
	"github.com/AndreiTuhkru/sessionwatch/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() sessionwatch.MetricsSnapshot
	AuditDropped() uint64
}

type stateSource interface {
	State() sessionwatch.State
}

// Exporter renders a monitor's metrics on every scrape.
type Exporter struct {
	source metricsSource
}

// NewExporter reads from m.
func NewExporter(m *sessionwatch.Monitor) *Exporter {
	return &Exporter{source: m}
}

// NewExporterFromSource reads from any snapshot source.
func NewExporterFromSource(source metricsSource) *Exporter {
	return &Exporter{source: source}
}

func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics, or "" when metrics are disabled.
func (p *Exporter) Render() string {
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
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		writeHistogram(&b, def.Name, def.Help, cumulative, snapshot.HistogramSums[def.ID].Seconds())
	}

	writeCounter(&b, internaldefs.AuditDroppedName, "Audit events dropped under dispatcher backpressure.", dropped)

	if s, ok := p.source.(stateSource); ok {
		var active uint64
		if s.State() == sessionwatch.StateActive {
			active = 1
		}
		writeHeader(&b, internaldefs.MonitorActiveName, "Whether the monitor has a scheduled run.", "gauge")
		writeSample(&b, internaldefs.MonitorActiveName, strconv.FormatUint(active, 10))
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeSample(b *strings.Builder, series, value string) {
	b.WriteString(series)
	b.WriteByte(' ')
	b.WriteString(value)
	b.WriteByte('\n')
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	writeHeader(b, name, help, "counter")
	writeSample(b, name, strconv.FormatUint(value, 10))
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64, sumSeconds float64) {
	writeHeader(b, name, help, "histogram")

	for i, le := range internaldefs.HistogramBounds {
		writeSample(b, name+`_bucket{le="`+le+`"}`, strconv.FormatUint(cumulative[i], 10))
	}
	writeSample(b, name+"_sum", strconv.FormatFloat(sumSeconds, 'g', -1, 64))
	writeSample(b, name+"_count", strconv.FormatUint(cumulative[len(cumulative)-1], 10))
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
