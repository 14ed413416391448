package internaldefs

import (
	"github.com/AndreiTuhkru/sessionwatch"
)

type CounterDef struct {
	ID   sessionwatch.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   sessionwatch.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "sessionwatch_audit_dropped_total"

// MonitorActiveName is the 0/1 gauge of the monitor state.
const MonitorActiveName = "sessionwatch_monitor_active"

var CounterDefs = []CounterDef{
	{ID: sessionwatch.MetricCheckAuthenticated, Name: "sessionwatch_check_authenticated_total", Help: "Session checks that confirmed an authenticated session."},
	{ID: sessionwatch.MetricCheckUnauthenticated, Name: "sessionwatch_check_unauthenticated_total", Help: "Session checks that found no authenticated session."},
	{ID: sessionwatch.MetricCheckFailed, Name: "sessionwatch_check_failed_total", Help: "Session checks that failed before producing a status."},
	{ID: sessionwatch.MetricCheckSkipped, Name: "sessionwatch_check_skipped_total", Help: "Activations skipped while a check was in flight."},
	{ID: sessionwatch.MetricRedirect, Name: "sessionwatch_redirect_total", Help: "Redirects to the authentication entry point."},
	{ID: sessionwatch.MetricRedirectSuppressed, Name: "sessionwatch_redirect_suppressed_total", Help: "Redirects dropped because the monitor was stopped."},
	{ID: sessionwatch.MetricMonitorStarted, Name: "sessionwatch_monitor_started_total", Help: "Monitor starts."},
	{ID: sessionwatch.MetricMonitorStopped, Name: "sessionwatch_monitor_stopped_total", Help: "Monitor stops."},
}

var HistogramDefs = []HistogramDef{
	{ID: sessionwatch.MetricCheckLatency, Name: "sessionwatch_check_latency_seconds", Help: "Session check round-trip latency."},
}

// HistogramBounds match the monitor bucket layout, in seconds.
var HistogramBounds = []string{
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"+Inf",
}

// HistogramBoundSuffix names each bucket where a label value cannot be used.
var HistogramBoundSuffix = []string{
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"inf",
}

func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the running totals that
// exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
