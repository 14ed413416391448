// Package prometheus renders sessionwatch monitor metrics in the Prometheus
// text exposition format.
//
// Counters are named sessionwatch_*_total. The single histogram is
// sessionwatch_check_latency_seconds. When the source also reports its
// state, sessionwatch_monitor_active is exposed as a 0/1 gauge.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount Handler.
//   - Mutate monitor state.
package prometheus
