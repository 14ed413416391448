package sessionwatch

import (
	"strings"
	"time"
)

const (
	// DefaultInterval is the recheck period: 1,800,000 ms.
	DefaultInterval = 30 * time.Minute
	// DefaultRedirectPath is the authentication entry point.
	DefaultRedirectPath = "/auth"
	// MinInterval guards against accidental hot polling of the status endpoint.
	MinInterval = time.Second
)

// Config holds the tunables of a [Monitor].
//
// Config values are copied by [Builder.WithConfig]; later mutation has no effect.
type Config struct {
	Monitor MonitorConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

/*
====================================
MONITOR CONFIG
====================================
*/

// MonitorConfig controls scheduling and the redirect decision.
type MonitorConfig struct {
	Interval      time.Duration
	RedirectPath  string
	FailurePolicy FailurePolicy
	// CheckTimeout bounds one Checker call. Zero leaves the deadline to the checker.
	CheckTimeout time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles counters and the check latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a 30 minute, fail-closed monitor configuration with
// metrics on and audit off.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Monitor: MonitorConfig{
			Interval:      DefaultInterval,
			RedirectPath:  DefaultRedirectPath,
			FailurePolicy: FailClosed,
			CheckTimeout:  10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 64,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Monitor.Interval < MinInterval {
		return ErrInvalidInterval
	}
	if !strings.HasPrefix(c.Monitor.RedirectPath, "/") {
		return ErrInvalidRedirectPath
	}
	switch c.Monitor.FailurePolicy {
	case FailClosed, FailOpen:
	default:
		return ErrInvalidFailurePolicy
	}
	if c.Monitor.CheckTimeout < 0 {
		return ErrInvalidCheckTimeout
	}
	return nil
}
