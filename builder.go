package sessionwatch

import (
	"os"
	"time"

	"github.com/AndreiTuhkru/sessionwatch/internal/logging"
	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
)

// Builder assembles a [Monitor]. A Builder is single use.
//
//	checker, _ := httpcheck.New(baseURL)
//	m, err := sessionwatch.New().
//		WithChecker(checker).
//		WithRedirector(sessionwatch.RedirectorFunc(navigate)).
//		Build()
type Builder struct {
	config Config

	checker    Checker
	redirector Redirector
	logger     *log.Logger
	clock      clockwork.Clock
	auditSink  AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithChecker sets the session-status capability. Required.
func (b *Builder) WithChecker(c Checker) *Builder {
	b.checker = c
	return b
}

// WithRedirector sets the navigation capability. Required.
func (b *Builder) WithRedirector(r Redirector) *Builder {
	b.redirector = r
	return b
}

func (b *Builder) WithLogger(l *log.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock replaces the wall clock, mainly for tests.
func (b *Builder) WithClock(c clockwork.Clock) *Builder {
	b.clock = c
	return b
}

// WithAuditSink sets the audit destination. It has no effect unless
// Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithInterval(interval time.Duration) *Builder {
	b.config.Monitor.Interval = interval
	return b
}

func (b *Builder) WithFailurePolicy(p FailurePolicy) *Builder {
	b.config.Monitor.FailurePolicy = p
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and returns an idle Monitor.
func (b *Builder) Build() (*Monitor, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	if b.checker == nil {
		return nil, ErrNilChecker
	}
	if b.redirector == nil {
		return nil, ErrNilRedirector
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = logging.New(os.Stderr, logging.Options{Level: "warn", Prefix: "sessionwatch"})
	}
	clock := b.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	b.built = true

	return &Monitor{
		cfg:        cfg,
		checker:    b.checker,
		redirector: b.redirector,
		logger:     logger,
		clock:      clock,
		metrics:    NewMetrics(cfg.Metrics),
		audit:      newAuditDispatcher(cfg.Audit, b.auditSink),
	}, nil
}
