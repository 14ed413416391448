package sessionwatch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
)

// Monitor periodically verifies that the current session is authenticated and
// redirects to the authentication entry point when it is not.
//
// A Monitor is Idle until [Monitor.Start] and returns to Idle on
// [Monitor.Stop], when the Start context ends, or through the [StopFunc] of
// the run. It may be started again afterwards.
type Monitor struct {
	cfg        Config
	checker    Checker
	redirector Redirector
	logger     *log.Logger
	clock      clockwork.Clock
	metrics    *Metrics
	audit      *auditDispatcher

	mu     sync.Mutex // protects state, epoch, cancel, done
	state  State
	epoch  uint64 // incremented on every Start; 0 is never a run
	cancel context.CancelFunc
	done   chan struct{} // closed when the loop of the latest run exits

	// inFlight holds the guard token of the check in flight, 0 when none.
	inFlight atomic.Uint64
}

// manualToken marks a guard held by Activate rather than by a run.
const manualToken = ^uint64(0)

// Start performs one check immediately and schedules another every
// Config.Monitor.Interval. The returned StopFunc cancels only this run.
//
// Start returns ErrAlreadyActive when a run is already scheduled.
func (m *Monitor) Start(ctx context.Context) (StopFunc, error) {
	epoch, _, err := m.start(ctx)
	if err != nil {
		return nil, err
	}
	return func() { m.stopEpoch(epoch) }, nil
}

func (m *Monitor) start(ctx context.Context) (uint64, <-chan struct{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateActive {
		return 0, nil, ErrAlreadyActive
	}

	m.epoch++
	epoch := m.epoch
	runCtx, cancel := context.WithCancel(ctx)
	// The ticker exists before Start returns, so time advanced right after
	// Start is never lost.
	ticker := m.clock.NewTicker(m.cfg.Monitor.Interval)
	done := make(chan struct{})

	m.state = StateActive
	m.cancel = cancel
	m.done = done

	m.metrics.Inc(MetricMonitorStarted)
	m.logger.Debug("session monitor started", "epoch", epoch, "interval", m.cfg.Monitor.Interval)

	go m.loop(runCtx, epoch, ticker, done)

	return epoch, done, nil
}

func (m *Monitor) loop(ctx context.Context, epoch uint64, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	m.activate(ctx, epoch)

	for {
		select {
		case <-ctx.Done():
			m.stopEpoch(epoch)
			return
		case <-ticker.Chan():
			// select picks randomly when both are ready
			if ctx.Err() != nil {
				m.stopEpoch(epoch)
				return
			}
			m.activate(ctx, epoch)
		}
	}
}

// Stop cancels the current run. It is idempotent, a no-op while Idle, and
// does not block, so it may be called from inside a Redirector.
func (m *Monitor) Stop() {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	m.stopEpoch(epoch)
}

func (m *Monitor) stopEpoch(epoch uint64) {
	m.mu.Lock()
	if m.state != StateActive || m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	m.state = StateIdle
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.metrics.Inc(MetricMonitorStopped)
	m.logger.Debug("session monitor stopped", "epoch", epoch)
}

// Wait blocks until the loop goroutine of the latest run has exited. It must
// not be called from a Checker or Redirector.
func (m *Monitor) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Run starts the monitor and blocks until ctx ends or the run is stopped.
// It returns ctx.Err() when ctx ended the run and nil otherwise.
func (m *Monitor) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	epoch, done, err := m.start(ctx)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		m.stopEpoch(epoch)
		<-done
		return ctx.Err()
	case <-done:
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	}
}

// State reports whether a run is scheduled.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Activate runs one check outside the schedule. Its redirect is never
// suppressed by Stop.
func (m *Monitor) Activate(ctx context.Context) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	return m.activate(ctx, 0)
}

func (m *Monitor) activate(ctx context.Context, epoch uint64) Outcome {
	token, ok := m.acquire(epoch)
	if !ok {
		m.metrics.Inc(MetricCheckSkipped)
		m.logger.Debug("session check skipped, previous check still in flight", "epoch", epoch)
		return OutcomeSkipped
	}
	// a newer run may have taken the guard over
	defer m.inFlight.CompareAndSwap(token, 0)

	checkCtx := ctx
	if m.cfg.Monitor.CheckTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, m.cfg.Monitor.CheckTimeout)
		defer cancel()
	}

	started := m.clock.Now()
	status, err := m.checker.Check(checkCtx)
	m.metrics.Observe(MetricCheckLatency, m.clock.Since(started))

	outcome := OutcomeAuthenticated
	switch {
	case err != nil:
		outcome = OutcomeCheckFailed
	case !status.IsAuthenticated:
		outcome = OutcomeUnauthenticated
	}

	wantsRedirect := outcome == OutcomeUnauthenticated ||
		(outcome == OutcomeCheckFailed && m.cfg.Monitor.FailurePolicy == FailClosed)

	if epoch != 0 && !m.current(epoch) {
		if !wantsRedirect {
			return outcome
		}
		m.metrics.Inc(MetricRedirectSuppressed)
		m.logger.Debug("session check finished after stop, redirect suppressed", "epoch", epoch, "outcome", outcome)
		m.emit(AuditEventRedirectSuppressed, OutcomeSuppressed, epoch, err)
		return OutcomeSuppressed
	}

	switch outcome {
	case OutcomeCheckFailed:
		m.metrics.Inc(MetricCheckFailed)
		m.logger.Warn("session check failed", "err", err, "policy", m.cfg.Monitor.FailurePolicy)
	case OutcomeUnauthenticated:
		m.metrics.Inc(MetricCheckUnauthenticated)
	default:
		m.metrics.Inc(MetricCheckAuthenticated)
	}
	m.emit(AuditEventCheck, outcome, epoch, err)

	if !wantsRedirect {
		return outcome
	}

	path := m.cfg.Monitor.RedirectPath
	m.metrics.Inc(MetricRedirect)
	m.logger.Info("session not authenticated, redirecting", "path", path, "outcome", outcome)
	m.redirector.Redirect(ctx, path)
	m.emit(AuditEventRedirect, outcome, epoch, err)

	return outcome
}

// acquire takes the in-flight guard for epoch. A current run takes over a
// guard still held by a check of an ended run, whose redirect is suppressed
// anyway.
func (m *Monitor) acquire(epoch uint64) (uint64, bool) {
	token := manualToken
	if epoch != 0 {
		token = epoch
	}
	for {
		held := m.inFlight.Load()
		switch {
		case held == 0:
			if m.inFlight.CompareAndSwap(0, token) {
				return token, true
			}
		case epoch != 0 && held != manualToken && held < epoch && m.current(epoch):
			if m.inFlight.CompareAndSwap(held, token) {
				return token, true
			}
		default:
			return 0, false
		}
	}
}

func (m *Monitor) current(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateActive && m.epoch == epoch
}

func (m *Monitor) emit(eventType string, outcome Outcome, epoch uint64, err error) {
	if m.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp: m.clock.Now(),
		EventType: eventType,
		Outcome:   outcome.String(),
		Epoch:     epoch,
	}
	if eventType != AuditEventCheck {
		event.Path = m.cfg.Monitor.RedirectPath
	}
	if err != nil {
		event.Error = err.Error()
	}
	m.audit.Emit(context.Background(), event)
}

// Close stops the monitor and flushes pending audit events.
func (m *Monitor) Close() {
	m.Stop()
	m.audit.Close()
}

// Config returns a copy of the monitor configuration.
func (m *Monitor) Config() Config {
	return m.cfg
}

// MetricsSnapshot returns a copy of every counter and histogram.
func (m *Monitor) MetricsSnapshot() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (m *Monitor) AuditDropped() uint64 {
	return m.audit.Dropped()
}
