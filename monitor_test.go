package sessionwatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AndreiTuhkru/sessionwatch/internal/logging"
	"github.com/jonboulle/clockwork"
)

type checkResult struct {
	status SessionStatus
	err    error
}

// scriptedChecker returns results in order and repeats the last one.
type scriptedChecker struct {
	mu        sync.Mutex
	results   []checkResult
	count     int
	calls     chan struct{}
	block     chan struct{}
	ignoreCtx bool
}

func newScriptedChecker(results ...checkResult) *scriptedChecker {
	return &scriptedChecker{
		results: results,
		calls:   make(chan struct{}, 64),
	}
}

func (c *scriptedChecker) Check(ctx context.Context) (SessionStatus, error) {
	c.mu.Lock()
	var r checkResult
	if len(c.results) > 0 {
		r = c.results[0]
		if len(c.results) > 1 {
			c.results = c.results[1:]
		}
	}
	c.count++
	block := c.block
	ignoreCtx := c.ignoreCtx
	c.mu.Unlock()

	c.calls <- struct{}{}

	if block != nil {
		if ignoreCtx {
			<-block
		} else {
			select {
			case <-block:
			case <-ctx.Done():
				return SessionStatus{}, ctx.Err()
			}
		}
	}
	return r.status, r.err
}

func (c *scriptedChecker) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

type redirectRecord struct {
	path      string
	checkSeen int
}

type recordingRedirector struct {
	checker *scriptedChecker
	mu      sync.Mutex
	records []redirectRecord
	fired   chan string
}

func newRecordingRedirector(c *scriptedChecker) *recordingRedirector {
	return &recordingRedirector{checker: c, fired: make(chan string, 64)}
}

func (r *recordingRedirector) Redirect(_ context.Context, path string) {
	seen := 0
	if r.checker != nil {
		seen = r.checker.Count()
	}
	r.mu.Lock()
	r.records = append(r.records, redirectRecord{path: path, checkSeen: seen})
	r.mu.Unlock()
	r.fired <- path
}

func (r *recordingRedirector) Records() []redirectRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]redirectRecord, len(r.records))
	copy(out, r.records)
	return out
}

var (
	authenticated   = checkResult{status: SessionStatus{IsAuthenticated: true}}
	unauthenticated = checkResult{status: SessionStatus{IsAuthenticated: false}}
	errBackendDown  = errors.New("connection refused")
)

func newTestMonitor(t *testing.T, checker Checker, redirector Redirector, clock clockwork.Clock, mutate func(*Config)) *Monitor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Monitor.CheckTimeout = 0
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New().
		WithConfig(cfg).
		WithChecker(checker).
		WithRedirector(redirector).
		WithClock(clock).
		WithLogger(logging.Discard()).
		Build()
	if err != nil {
		t.Fatalf("build monitor: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func waitRedirect(t *testing.T, r *recordingRedirector) string {
	t.Helper()
	select {
	case p := <-r.fired:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for redirect")
		return ""
	}
}

func expectNoSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("unexpected %s", what)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestActivateAuthenticatedDoesNotRedirect(t *testing.T) {
	checker := newScriptedChecker(authenticated)
	redirector := newRecordingRedirector(checker)
	m := newTestMonitor(t, checker, redirector, clockwork.NewFakeClock(), nil)

	for i := 0; i < 3; i++ {
		if got := m.Activate(context.Background()); got != OutcomeAuthenticated {
			t.Fatalf("expected authenticated outcome, got %s", got)
		}
	}
	if n := len(redirector.Records()); n != 0 {
		t.Fatalf("expected no redirects, got %d", n)
	}
	if got := m.MetricsSnapshot().Counters[MetricCheckAuthenticated]; got != 3 {
		t.Fatalf("expected 3 authenticated checks, got %d", got)
	}
}

func TestActivateUnauthenticatedRedirectsOnceToAuth(t *testing.T) {
	checker := newScriptedChecker(unauthenticated)
	redirector := newRecordingRedirector(checker)
	m := newTestMonitor(t, checker, redirector, clockwork.NewFakeClock(), nil)

	if got := m.Activate(context.Background()); got != OutcomeUnauthenticated {
		t.Fatalf("expected unauthenticated outcome, got %s", got)
	}

	records := redirector.Records()
	if len(records) != 1 {
		t.Fatalf("expected exactly one redirect, got %d", len(records))
	}
	if records[0].path != "/auth" {
		t.Fatalf("expected redirect to /auth, got %q", records[0].path)
	}
}

func TestActivateFailurePolicy(t *testing.T) {
	tests := []struct {
		name          string
		policy        FailurePolicy
		wantRedirects int
	}{
		{name: "fail closed redirects", policy: FailClosed, wantRedirects: 1},
		{name: "fail open keeps session", policy: FailOpen, wantRedirects: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := newScriptedChecker(checkResult{err: errBackendDown})
			redirector := newRecordingRedirector(checker)
			m := newTestMonitor(t, checker, redirector, clockwork.NewFakeClock(), func(c *Config) {
				c.Monitor.FailurePolicy = tt.policy
			})

			if got := m.Activate(context.Background()); got != OutcomeCheckFailed {
				t.Fatalf("expected check_failed outcome, got %s", got)
			}
			if n := len(redirector.Records()); n != tt.wantRedirects {
				t.Fatalf("expected %d redirects, got %d", tt.wantRedirects, n)
			}
			if got := m.MetricsSnapshot().Counters[MetricCheckFailed]; got != 1 {
				t.Fatalf("expected failed check counted once, got %d", got)
			}
		})
	}
}

func TestStartChecksImmediatelyThenEveryInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	checker := newScriptedChecker(authenticated)
	redirector := newRecordingRedirector(checker)
	m := newTestMonitor(t, checker, redirector, clock, nil)

	stop, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop()

	waitSignal(t, checker.calls, "immediate check")
	expectNoSignal(t, checker.calls, "check before the first interval")

	for i := 0; i < 3; i++ {
		clock.Advance(DefaultInterval)
		waitSignal(t, checker.calls, "interval check")
	}

	if got := checker.Count(); got != 4 {
		t.Fatalf("expected 4 checks, got %d", got)
	}
	if m.State() != StateActive {
		t.Fatalf("expected active state, got %s", m.State())
	}
}

func TestStopPreventsFurtherChecks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	checker := newScriptedChecker(authenticated)
	m := newTestMonitor(t, checker, newRecordingRedirector(checker), clock, nil)

	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitSignal(t, checker.calls, "immediate check")

	m.Stop()
	m.Wait()

	clock.Advance(5 * DefaultInterval)
	expectNoSignal(t, checker.calls, "check after stop")

	if m.State() != StateIdle {
		t.Fatalf("expected idle state, got %s", m.State())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	checker := newScriptedChecker(authenticated)
	m := newTestMonitor(t, checker, newRecordingRedirector(checker), clockwork.NewFakeClock(), nil)

	// Without a prior Start.
	m.Stop()
	m.Stop()

	stop, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitSignal(t, checker.calls, "immediate check")

	stop()
	stop()
	m.Stop()
	m.Wait()

	if got := m.MetricsSnapshot().Counters[MetricMonitorStopped]; got != 1 {
		t.Fatalf("expected one stop transition, got %d", got)
	}
}

func TestStartWhileActiveFails(t *testing.T) {
	checker := newScriptedChecker(authenticated)
	m := newTestMonitor(t, checker, newRecordingRedirector(checker), clockwork.NewFakeClock(), nil)

	stop, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop()

	if _, err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
}

func TestScenarioAuthenticatedThenExpiredAfterInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	checker := newScriptedChecker(authenticated, unauthenticated)
	redirector := newRecordingRedirector(checker)
	m := newTestMonitor(t, checker, redirector, clock, nil)

	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitSignal(t, checker.calls, "mount check")

	clock.Advance(30 * time.Minute)
	waitSignal(t, checker.calls, "30 minute check")
	if got := waitRedirect(t, redirector); got != "/auth" {
		t.Fatalf("expected redirect to /auth, got %q", got)
	}

	m.Stop()
	m.Wait()

	records := redirector.Records()
	if len(records) != 1 {
		t.Fatalf("expected exactly one redirect, got %d", len(records))
	}
	if records[0].checkSeen != 2 {
		t.Fatalf("expected redirect after the second check, got after check %d", records[0].checkSeen)
	}
}

func TestScenarioUnauthenticatedThenUnmount(t *testing.T) {
	clock := clockwork.NewFakeClock()
	checker := newScriptedChecker(unauthenticated)
	redirector := newRecordingRedirector(checker)
	m := newTestMonitor(t, checker, redirector, clock, nil)

	stop, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := waitRedirect(t, redirector); got != "/auth" {
		t.Fatalf("expected redirect to /auth, got %q", got)
	}

	clock.Advance(10 * time.Minute)
	stop()
	m.Wait()

	clock.Advance(45 * time.Minute)
	expectNoSignal(t, checker.calls, "check after unmount")

	if n := len(redirector.Records()); n != 1 {
		t.Fatalf("expected exactly one redirect, got %d", n)
	}
}

func TestOverlappingActivationIsSkipped(t *testing.T) {
	checker := newScriptedChecker(authenticated)
	checker.block = make(chan struct{})
	m := newTestMonitor(t, checker, newRecordingRedirector(checker), clockwork.NewFakeClock(), nil)

	stop, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop()
	waitSignal(t, checker.calls, "immediate check")

	if got := m.Activate(context.Background()); got != OutcomeSkipped {
		t.Fatalf("expected skipped outcome while a check is in flight, got %s", got)
	}
	close(checker.block)

	if got := checker.Count(); got != 1 {
		t.Fatalf("expected the overlapping call not to reach the checker, got %d calls", got)
	}
	if got := m.MetricsSnapshot().Counters[MetricCheckSkipped]; got != 1 {
		t.Fatalf("expected one skipped check, got %d", got)
	}
}

func TestCheckCompletingAfterStopDoesNotRedirect(t *testing.T) {
	checker := newScriptedChecker(unauthenticated)
	checker.block = make(chan struct{})
	checker.ignoreCtx = true
	redirector := newRecordingRedirector(checker)
	m := newTestMonitor(t, checker, redirector, clockwork.NewFakeClock(), nil)

	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitSignal(t, checker.calls, "immediate check")

	m.Stop()
	close(checker.block)
	m.Wait()

	if n := len(redirector.Records()); n != 0 {
		t.Fatalf("expected no redirect after stop, got %d", n)
	}
	if got := m.MetricsSnapshot().Counters[MetricRedirectSuppressed]; got != 1 {
		t.Fatalf("expected one suppressed redirect, got %d", got)
	}
}

func TestStopCancelsInFlightCheck(t *testing.T) {
	checker := newScriptedChecker(authenticated)
	checker.block = make(chan struct{})
	redirector := newRecordingRedirector(checker)
	m := newTestMonitor(t, checker, redirector, clockwork.NewFakeClock(), nil)

	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitSignal(t, checker.calls, "immediate check")

	// The checker unblocks on ctx cancellation and reports a failure, which
	// fail-closed would turn into a redirect if it were not suppressed.
	m.Stop()
	m.Wait()

	if n := len(redirector.Records()); n != 0 {
		t.Fatalf("expected no redirect, got %d", n)
	}
	if got := m.MetricsSnapshot().Counters[MetricCheckFailed]; got != 0 {
		t.Fatalf("cancelled check should not count as failed, got %d", got)
	}
}

func TestStaleStopFuncDoesNotStopNewerRun(t *testing.T) {
	checker := newScriptedChecker(authenticated)
	m := newTestMonitor(t, checker, newRecordingRedirector(checker), clockwork.NewFakeClock(), nil)

	first, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	waitSignal(t, checker.calls, "first mount check")
	first()
	m.Wait()

	second, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	defer second()
	waitSignal(t, checker.calls, "second mount check")

	first()
	if m.State() != StateActive {
		t.Fatalf("stale stop func stopped the newer run")
	}
}

func TestRemountChecksImmediatelyWhileOldCheckFinishes(t *testing.T) {
	checker := newScriptedChecker(unauthenticated)
	checker.block = make(chan struct{})
	checker.ignoreCtx = true
	redirector := newRecordingRedirector(checker)
	m := newTestMonitor(t, checker, redirector, clockwork.NewFakeClock(), nil)

	first, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	waitSignal(t, checker.calls, "first mount check")

	// unmount and remount without waiting for the first check
	first()
	second, err := m.Start(context.Background())
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	defer second()
	waitSignal(t, checker.calls, "second mount check")

	close(checker.block)
	if got := waitRedirect(t, redirector); got != DefaultRedirectPath {
		t.Fatalf("expected redirect to %s, got %q", DefaultRedirectPath, got)
	}
	select {
	case p := <-redirector.fired:
		t.Fatalf("unexpected second redirect to %q", p)
	case <-time.After(50 * time.Millisecond):
	}

	if got := m.MetricsSnapshot().Counters[MetricCheckSkipped]; got != 0 {
		t.Fatalf("expected no skipped checks, got %d", got)
	}
}

func TestRepeatedRemountNeverSkipsImmediateCheck(t *testing.T) {
	checker := newScriptedChecker(authenticated)
	checker.block = make(chan struct{}) // released only by cancellation
	m := newTestMonitor(t, checker, newRecordingRedirector(checker), clockwork.NewFakeClock(), nil)

	const mounts = 50
	for i := 0; i < mounts; i++ {
		stop, err := m.Start(context.Background())
		if err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		waitSignal(t, checker.calls, "immediate check")
		stop()
	}
	m.Wait()

	if got := checker.Count(); got != mounts {
		t.Fatalf("expected %d checks, got %d", mounts, got)
	}
	if got := m.MetricsSnapshot().Counters[MetricCheckSkipped]; got != 0 {
		t.Fatalf("expected no skipped checks, got %d", got)
	}
}

func TestParentContextEndsRun(t *testing.T) {
	checker := newScriptedChecker(authenticated)
	m := newTestMonitor(t, checker, newRecordingRedirector(checker), clockwork.NewFakeClock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitSignal(t, checker.calls, "immediate check")

	cancel()
	m.Wait()

	if m.State() != StateIdle {
		t.Fatalf("expected idle after parent context ended, got %s", m.State())
	}
}

func TestRunBlocksUntilContextEnds(t *testing.T) {
	checker := newScriptedChecker(authenticated)
	m := newTestMonitor(t, checker, newRecordingRedirector(checker), clockwork.NewFakeClock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	waitSignal(t, checker.calls, "immediate check")
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReturnsNilWhenStopped(t *testing.T) {
	checker := newScriptedChecker(authenticated)
	m := newTestMonitor(t, checker, newRecordingRedirector(checker), clockwork.NewFakeClock(), nil)

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(context.Background()) }()

	waitSignal(t, checker.calls, "immediate check")
	m.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestStopFromRedirectorDoesNotDeadlock(t *testing.T) {
	checker := newScriptedChecker(unauthenticated)
	var m *Monitor
	redirected := make(chan struct{}, 1)
	m = newTestMonitor(t, checker, RedirectorFunc(func(context.Context, string) {
		m.Stop()
		redirected <- struct{}{}
	}), clockwork.NewFakeClock(), nil)

	if _, err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitSignal(t, redirected, "redirect")
	m.Wait()

	if m.State() != StateIdle {
		t.Fatalf("expected idle state, got %s", m.State())
	}
}

func TestMonitorEmitsAuditEvents(t *testing.T) {
	sink := NewChannelSink(8)
	checker := newScriptedChecker(unauthenticated)
	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false

	m, err := New().
		WithConfig(cfg).
		WithChecker(checker).
		WithRedirector(RedirectorFunc(func(context.Context, string) {})).
		WithClock(clockwork.NewFakeClock()).
		WithLogger(logging.Discard()).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	m.Activate(context.Background())
	m.Close()

	var got []AuditEvent
	for len(got) < 2 {
		select {
		case ev := <-sink.Events():
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 audit events, got %d", len(got))
		}
	}
	if got[0].EventType != AuditEventCheck || got[0].Outcome != "unauthenticated" {
		t.Fatalf("unexpected first event: %+v", got[0])
	}
	if got[1].EventType != AuditEventRedirect || got[1].Path != "/auth" {
		t.Fatalf("unexpected second event: %+v", got[1])
	}
}
