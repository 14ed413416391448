package sessionwatch

import "context"

// SessionStatus is the answer of a single session check. It is produced fresh
// on every check and discarded after the redirect decision.
type SessionStatus struct {
	IsAuthenticated bool `json:"is_authenticated"`
}

// Checker reports whether the current session is still authenticated.
// Implementations must honour ctx cancellation; the monitor cancels ctx when
// it is stopped.
//
//	Implementations: httpcheck.Client, CheckerFunc
type Checker interface {
	Check(ctx context.Context) (SessionStatus, error)
}

// CheckerFunc adapts a plain function to [Checker].
type CheckerFunc func(ctx context.Context) (SessionStatus, error)

// Check calls f(ctx).
func (f CheckerFunc) Check(ctx context.Context) (SessionStatus, error) {
	return f(ctx)
}

// Redirector moves the hosting application to path. The monitor only ever
// calls it with Config.Monitor.RedirectPath.
type Redirector interface {
	Redirect(ctx context.Context, path string)
}

// RedirectorFunc adapts a plain function to [Redirector].
type RedirectorFunc func(ctx context.Context, path string)

// Redirect calls f(ctx, path).
func (f RedirectorFunc) Redirect(ctx context.Context, path string) {
	f(ctx, path)
}

// StopFunc cancels the run it was returned for. It is safe to call more than
// once and never stops a newer run of the same monitor.
type StopFunc func()

// Outcome classifies what a single activation did.
type Outcome uint8

const (
	// OutcomeAuthenticated means the session is valid; nothing happened.
	OutcomeAuthenticated Outcome = iota
	// OutcomeUnauthenticated means the session is gone and a redirect was issued.
	OutcomeUnauthenticated
	// OutcomeCheckFailed means the check itself failed. Under FailClosed a
	// redirect was issued; under FailOpen nothing happened.
	OutcomeCheckFailed
	// OutcomeSkipped means another check was already in flight.
	OutcomeSkipped
	// OutcomeSuppressed means the check finished after its run was stopped,
	// so its redirect was dropped.
	OutcomeSuppressed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeUnauthenticated:
		return "unauthenticated"
	case OutcomeCheckFailed:
		return "check_failed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a [Monitor].
type State uint8

const (
	// StateIdle means no schedule is running.
	StateIdle State = iota
	// StateActive means a schedule is running and a tick is pending.
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// FailurePolicy decides what a failed check means.
type FailurePolicy uint8

const (
	// FailClosed treats a failed check as unauthenticated and redirects.
	FailClosed FailurePolicy = iota
	// FailOpen logs the failure and keeps polling without redirecting.
	FailOpen
)

func (p FailurePolicy) String() string {
	switch p {
	case FailClosed:
		return "fail_closed"
	case FailOpen:
		return "fail_open"
	default:
		return "unknown"
	}
}

// ParseFailurePolicy maps "fail_closed"/"closed" and "fail_open"/"open" to a
// policy. The empty string selects FailClosed.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "fail_closed", "closed":
		return FailClosed, nil
	case "fail_open", "open":
		return FailOpen, nil
	default:
		return 0, ErrInvalidFailurePolicy
	}
}
