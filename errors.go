package sessionwatch

import "errors"

var (
	// ErrCheckFailed wraps every transport, status, or decode failure of a session check.
	ErrCheckFailed = errors.New("session check failed")
	// ErrAlreadyActive is returned by Start when the monitor already has a running schedule.
	ErrAlreadyActive = errors.New("monitor already active")
	// ErrNilChecker is returned by Build when no Checker was supplied.
	ErrNilChecker = errors.New("session checker required")
	// ErrNilRedirector is returned by Build when no Redirector was supplied.
	ErrNilRedirector = errors.New("redirector required")
	// ErrInvalidInterval is returned by Config.Validate for a non-positive or too short interval.
	ErrInvalidInterval = errors.New("invalid check interval")
	// ErrInvalidRedirectPath is returned by Config.Validate when the redirect path is not absolute.
	ErrInvalidRedirectPath = errors.New("invalid redirect path")
	// ErrInvalidFailurePolicy is returned by Config.Validate for an unknown policy.
	ErrInvalidFailurePolicy = errors.New("invalid failure policy")
	// ErrInvalidCheckTimeout is returned by Config.Validate for a negative timeout.
	ErrInvalidCheckTimeout = errors.New("invalid check timeout")
	// ErrBuilderUsed is returned by Build on a second call.
	ErrBuilderUsed = errors.New("builder already used")
)
