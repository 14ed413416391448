// Package sessionwatch keeps a viewer's session honest: a [Monitor] checks the
// session-status provider as soon as protected content is shown, redirects to
// the authentication entry point when the session is gone, and repeats the
// check on a fixed interval until the owning scope ends.
//
// The package is designed for concurrent use: Monitor methods are safe to call
// from multiple goroutines after construction through [Builder.Build].
//
// # Architecture boundaries
//
// sessionwatch is the public surface. It exposes [Monitor], [Builder], [Config],
// the [Checker] and [Redirector] capabilities, and value types (SessionStatus,
// Outcome, MetricsSnapshot). Transport lives in httpcheck, server-side session
// state lives in session and statusapi.
//
// # What this package must NOT do
//
//   - Resolve the session checker from ambient state; it is always injected.
//   - Perform I/O outside of Checker and Redirector calls.
//   - Import httpcheck, session, statusapi or jwt (no import cycles).
//
// # Lifecycle contract
//
// Start performs one check immediately and then one per Interval. Stop cancels
// the schedule and any in-flight check; a check that completes after Stop never
// redirects. At most one check is in flight per Monitor.
package sessionwatch
