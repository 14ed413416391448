// Package middleware resolves the session behind an HTTP request and guards
// handlers with it.
//
// # Guards
//
//   - [RequireSession]: API routes, answers 401 JSON without a live session.
//   - [RedirectUnauthenticated]: page routes, answers 303 to the
//     authentication entry point without a live session.
//
// Both read the session cookie first and fall back to an Authorization: Bearer
// token when a jwt.Manager is configured. The resolved session is injected into
// the request context.
//
// # What this package must NOT do
//
//   - Create or delete sessions (statusapi owns login and logout).
//   - Check user credentials.
package middleware
