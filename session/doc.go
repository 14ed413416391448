// Package session provides Redis-backed browser sessions for the status
// backend, plus the cookie helpers that carry the session id.
//
// # Storage layout
//
//	{prefix}:s:{sessionID}  JSON-encoded [Session], TTL = remaining lifetime
//	{prefix}:u:{userID}     set of session ids owned by the user
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does NOT check
// credentials or issue tokens; statusapi and jwt do that.
//
// # What this package must NOT do
//
//   - Import sessionwatch, jwt, or statusapi (no upward imports).
//   - Store plaintext secrets in [Session] fields.
package session
