// Package httpcheck implements sessionwatch.Checker against a backend
// session-status endpoint over HTTP, sending the session credentials the way
// a browser would: cookies from a jar and, optionally, a bearer token.
//
// # Wire contract
//
//	GET {base}{path}  →  200 {"is_authenticated": bool}
//
// 401 and 403 are read as "not authenticated". Every other failure is
// returned wrapped in sessionwatch.ErrCheckFailed.
package httpcheck
