// Package statusapi is the reference session backend that a sessionwatch
// Monitor polls.
//
// # Routes
//
//	GET    /session/status  {"is_authenticated": bool}, never 401
//	POST   /session         login, sets the session cookie, 429 when throttled
//	DELETE /session         logout, clears the session cookie, {"is_authenticated": false}
//	GET    /session/me      the caller's session, 401 without one
//	POST   /session/extend  restart the session lifetime, 401 without one
//	GET    /healthz         Redis reachability
//
// Status answers 503 when the session store is unreachable, so a polling
// client can tell "logged out" from "backend down".
package statusapi
