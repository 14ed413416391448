// Package jwt issues and verifies bearer tokens that name a server-side
// session, for clients that cannot hold the session cookie.
package jwt
