package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/AndreiTuhkru/sessionwatch/jwt"
	"github.com/AndreiTuhkru/sessionwatch/session"
)

// ErrNoCredentials is returned when a request carries neither cookie nor token.
var ErrNoCredentials = errors.New("no session credentials")

// Resolver maps a request to its live session.
type Resolver struct {
	store  *session.Store
	tokens *jwt.Manager
	cookie session.CookieOptions
}

type ResolverOption func(*Resolver)

// WithTokens accepts bearer tokens issued by m in addition to the cookie.
func WithTokens(m *jwt.Manager) ResolverOption {
	return func(r *Resolver) {
		r.tokens = m
	}
}

func WithCookieOptions(opts session.CookieOptions) ResolverOption {
	return func(r *Resolver) {
		r.cookie = opts
	}
}

func NewResolver(store *session.Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the live session of r. Failures are ErrNoCredentials,
// jwt.ErrInvalidToken, session.ErrSessionNotFound or session.ErrRedisUnavailable.
func (res *Resolver) Resolve(r *http.Request) (*session.Session, error) {
	if id := session.FromRequest(r, res.cookie); id != "" {
		return res.store.Get(r.Context(), id)
	}

	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok || res.tokens == nil {
		return nil, ErrNoCredentials
	}

	claims, err := res.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	sess, err := res.store.Get(r.Context(), claims.SID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != claims.UID {
		return nil, fmt.Errorf("%w: token user does not own session", jwt.ErrInvalidToken)
	}
	return sess, nil
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
