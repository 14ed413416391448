package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/AndreiTuhkru/sessionwatch/session"
)

type sessionContextKey struct{}

// SessionFromContext returns the session injected by a guard.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*session.Session)
	return sess, ok
}

// UserIDFromContext returns the user owning the injected session.
func UserIDFromContext(ctx context.Context) (string, bool) {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return "", false
	}
	return sess.UserID, true
}

// RequireSession rejects requests without a live session with 401, or 503
// when the session store is unreachable.
func RequireSession(res *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := res.Resolve(r)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, session.ErrRedisUnavailable) {
					status = http.StatusServiceUnavailable
				}
				writeError(w, status, http.StatusText(status))
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RedirectUnauthenticated sends requests without a live session to path with
// 303 See Other. The original request URI travels in the "next" query value.
func RedirectUnauthenticated(res *Resolver, path string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := res.Resolve(r)
			if err != nil {
				if errors.Is(err, session.ErrRedisUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				target := path
				if r.Method == http.MethodGet && r.URL.Path != path {
					target += "?" + url.Values{"next": {r.URL.RequestURI()}}.Encode()
				}
				http.Redirect(w, r, target, http.StatusSeeOther)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	body := map[string]any{"error": msg}
	if status == http.StatusUnauthorized {
		body["is_authenticated"] = false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
