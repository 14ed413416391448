package session

import (
	"net/http"
	"strings"
	"time"
)

const (
	CookieName = "__Host-session"
)

// CookieOptions defines how session cookies are issued.
type CookieOptions struct {
	// Name defaults to CookieName. __Host- cookies are only accepted over HTTPS.
	Name     string
	Path     string
	Secure   bool
	SameSite http.SameSite
	Domain   string // must be empty for __Host- cookies
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Name == "" {
		o.Name = CookieName
	}
	if o.Path == "" || strings.HasPrefix(o.Name, "__Host-") {
		o.Path = "/"
	}
	if strings.HasPrefix(o.Name, "__Host-") {
		o.Secure = true
		o.Domain = ""
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

// SetCookie issues the session cookie to the client.
func SetCookie(w http.ResponseWriter, sess *Session, opts CookieOptions) {
	opts = opts.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    sess.ID,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// ClearCookie removes the session cookie from the client.
func ClearCookie(w http.ResponseWriter, opts CookieOptions) {
	opts = opts.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    "",
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// FromRequest returns the session id carried by r, or "" when there is none.
func FromRequest(r *http.Request, opts CookieOptions) string {
	c, err := r.Cookie(opts.normalize().Name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
