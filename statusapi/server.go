package statusapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/AndreiTuhkru/sessionwatch"
	"github.com/AndreiTuhkru/sessionwatch/internal/logging"
	"github.com/AndreiTuhkru/sessionwatch/internal/rate"
	"github.com/AndreiTuhkru/sessionwatch/jwt"
	"github.com/AndreiTuhkru/sessionwatch/middleware"
	"github.com/AndreiTuhkru/sessionwatch/session"
	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
)

// StatusPath is the route polled by httpcheck.
const StatusPath = "/session/status"

// DefaultSessionTTL is the session lifetime after login.
const DefaultSessionTTL = 24 * time.Hour

const maxLoginBody = 4 << 10

// Server serves the session routes.
type Server struct {
	store    *session.Store
	resolver *middleware.Resolver
	users    Authenticator
	tokens   *jwt.Manager
	limiter  *rate.LoginLimiter
	cookie   session.CookieOptions
	ttl      time.Duration
	logger   *log.Logger
}

type Option func(*Server)

// WithTokens issues a bearer token on login and accepts it on status.
func WithTokens(m *jwt.Manager) Option {
	return func(s *Server) { s.tokens = m }
}

// WithLoginLimiter throttles failed logins. Throttled requests get 429.
func WithLoginLimiter(l *rate.LoginLimiter) Option {
	return func(s *Server) { s.limiter = l }
}

func WithCookieOptions(opts session.CookieOptions) Option {
	return func(s *Server) { s.cookie = opts }
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewServer(store *session.Store, users Authenticator, opts ...Option) *Server {
	s := &Server{
		store:  store,
		users:  users,
		ttl:    DefaultSessionTTL,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ropts := []middleware.ResolverOption{middleware.WithCookieOptions(s.cookie)}
	if s.tokens != nil {
		ropts = append(ropts, middleware.WithTokens(s.tokens))
	}
	s.resolver = middleware.NewResolver(store, ropts...)
	return s
}

// Resolver returns the session resolver, for guarding application routes.
func (s *Server) Resolver() *middleware.Resolver {
	return s.resolver
}

// Router returns a router with the session routes mounted. Callers may add
// their own routes to it.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(StatusPath, s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/session", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/session", s.handleLogout).Methods(http.MethodDelete)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/session/me", middleware.RequireSession(s.resolver)(http.HandlerFunc(s.handleMe))).Methods(http.MethodGet)
	r.Handle("/session/extend", middleware.RequireSession(s.resolver)(http.HandlerFunc(s.handleExtend))).Methods(http.MethodPost)
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	_, err := s.resolver.Resolve(r)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sessionwatch.SessionStatus{IsAuthenticated: true})
	case errors.Is(err, session.ErrRedisUnavailable):
		s.logger.Error("session status lookup failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "session store unavailable"})
	default:
		writeJSON(w, http.StatusOK, sessionwatch.SessionStatus{IsAuthenticated: false})
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	IsAuthenticated bool      `json:"is_authenticated"`
	UserID          string    `json:"user_id"`
	ExpiresAt       time.Time `json:"expires_at"`
	Token           string    `json:"token,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "username and password are required"})
		return
	}

	ip := clientIP(r)
	if s.limiter != nil {
		if err := s.limiter.Allow(r.Context(), req.Username, ip); err != nil {
			s.writeLimited(w, req.Username, err)
			return
		}
	}

	userID, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			s.logger.Error("authenticate failed", "user", req.Username, "err", err)
		}
		if s.limiter != nil {
			if err := s.limiter.Fail(r.Context(), req.Username, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
				s.logger.Error("login throttle update failed", "err", err)
			}
		}
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
		return
	}
	if s.limiter != nil {
		if err := s.limiter.Reset(r.Context(), req.Username); err != nil {
			s.logger.Warn("login throttle reset failed", "user", userID, "err", err)
		}
	}

	sess, err := s.store.Create(r.Context(), userID, s.ttl)
	if err != nil {
		s.logger.Error("session create failed", "user", userID, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "session store unavailable"})
		return
	}

	resp := loginResponse{IsAuthenticated: true, UserID: userID, ExpiresAt: sess.ExpiresAt}
	if s.tokens != nil {
		token, _, err := s.tokens.Issue(userID, sess.ID, sess.ExpiresAt)
		if err != nil {
			s.logger.Error("token issue failed", "user", userID, "err", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "token issue failed"})
			return
		}
		resp.Token = token
	}

	session.SetCookie(w, sess, s.cookie)
	s.logger.Info("session created", "user", userID, "expires", sess.ExpiresAt)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeLimited(w http.ResponseWriter, username string, err error) {
	if errors.Is(err, rate.ErrRateLimited) {
		s.logger.Warn("login throttled", "user", username)
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many failed logins"})
		return
	}
	s.logger.Error("login throttle unavailable", "err", err)
	writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "session store unavailable"})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, err := s.resolver.Resolve(r)
	switch {
	case err == nil:
		if err := s.store.Delete(r.Context(), sess.ID); err != nil {
			s.logger.Error("session delete failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "session store unavailable"})
			return
		}
		s.logger.Info("session deleted", "user", sess.UserID)
	case errors.Is(err, session.ErrRedisUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "session store unavailable"})
		return
	}

	// logout is idempotent
	session.ClearCookie(w, s.cookie)
	writeJSON(w, http.StatusOK, sessionwatch.SessionStatus{IsAuthenticated: false})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, loginResponse{IsAuthenticated: true, UserID: sess.UserID, ExpiresAt: sess.ExpiresAt})
}

// handleExtend restarts the session lifetime and reissues the cookie.
func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	current, _ := middleware.SessionFromContext(r.Context())
	sess, err := s.store.Touch(r.Context(), current.ID, s.ttl)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrSessionNotFound):
		writeJSON(w, http.StatusUnauthorized, sessionwatch.SessionStatus{IsAuthenticated: false})
		return
	default:
		s.logger.Error("session extend failed", "user", current.UserID, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "session store unavailable"})
		return
	}

	session.SetCookie(w, sess, s.cookie)
	writeJSON(w, http.StatusOK, loginResponse{IsAuthenticated: true, UserID: sess.UserID, ExpiresAt: sess.ExpiresAt})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	latency, err := s.store.Ping(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"redis": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redis": "ok", "latency": latency.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
