package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/AndreiTuhkru/sessionwatch"
	"github.com/AndreiTuhkru/sessionwatch/httpcheck"
	"github.com/AndreiTuhkru/sessionwatch/internal/logging"
	"github.com/AndreiTuhkru/sessionwatch/internal/rate"
	"github.com/AndreiTuhkru/sessionwatch/jwt"
	"github.com/AndreiTuhkru/sessionwatch/middleware"
	"github.com/AndreiTuhkru/sessionwatch/password"
	"github.com/AndreiTuhkru/sessionwatch/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// plain cookie name: __Host- cookies are not sent over http://
var testCookie = session.CookieOptions{Name: "session"}

type testEnv struct {
	srv    *httptest.Server
	mr     *miniredis.Miniredis
	store  *session.Store
	client *http.Client
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	store := session.NewStore(rdb)

	hash, err := password.Hash(password.SchemeBcrypt, "correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users, err := NewStaticUsers(map[string]string{"alice": hash})
	if err != nil {
		t.Fatalf("users: %v", err)
	}

	opts = append([]Option{WithCookieOptions(testCookie)}, opts...)
	srv := httptest.NewServer(NewServer(store, users, opts...).Router())

	jar, _ := cookiejar.New(nil)
	t.Cleanup(func() {
		srv.Close()
		rdb.Close()
		mr.Close()
	})
	return &testEnv{srv: srv, mr: mr, store: store, client: &http.Client{Jar: jar}}
}

func (e *testEnv) login(t *testing.T, user, pass string) (*http.Response, loginResponse) {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Username: user, Password: pass})
	resp, err := e.client.Post(e.srv.URL+"/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	var out loginResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode login: %v", err)
		}
	}
	return resp, out
}

func (e *testEnv) status(t *testing.T, header http.Header) (int, sessionwatch.SessionStatus) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+StatusPath, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	defer resp.Body.Close()

	var out sessionwatch.SessionStatus
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestStatusWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	code, status := env.status(t, nil)
	if code != http.StatusOK || status.IsAuthenticated {
		t.Fatalf("expected 200 unauthenticated, got %d %+v", code, status)
	}
}

func TestLoginStatusLogout(t *testing.T) {
	env := newTestEnv(t)

	resp, out := env.login(t, "alice", "correct-horse")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected login 200, got %d", resp.StatusCode)
	}
	if out.UserID != "alice" || out.Token != "" {
		t.Fatalf("unexpected login response %+v", out)
	}

	if code, status := env.status(t, nil); code != http.StatusOK || !status.IsAuthenticated {
		t.Fatalf("expected authenticated after login, got %d %+v", code, status)
	}

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/session/me", nil)
	me, err := env.client.Do(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	me.Body.Close()
	if me.StatusCode != http.StatusOK {
		t.Fatalf("expected /session/me 200, got %d", me.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, env.srv.URL+"/session", nil)
	del, err := env.client.Do(req)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Fatalf("expected logout 200, got %d", del.StatusCode)
	}

	if _, status := env.status(t, nil); status.IsAuthenticated {
		t.Fatal("expected unauthenticated after logout")
	}

	// second logout is a no-op
	req, _ = http.NewRequest(http.MethodDelete, env.srv.URL+"/session", nil)
	del, err = env.client.Do(req)
	if err != nil {
		t.Fatalf("logout again: %v", err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Fatalf("expected repeated logout 200, got %d", del.StatusCode)
	}
}

func TestLoginRejects(t *testing.T) {
	env := newTestEnv(t)

	if resp, _ := env.login(t, "alice", "wrong-password"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", resp.StatusCode)
	}
	if resp, _ := env.login(t, "mallory", "correct-horse"); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", resp.StatusCode)
	}
	if resp, _ := env.login(t, "", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", resp.StatusCode)
	}

	resp, err := env.client.Post(env.srv.URL+"/session", "application/json", bytes.NewReader([]byte(`{"user":"x"}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown fields, got %d", resp.StatusCode)
	}
}

func TestLoginThrottled(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	hash, err := password.Hash(password.SchemeBcrypt, "correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users, err := NewStaticUsers(map[string]string{"alice": hash})
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	limiter := rate.New(rdb, rate.Config{MaxAttempts: 2, Window: time.Minute})
	srv := httptest.NewServer(NewServer(session.NewStore(rdb), users,
		WithCookieOptions(testCookie), WithLoginLimiter(limiter)).Router())
	defer srv.Close()

	jar, _ := cookiejar.New(nil)
	env := &testEnv{srv: srv, mr: mr, client: &http.Client{Jar: jar}}

	if resp, _ := env.login(t, "alice", "correct-horse"); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected first login 200, got %d", resp.StatusCode)
	}
	for i := 0; i < 2; i++ {
		if resp, _ := env.login(t, "alice", "wrong-password"); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("failure %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}
	if resp, _ := env.login(t, "alice", "correct-horse"); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once throttled, got %d", resp.StatusCode)
	}

	mr.FastForward(time.Minute + time.Second)
	if resp, _ := env.login(t, "alice", "correct-horse"); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after the window, got %d", resp.StatusCode)
	}
	if n, _ := limiter.Attempts(context.Background(), "alice"); n != 0 {
		t.Fatalf("expected counter reset after success, got %d", n)
	}
}

func TestStatusStoreDown(t *testing.T) {
	env := newTestEnv(t)
	if resp, _ := env.login(t, "alice", "correct-horse"); resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d", resp.StatusCode)
	}

	env.mr.Close()

	code, _ := env.status(t, nil)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with redis down, got %d", code)
	}

	resp, err := env.client.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected healthz 503, got %d", resp.StatusCode)
	}
}

func TestBearerTokenFlow(t *testing.T) {
	key, err := jwt.DeriveHS256Key([]byte("statusapi-test-secret"), "session-token")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	tokens, err := jwt.NewManager(jwt.Config{TTL: time.Hour, SigningMethod: jwt.MethodHS256, PrivateKey: key})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	env := newTestEnv(t, WithTokens(tokens))

	resp, out := env.login(t, "alice", "correct-horse")
	if resp.StatusCode != http.StatusOK || out.Token == "" {
		t.Fatalf("expected token in login response, got %d %+v", resp.StatusCode, out)
	}

	// a client without the cookie
	env.client.Jar, _ = cookiejar.New(nil)
	if _, status := env.status(t, nil); status.IsAuthenticated {
		t.Fatal("expected unauthenticated without credentials")
	}
	header := http.Header{"Authorization": {"Bearer " + out.Token}}
	if _, status := env.status(t, header); !status.IsAuthenticated {
		t.Fatal("expected bearer token to authenticate")
	}
}

func (e *testEnv) extend(t *testing.T) (int, loginResponse) {
	t.Helper()
	resp, err := e.client.Post(e.srv.URL+"/session/extend", "application/json", nil)
	if err != nil {
		t.Fatalf("extend request: %v", err)
	}
	defer resp.Body.Close()

	var out loginResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestExtendSession(t *testing.T) {
	env := newTestEnv(t, WithSessionTTL(time.Hour))

	if code, _ := env.extend(t); code != http.StatusUnauthorized {
		t.Fatalf("expected extend 401 without a session, got %d", code)
	}

	resp, login := env.login(t, "alice", "correct-horse")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d", resp.StatusCode)
	}

	env.mr.FastForward(50 * time.Minute)
	code, out := env.extend(t)
	if code != http.StatusOK || !out.IsAuthenticated || out.UserID != "alice" {
		t.Fatalf("unexpected extend response %d %+v", code, out)
	}
	if out.ExpiresAt.Before(login.ExpiresAt) {
		t.Fatalf("extend moved expiry backwards: %v < %v", out.ExpiresAt, login.ExpiresAt)
	}

	// past the original hour, within the extended one
	env.mr.FastForward(30 * time.Minute)
	if _, status := env.status(t, nil); !status.IsAuthenticated {
		t.Fatal("expected the extended session to outlive its original lifetime")
	}
}

func TestMonitorAgainstServer(t *testing.T) {
	env := newTestEnv(t)
	if resp, _ := env.login(t, "alice", "correct-horse"); resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d", resp.StatusCode)
	}

	base, _ := url.Parse(env.srv.URL)
	checker, err := httpcheck.New(env.srv.URL, httpcheck.WithHTTPClient(&http.Client{Timeout: time.Second}))
	if err != nil {
		t.Fatalf("checker: %v", err)
	}
	checker.SetCookies(env.client.Jar.Cookies(base))

	redirects := make(chan string, 4)
	m, err := sessionwatch.New().
		WithChecker(checker).
		WithRedirector(sessionwatch.RedirectorFunc(func(_ context.Context, path string) { redirects <- path })).
		WithLogger(logging.Discard()).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(m.Close)

	if outcome := m.Activate(context.Background()); outcome != sessionwatch.OutcomeAuthenticated {
		t.Fatalf("expected authenticated, got %s", outcome)
	}

	var sid string
	for _, c := range env.client.Jar.Cookies(base) {
		if c.Name == testCookie.Name {
			sid = c.Value
		}
	}
	if err := env.store.Delete(context.Background(), sid); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if outcome := m.Activate(context.Background()); outcome != sessionwatch.OutcomeUnauthenticated {
		t.Fatalf("expected unauthenticated after server-side logout, got %s", outcome)
	}
	if path := <-redirects; path != sessionwatch.DefaultRedirectPath {
		t.Fatalf("expected redirect to %q, got %q", sessionwatch.DefaultRedirectPath, path)
	}

	env.mr.Close()
	if outcome := m.Activate(context.Background()); outcome != sessionwatch.OutcomeCheckFailed {
		t.Fatalf("expected check failure with store down, got %s", outcome)
	}
	if path := <-redirects; path != sessionwatch.DefaultRedirectPath {
		t.Fatalf("expected fail-closed redirect, got %q", path)
	}
}

func TestStaticUsers(t *testing.T) {
	argonHash, err := password.Hash(password.SchemeArgon2id, "argon-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users, err := NewStaticUsers(map[string]string{"bob": argonHash})
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	ctx := context.Background()

	if id, err := users.Authenticate(ctx, "bob", "argon-password"); err != nil || id != "bob" {
		t.Fatalf("expected bob, got %q %v", id, err)
	}
	if _, err := users.Authenticate(ctx, "bob", "nope-nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := NewStaticUsers(map[string]string{"eve": "plaintext"}); err == nil {
		t.Fatal("expected unencoded hash to be rejected")
	}
}

func TestStaticUsersFoldCase(t *testing.T) {
	hash, err := password.Hash(password.SchemeBcrypt, "alice-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users, err := NewStaticUsers(map[string]string{"Alice": hash})
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	ctx := context.Background()

	for _, name := range []string{"Alice", "alice", "ALICE", " alice "} {
		if id, err := users.Authenticate(ctx, name, "alice-password"); err != nil || id != "alice" {
			t.Fatalf("Authenticate(%q) = %q, %v", name, id, err)
		}
	}
	if _, err := NewStaticUsers(map[string]string{"Bob": hash, "bob": hash}); err == nil {
		t.Fatal("expected usernames differing only in case to be rejected")
	}
}

func TestResolverGuardsApplicationRoutes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	store := session.NewStore(rdb)

	srv := NewServer(store, AuthenticatorFunc(func(context.Context, string, string) (string, error) {
		return "", ErrInvalidCredentials
	}), WithCookieOptions(testCookie))
	router := srv.Router()
	router.Handle("/app", middleware.RedirectUnauthenticated(srv.Resolver(), "/auth")(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app", nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 without a session, got %d", rec.Code)
	}

	sess, err := store.Create(context.Background(), "alice", time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/app", nil)
	req.AddCookie(&http.Cookie{Name: testCookie.Name, Value: sess.ID})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a session, got %d", rec.Code)
	}
}
