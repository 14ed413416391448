package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/AndreiTuhkru/sessionwatch/internal/config"
	"github.com/AndreiTuhkru/sessionwatch/internal/logging"
	"github.com/AndreiTuhkru/sessionwatch/internal/rate"
	"github.com/AndreiTuhkru/sessionwatch/jwt"
	"github.com/AndreiTuhkru/sessionwatch/session"
	"github.com/AndreiTuhkru/sessionwatch/statusapi"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a Redis-backed session-status backend",
		Long: `serve exposes GET /session/status together with login, logout and
health routes. Without --redis-addr an embedded in-memory Redis is used,
which loses every session on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := root.load(cmd)
			if err != nil {
				return err
			}

			rdb, cleanup, err := openRedis(c.Serve.RedisAddr)
			if err != nil {
				return err
			}
			defer cleanup()

			handler, err := newBackend(c.Serve, rdb)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}

			ln, err := net.Listen("tcp", c.Serve.Addr)
			if err != nil {
				return err
			}
			return serveHTTP(cmd.Context(), ln, handler)
		},
	}

	f := cmd.Flags()
	f.String("addr", ":8080", "listen address")
	f.String("redis-addr", "", "Redis address, empty for an embedded server")
	f.Duration("session-ttl", statusapi.DefaultSessionTTL, "session lifetime")
	f.Bool("sliding", false, "extend sessions on every status check")
	f.String("jwt-secret", "", "issue bearer tokens signed with a key derived from this secret")

	return cmd
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	var mr *miniredis.Miniredis
	if addr == "" {
		var err error
		mr, err = miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start embedded redis: %w", err)
		}
		addr = mr.Addr()
		logging.L.Warn("using embedded redis, sessions are not persisted", "addr", addr)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	cleanup := func() {
		_ = rdb.Close()
		if mr != nil {
			mr.Close()
		}
	}
	return rdb, cleanup, nil
}

func newBackend(c config.Serve, rdb redis.UniversalClient) (http.Handler, error) {
	users, err := statusapi.NewStaticUsers(c.Users)
	if err != nil {
		return nil, fmt.Errorf("serve.users: %w", err)
	}
	if len(c.Users) == 0 {
		logging.L.Warn("no users configured, every login will be rejected")
	}

	store := session.NewStore(rdb,
		session.WithPrefix(c.RedisPrefix),
		session.WithSlidingExpiration(c.Sliding),
	)

	opts := []statusapi.Option{
		statusapi.WithSessionTTL(c.SessionTTL),
		statusapi.WithCookieOptions(cookieOptions(c)),
		statusapi.WithLogger(logging.L),
	}

	if c.LoginAttempts > 0 {
		opts = append(opts, statusapi.WithLoginLimiter(rate.New(rdb, rate.Config{
			Prefix:      c.RedisPrefix,
			MaxAttempts: c.LoginAttempts,
			Window:      c.LoginWindow,
			PerIP:       true,
		})))
	}

	if c.JWTSecret != "" {
		key, err := jwt.DeriveHS256Key([]byte(c.JWTSecret), "sessionwatch session token")
		if err != nil {
			return nil, fmt.Errorf("serve.jwt_secret: %w", err)
		}
		tokens, err := jwt.NewManager(jwt.Config{
			TTL:           c.TokenTTL,
			SigningMethod: jwt.MethodHS256,
			PrivateKey:    key,
			Issuer:        "sessionwatch",
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, statusapi.WithTokens(tokens))
	}

	return statusapi.NewServer(store, users, opts...).Router(), nil
}

// cookieOptions drops the __Host- prefix when cookies are not Secure, since
// the prefix forces the Secure attribute.
func cookieOptions(c config.Serve) session.CookieOptions {
	name := c.CookieName
	if name == "" {
		name = session.CookieName
	}
	if !c.CookieSecure && strings.HasPrefix(name, "__Host-") {
		plain := strings.TrimPrefix(name, "__Host-")
		logging.L.Warn("serve.cookie_secure is off, dropping the __Host- cookie prefix", "cookie", plain)
		name = plain
	}
	return session.CookieOptions{Name: name, Secure: c.CookieSecure}
}

// serveHTTP serves until ctx ends, then drains in-flight requests.
func serveHTTP(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logging.L.Info("serving session status", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logging.L.Info("server stopped")
	return nil
}
