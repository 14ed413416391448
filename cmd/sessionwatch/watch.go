package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AndreiTuhkru/sessionwatch"
	"github.com/AndreiTuhkru/sessionwatch/httpcheck"
	"github.com/AndreiTuhkru/sessionwatch/internal/logging"
	"github.com/AndreiTuhkru/sessionwatch/metrics/export/prometheus"
	"github.com/spf13/cobra"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var (
		once        bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the session-status endpoint until the session ends",
		Long: `watch checks the session immediately and then once per interval.
When the backend reports no authenticated session, the redirect target is
printed to stdout. With --exit-on-redirect (or --once) the command exits with
status 3 on redirect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := root.load(cmd)
			if err != nil {
				return err
			}
			cfg, err := c.MonitorConfig()
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}

			checkerOpts := []httpcheck.Option{
				httpcheck.WithStatusPath(c.Watch.StatusPath),
				httpcheck.WithHTTPClient(&http.Client{Timeout: cfg.Monitor.CheckTimeout}),
				httpcheck.WithUserAgent("sessionwatch/" + version),
			}
			if c.Watch.CookieValue != "" {
				checkerOpts = append(checkerOpts, httpcheck.WithSessionCookie(&http.Cookie{
					Name:  c.Watch.CookieName,
					Value: c.Watch.CookieValue,
					Path:  "/",
				}))
			}
			if c.Watch.Token != "" {
				checkerOpts = append(checkerOpts, httpcheck.WithBearerToken(c.Watch.Token))
			}
			checker, err := httpcheck.New(c.Watch.BaseURL, checkerOpts...)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var redirected atomic.Bool
			exitOnRedirect := c.Watch.ExitOnRedirect || once
			target := strings.TrimRight(c.Watch.BaseURL, "/") + cfg.Monitor.RedirectPath
			redirector := sessionwatch.RedirectorFunc(func(_ context.Context, _ string) {
				redirected.Store(true)
				fmt.Fprintln(cmd.OutOrStdout(), target)
				if exitOnRedirect {
					cancel()
				}
			})

			m, err := sessionwatch.New().
				WithConfig(cfg).
				WithMetricsEnabled(cfg.Metrics.Enabled || metricsAddr != "").
				WithChecker(checker).
				WithRedirector(redirector).
				WithLogger(logging.L).
				WithAuditSink(sessionwatch.NewJSONWriterSink(cmd.ErrOrStderr())).
				Build()
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			defer m.Close()

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: metricsMux(m), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logging.L.Error("metrics listener failed", "addr", metricsAddr, "err", err)
					}
				}()
				defer srv.Close()
			}

			if once {
				switch m.Activate(ctx) {
				case sessionwatch.OutcomeAuthenticated:
					return nil
				case sessionwatch.OutcomeCheckFailed:
					if !redirected.Load() {
						return &exitError{code: exitFailure, err: errors.New("session check failed")}
					}
				}
				return &exitError{code: exitRedirected}
			}

			logging.L.Info("watching session", "endpoint", checker.Endpoint(), "interval", cfg.Monitor.Interval)
			err = m.Run(ctx)
			if redirected.Load() && exitOnRedirect {
				return &exitError{code: exitRedirected}
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&once, "once", false, "check once and exit: 0 authenticated, 3 redirected, 1 check failed")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.String("base-url", "http://localhost:8080", "backend base URL")
	f.String("status-path", httpcheck.DefaultStatusPath, "session-status path")
	f.String("cookie-name", "__Host-session", "session cookie name")
	f.String("cookie", "", "session cookie value")
	f.String("token", "", "bearer token")
	f.Duration("interval", sessionwatch.DefaultInterval, "time between checks")
	f.String("redirect-path", sessionwatch.DefaultRedirectPath, "authentication entry point")
	f.String("failure-policy", sessionwatch.FailClosed.String(), "fail_closed redirects on check errors, fail_open ignores them")
	f.Duration("check-timeout", 10*time.Second, "per-check timeout, 0 disables")
	f.Bool("audit", false, "write audit events as JSON lines to stderr")
	f.Bool("exit-on-redirect", false, "exit with status 3 after the first redirect")

	return cmd
}

func metricsMux(m *sessionwatch.Monitor) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prometheus.NewExporter(m).Handler())
	return mux
}
