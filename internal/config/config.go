// Package config loads the sessionwatch command configuration from defaults,
// a YAML file, SESSIONWATCH_* environment variables and command flags, in
// increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AndreiTuhkru/sessionwatch"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// FileName is the config file searched for, without extension.
	FileName = "sessionwatch"
	// EnvPrefix prefixes every environment override, e.g. SESSIONWATCH_MONITOR_INTERVAL.
	EnvPrefix = "SESSIONWATCH"
)

// File is the on-disk configuration.
type File struct {
	Monitor Monitor `mapstructure:"monitor" yaml:"monitor"`
	Audit   Audit   `mapstructure:"audit" yaml:"audit"`
	Metrics Metrics `mapstructure:"metrics" yaml:"metrics"`
	Log     Log     `mapstructure:"log" yaml:"log"`
	Watch   Watch   `mapstructure:"watch" yaml:"watch"`
	Serve   Serve   `mapstructure:"serve" yaml:"serve"`
}

type Monitor struct {
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	RedirectPath  string        `mapstructure:"redirect_path" yaml:"redirect_path"`
	FailurePolicy string        `mapstructure:"failure_policy" yaml:"failure_policy"`
	CheckTimeout  time.Duration `mapstructure:"check_timeout" yaml:"check_timeout"`
}

type Audit struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	BufferSize int  `mapstructure:"buffer_size" yaml:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full" yaml:"drop_if_full"`
}

type Metrics struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	LatencyHistograms bool `mapstructure:"latency_histograms" yaml:"latency_histograms"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Watch configures the polling client.
type Watch struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	StatusPath     string `mapstructure:"status_path" yaml:"status_path"`
	CookieName     string `mapstructure:"cookie_name" yaml:"cookie_name"`
	CookieValue    string `mapstructure:"cookie_value" yaml:"cookie_value,omitempty"`
	Token          string `mapstructure:"token" yaml:"token,omitempty"`
	ExitOnRedirect bool   `mapstructure:"exit_on_redirect" yaml:"exit_on_redirect"`
}

// Serve configures the reference status backend.
type Serve struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	RedisAddr    string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPrefix  string        `mapstructure:"redis_prefix" yaml:"redis_prefix"`
	SessionTTL   time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	Sliding      bool          `mapstructure:"sliding" yaml:"sliding"`
	CookieName   string        `mapstructure:"cookie_name" yaml:"cookie_name"`
	// CookieSecure marks the cookie Secure. When off, a __Host- prefix is
	// dropped from CookieName because browsers reject it without Secure.
	CookieSecure bool          `mapstructure:"cookie_secure" yaml:"cookie_secure"`
	JWTSecret    string        `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty"`
	TokenTTL     time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	// LoginAttempts failed logins per user or address open a LoginWindow
	// lockout. 0 disables throttling.
	LoginAttempts int           `mapstructure:"login_attempts" yaml:"login_attempts"`
	LoginWindow   time.Duration `mapstructure:"login_window" yaml:"login_window"`
	// Users maps username to a bcrypt or argon2id hash. Usernames are
	// case-folded by the loader.
	Users map[string]string `mapstructure:"users" yaml:"users,omitempty"`
}

// Default returns the configuration used when nothing overrides it.
func Default() File {
	core := sessionwatch.DefaultConfig()
	return File{
		Monitor: Monitor{
			Interval:      core.Monitor.Interval,
			RedirectPath:  core.Monitor.RedirectPath,
			FailurePolicy: core.Monitor.FailurePolicy.String(),
			CheckTimeout:  core.Monitor.CheckTimeout,
		},
		Audit: Audit{
			Enabled:    core.Audit.Enabled,
			BufferSize: core.Audit.BufferSize,
			DropIfFull: core.Audit.DropIfFull,
		},
		Metrics: Metrics{
			Enabled:           core.Metrics.Enabled,
			LatencyHistograms: core.Metrics.EnableLatencyHistograms,
		},
		Log: Log{Level: "info", Format: "text"},
		Watch: Watch{
			BaseURL:    "http://localhost:8080",
			StatusPath: "/session/status",
			CookieName: "__Host-session",
		},
		Serve: Serve{
			Addr:        ":8080",
			RedisPrefix: "sessionwatch",
			SessionTTL:  24 * time.Hour,
			CookieName:  "__Host-session",
			TokenTTL:    15 * time.Minute,

			LoginAttempts: 5,
			LoginWindow:   15 * time.Minute,
		},
	}
}

func defaultsMap() map[string]any {
	d := Default()
	return map[string]any{
		"monitor.interval":           d.Monitor.Interval,
		"monitor.redirect_path":      d.Monitor.RedirectPath,
		"monitor.failure_policy":     d.Monitor.FailurePolicy,
		"monitor.check_timeout":      d.Monitor.CheckTimeout,
		"audit.enabled":              d.Audit.Enabled,
		"audit.buffer_size":          d.Audit.BufferSize,
		"audit.drop_if_full":         d.Audit.DropIfFull,
		"metrics.enabled":            d.Metrics.Enabled,
		"metrics.latency_histograms": d.Metrics.LatencyHistograms,
		"log.level":                  d.Log.Level,
		"log.format":                 d.Log.Format,
		"watch.base_url":             d.Watch.BaseURL,
		"watch.status_path":          d.Watch.StatusPath,
		"watch.cookie_name":          d.Watch.CookieName,
		"watch.cookie_value":         "",
		"watch.token":                "",
		"watch.exit_on_redirect":     false,
		"serve.addr":                 d.Serve.Addr,
		"serve.redis_addr":           "",
		"serve.redis_prefix":         d.Serve.RedisPrefix,
		"serve.session_ttl":          d.Serve.SessionTTL,
		"serve.sliding":              false,
		"serve.cookie_name":          d.Serve.CookieName,
		"serve.cookie_secure":        false,
		"serve.jwt_secret":           "",
		"serve.token_ttl":            d.Serve.TokenTTL,
		"serve.login_attempts":       d.Serve.LoginAttempts,
		"serve.login_window":         d.Serve.LoginWindow,
	}
}

// FlagKeys maps command flag names to config keys.
var FlagKeys = map[string]string{
	"interval":         "monitor.interval",
	"redirect-path":    "monitor.redirect_path",
	"failure-policy":   "monitor.failure_policy",
	"check-timeout":    "monitor.check_timeout",
	"audit":            "audit.enabled",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"base-url":         "watch.base_url",
	"status-path":      "watch.status_path",
	"cookie-name":      "watch.cookie_name",
	"cookie":           "watch.cookie_value",
	"token":            "watch.token",
	"exit-on-redirect": "watch.exit_on_redirect",
	"addr":             "serve.addr",
	"redis-addr":       "serve.redis_addr",
	"session-ttl":      "serve.session_ttl",
	"sliding":          "serve.sliding",
	"jwt-secret":       "serve.jwt_secret",
}

// DefaultPath is the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not get user config directory: %w", err)
	}
	return filepath.Join(dir, "sessionwatch", FileName+".yaml"), nil
}

// Load resolves the configuration for cmd. A missing config file is not an
// error unless explicitPath names it.
func Load(cmd *cobra.Command, explicitPath string) (File, error) {
	var c File
	v := viper.New()

	for key, value := range defaultsMap() {
		v.SetDefault(key, value)
	}

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	}
	if userPath, err := DefaultPath(); err == nil {
		v.AddConfigPath(filepath.Dir(userPath))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || explicitPath != "" {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for name, key := range FlagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return c, err
				}
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// MonitorConfig converts the file into a validated core configuration.
func (f File) MonitorConfig() (sessionwatch.Config, error) {
	policy, err := sessionwatch.ParseFailurePolicy(f.Monitor.FailurePolicy)
	if err != nil {
		return sessionwatch.Config{}, err
	}

	cfg := sessionwatch.DefaultConfig()
	cfg.Monitor.Interval = f.Monitor.Interval
	cfg.Monitor.RedirectPath = f.Monitor.RedirectPath
	cfg.Monitor.FailurePolicy = policy
	cfg.Monitor.CheckTimeout = f.Monitor.CheckTimeout
	cfg.Audit.Enabled = f.Audit.Enabled
	cfg.Audit.BufferSize = f.Audit.BufferSize
	cfg.Audit.DropIfFull = f.Audit.DropIfFull
	cfg.Metrics.Enabled = f.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = f.Metrics.LatencyHistograms

	if err := cfg.Validate(); err != nil {
		return sessionwatch.Config{}, err
	}
	return cfg, nil
}

// Write stores f as YAML at path, creating parent directories. The file may
// hold secrets, so it is written 0600.
func Write(path string, f File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
