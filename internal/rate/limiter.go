package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned once a window holds more than MaxAttempts failures.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps every Redis transport failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Config holds login throttle parameters.
type Config struct {
	Prefix      string
	MaxAttempts int
	Window      time.Duration
	PerIP       bool
}

// DefaultConfig allows five failures per user and per address every 15 minutes.
func DefaultConfig() Config {
	return Config{
		Prefix:      "sessionwatch",
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		PerIP:       true,
	}
}

// LoginLimiter counts failed logins per username and client address.
type LoginLimiter struct {
	redis  redis.UniversalClient
	config Config
}

// New returns a LoginLimiter. Zero fields of cfg take DefaultConfig values.
func New(rdb redis.UniversalClient, cfg Config) *LoginLimiter {
	def := DefaultConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	return &LoginLimiter{redis: rdb, config: cfg}
}

func (l *LoginLimiter) keys(username, ip string) []string {
	keys := []string{l.config.Prefix + ":rl:u:" + strings.ToLower(username)}
	if l.config.PerIP && ip != "" {
		keys = append(keys, l.config.Prefix+":rl:ip:"+ip)
	}
	return keys
}

// Allow reports ErrRateLimited while any window for username or ip is exhausted.
func (l *LoginLimiter) Allow(ctx context.Context, username, ip string) error {
	for _, key := range l.keys(username, ip) {
		count, err := l.redis.Get(ctx, key).Int64()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if count >= int64(l.config.MaxAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// Fail records a failed attempt. It returns ErrRateLimited when this attempt
// exhausted a window.
func (l *LoginLimiter) Fail(ctx context.Context, username, ip string) error {
	limited := false
	for _, key := range l.keys(username, ip) {
		count, err := l.redis.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if count == 1 {
			if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
		if count >= int64(l.config.MaxAttempts) {
			limited = true
		}
	}
	if limited {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the username window after a successful login. The address
// window is kept so one valid account cannot launder guesses for others.
func (l *LoginLimiter) Reset(ctx context.Context, username string) error {
	if err := l.redis.Del(ctx, l.keys(username, "")[0]).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the failures recorded for username in the current window.
func (l *LoginLimiter) Attempts(ctx context.Context, username string) (int, error) {
	count, err := l.redis.Get(ctx, l.keys(username, "")[0]).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}
