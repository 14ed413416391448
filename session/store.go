package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps every Redis transport failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrSessionNotFound is returned for unknown or expired sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTTL is returned by Create for a non-positive lifetime.
	ErrInvalidTTL = errors.New("session ttl must be positive")
	// ErrEmptyUserID is returned by Create without a user id.
	ErrEmptyUserID = errors.New("session user id is empty")
)

// DefaultPrefix namespaces every key written by a Store.
const DefaultPrefix = "sessionwatch"

const deleteSessionScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store persists sessions in Redis. It is safe for concurrent use.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	sliding bool
	now     func() time.Time
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) StoreOption {
	return func(s *Store) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.prefix = p
		}
	}
}

// WithSlidingExpiration makes Get extend a session by its original lifetime.
func WithSlidingExpiration(enabled bool) StoreOption {
	return func(s *Store) {
		s.sliding = enabled
	}
}

// WithNow replaces the wall clock, mainly for tests.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(rdb redis.UniversalClient, opts ...StoreOption) *Store {
	s := &Store{
		redis:  rdb,
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Create stores a new session for userID that lives for ttl.
func (s *Store) Create(ctx context.Context, userID string, ttl time.Duration) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	now := s.now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Lifetime:  ttl,
	}
	if err := s.save(ctx, sess, ttl); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := encode(sess)
	if err != nil {
		return err
	}

	userKey := s.userKey(sess.UserID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		pipe.SAdd(ctx, userKey, sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a live session. With sliding expiration enabled it also extends
// the session by its original lifetime.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.sliding && sess.Lifetime > 0 {
		return s.touch(ctx, sess, sess.Lifetime)
	}
	return sess, nil
}

// Touch extends a live session so it expires ttl from now.
func (s *Store) Touch(ctx context.Context, sessionID string, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.touch(ctx, sess, ttl)
}

func (s *Store) touch(ctx context.Context, sess *Session, ttl time.Duration) (*Session, error) {
	now := s.now().UTC()
	next := *sess
	next.ExpiresAt = now.Add(ttl)
	if err := s.save(ctx, &next, ttl); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *Store) load(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := decode(data)
	if err != nil {
		return nil, err
	}

	// Redis TTL and ExpiresAt can disagree by clock skew
	if sess.Expired(s.now()) {
		if err := s.deleteSessionAndIndex(ctx, sess.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotFound
	}

	return sess, nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := decode(data)
	if err != nil {
		// unreadable records are still removable
		if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return nil
	}

	return s.deleteSessionAndIndex(ctx, sess.UserID, sessionID)
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, userID, sessionID string) error {
	keys := []string{s.key(sessionID), s.userKey(userID)}
	if err := deleteSessionLua.Run(ctx, s.redis, keys, sessionID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every session of userID and returns how many
// existed. A session created concurrently with the call may survive it.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	sessionIDs, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		keys = append(keys, s.key(id))
	}

	var deleted *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			deleted = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if deleted == nil {
		return 0, nil
	}
	return int(deleted.Val()), nil
}

// ActiveSessionIDs lists the indexed session ids of userID. The index may
// briefly contain ids whose session already expired.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Ping reports Redis round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
