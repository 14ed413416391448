package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// schemaVersion is written into every stored session.
const schemaVersion = 1

// ErrSessionCorrupt is returned when a stored session cannot be decoded.
var ErrSessionCorrupt = errors.New("session corrupt")

// Session is the server-side record behind a session cookie.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	// Lifetime is the ttl given to Create; sliding expiration reuses it.
	Lifetime time.Duration `json:"lifetime"`
}

// Expired reports whether the session lifetime has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type storedSession struct {
	Version int `json:"v"`
	Session
}

func encode(sess *Session) ([]byte, error) {
	return json.Marshal(storedSession{Version: schemaVersion, Session: *sess})
}

func decode(data []byte) (*Session, error) {
	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	if stored.Version != schemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrSessionCorrupt, stored.Version)
	}
	if stored.ID == "" || stored.UserID == "" {
		return nil, fmt.Errorf("%w: missing identifiers", ErrSessionCorrupt)
	}
	sess := stored.Session
	return &sess, nil
}
