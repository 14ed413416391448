package statusapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AndreiTuhkru/sessionwatch/password"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator checks a username and password and returns the user id.
type Authenticator interface {
	Authenticate(ctx context.Context, username, plaintext string) (string, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, username, plaintext string) (string, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, username, plaintext string) (string, error) {
	return f(ctx, username, plaintext)
}

// StaticUsers authenticates against a fixed username to password-hash table.
// Usernames are case-insensitive; the lower-cased username doubles as the
// user id.
type StaticUsers struct {
	hashes map[string]string
	// compared against for unknown users so both paths cost one hash
	dummy string
}

// NewStaticUsers validates that every hash is a supported encoding.
func NewStaticUsers(hashes map[string]string) (*StaticUsers, error) {
	out := make(map[string]string, len(hashes))
	for user, hash := range hashes {
		user = strings.ToLower(strings.TrimSpace(user))
		if user == "" {
			return nil, errors.New("static users: empty username")
		}
		if _, dup := out[user]; dup {
			return nil, fmt.Errorf("static users: %s: duplicate username", user)
		}
		if _, err := password.SchemeOf(hash); err != nil {
			return nil, fmt.Errorf("static users: %s: %w", user, err)
		}
		out[user] = hash
	}

	dummy, err := password.Hash(password.SchemeBcrypt, "sessionwatch-dummy-password")
	if err != nil {
		return nil, err
	}
	return &StaticUsers{hashes: out, dummy: dummy}, nil
}

func (s *StaticUsers) Authenticate(ctx context.Context, username, plaintext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	username = strings.ToLower(strings.TrimSpace(username))
	hash, known := s.hashes[username]
	if !known {
		_, _ = password.Verify(s.dummy, plaintext)
		return "", ErrInvalidCredentials
	}

	ok, err := password.Verify(hash, plaintext)
	if err != nil {
		return "", fmt.Errorf("verify %s: %w", username, err)
	}
	if !ok {
		return "", ErrInvalidCredentials
	}
	return username, nil
}
