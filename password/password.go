package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Scheme names a hash encoding.
type Scheme string

const (
	SchemeBcrypt   Scheme = "bcrypt"
	SchemeArgon2id Scheme = "argon2id"
)

const minPassBytes = 8

var (
	// ErrUnknownScheme is returned for a hash or scheme that is not supported.
	ErrUnknownScheme = errors.New("unknown password hash scheme")
	// ErrTooShort is returned by Hash for passwords under 8 bytes.
	ErrTooShort = errors.New("password must be at least 8 bytes")
)

// ParseScheme accepts "bcrypt" and "argon2id" case-insensitively. Empty means bcrypt.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemeBcrypt:
		return SchemeBcrypt, nil
	case SchemeArgon2id:
		return SchemeArgon2id, nil
	default:
		return "", ErrUnknownScheme
	}
}

// Hash encodes plaintext with scheme using default parameters.
func Hash(scheme Scheme, plaintext string) (string, error) {
	if len(plaintext) < minPassBytes {
		return "", ErrTooShort
	}
	switch scheme {
	case SchemeBcrypt:
		out, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		return string(out), nil
	case SchemeArgon2id:
		return DefaultArgon2().Hash(plaintext)
	default:
		return "", ErrUnknownScheme
	}
}

// SchemeOf reports the scheme of an encoded hash.
func SchemeOf(encoded string) (Scheme, error) {
	switch {
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return SchemeBcrypt, nil
	case strings.HasPrefix(encoded, "$"+algorithmID+"$"):
		return SchemeArgon2id, nil
	default:
		return "", ErrUnknownScheme
	}
}

// Verify reports whether plaintext matches encoded. A mismatch is (false, nil);
// an undecodable hash is an error.
func Verify(encoded, plaintext string) (bool, error) {
	scheme, err := SchemeOf(encoded)
	if err != nil {
		return false, err
	}
	switch scheme {
	case SchemeBcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plaintext))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return err == nil, err
	default:
		return verifyArgon2(encoded, plaintext)
	}
}
