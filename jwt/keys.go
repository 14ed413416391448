package jwt

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// minSecretLen is the shortest operator secret DeriveHS256Key accepts.
const minSecretLen = 16

// DeriveHS256Key stretches an operator-supplied secret into a 32-byte HS256
// key. Distinct info strings give independent keys from one secret.
func DeriveHS256Key(secret []byte, info string) ([]byte, error) {
	if len(secret) < minSecretLen {
		return nil, errors.New("secret too short")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
