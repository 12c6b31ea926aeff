package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	saltLength = 16
	keyLength  = 64
)

// ScryptParams tunes the key derivation cost. The defaults target tens of
// milliseconds per call on commodity hardware.
type ScryptParams struct {
	N int
	R int
	P int
}

// DefaultScryptParams returns the production cost settings.
func DefaultScryptParams() ScryptParams {
	return ScryptParams{N: 32768, R: 8, P: 1}
}

// PasswordHasher derives and verifies salted scrypt password hashes. The
// stored form is hex(key) + "." + hex(salt); the salt is random per
// credential and never reused.
type PasswordHasher struct {
	params ScryptParams
}

// NewPasswordHasher constructs a hasher, falling back to defaults for any
// non-positive parameter.
func NewPasswordHasher(params ScryptParams) *PasswordHasher {
	defaults := DefaultScryptParams()
	if params.N <= 1 {
		params.N = defaults.N
	}
	if params.R <= 0 {
		params.R = defaults.R
	}
	if params.P <= 0 {
		params.P = defaults.P
	}
	return &PasswordHasher{params: params}
}

// Hash derives a stored credential from a plaintext password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key, err := scrypt.Key([]byte(password), salt, h.params.N, h.params.R, h.params.P, keyLength)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}

	return hex.EncodeToString(key) + "." + hex.EncodeToString(salt), nil
}

// Verify re-derives the key from the supplied password using the stored
// salt and compares in constant time. Any malformed stored value fails
// closed with false rather than an error.
func (h *PasswordHasher) Verify(password, stored string) bool {
	parts := strings.Split(stored, ".")
	if len(parts) != 2 {
		return false
	}

	storedKey, err := hex.DecodeString(parts[0])
	if err != nil || len(storedKey) != keyLength {
		return false
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil || len(salt) != saltLength {
		return false
	}

	key, err := scrypt.Key([]byte(password), salt, h.params.N, h.params.R, h.params.P, keyLength)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(key, storedKey) == 1
}
