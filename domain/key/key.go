// Package key provides minted API key value types and pure validation.
// Minted keys supplement the shared secret so operators can hand out
// individually revocable credentials.
package key

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// PrefixLen is the number of leading characters stored in clear for lookup.
const PrefixLen = 12

// Key represents a minted API key (immutable value type).
type Key struct {
	ID        string
	Hash      []byte // bcrypt hash of the full key
	Prefix    string // First PrefixLen chars for lookup
	Name      string
	ExpiresAt *time.Time // nil = never expires
	RevokedAt *time.Time // nil = not revoked
	CreatedAt time.Time
	LastUsed  *time.Time
}

// ValidationResult represents the outcome of key validation (value type).
type ValidationResult struct {
	Valid  bool
	Reason string // Populated only if Valid=false
}

// Reasons for validation failure.
const (
	ReasonNotFound  = "key_not_found"
	ReasonExpired   = "key_expired"
	ReasonRevoked   = "key_revoked"
	ReasonBadFormat = "invalid_format"
)

// Generate creates a new API key with the given prefix.
// Returns the raw key (to give to the caller) and the Key struct (to store).
func Generate(prefix, name string) (rawKey string, k Key, err error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", Key{}, fmt.Errorf("generate key material: %w", err)
	}
	rawKey = prefix + hex.EncodeToString(randomBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return "", Key{}, fmt.Errorf("hash key: %w", err)
	}

	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		return "", Key{}, fmt.Errorf("generate key id: %w", err)
	}

	k = Key{
		ID:        "key_" + hex.EncodeToString(idBytes),
		Hash:      hash,
		Prefix:    rawKey[:PrefixLen],
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	return rawKey, k, nil
}

// ValidateFormat checks the syntactic shape of a presented key and returns
// its lookup prefix. This is a PURE function.
func ValidateFormat(rawKey, keyPrefix string) (prefix string, ok bool) {
	if len(rawKey) < PrefixLen || !strings.HasPrefix(rawKey, keyPrefix) {
		return "", false
	}
	return rawKey[:PrefixLen], true
}

// Validate checks a stored key's lifecycle state at the given time.
// This is a PURE function.
func Validate(k Key, now time.Time) ValidationResult {
	if k.RevokedAt != nil && !k.RevokedAt.After(now) {
		return ValidationResult{Reason: ReasonRevoked}
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return ValidationResult{Reason: ReasonExpired}
	}
	return ValidationResult{Valid: true}
}

// Matches reports whether the presented raw key matches the stored hash.
func Matches(k Key, rawKey string) bool {
	return bcrypt.CompareHashAndPassword(k.Hash, []byte(rawKey)) == nil
}
