// Package idgen provides ID generation.
package idgen

import "github.com/google/uuid"

// UUID generates UUIDv4 identifiers.
type UUID struct{}

// New returns a new random UUID string.
func (UUID) New() string {
	return uuid.NewString()
}
