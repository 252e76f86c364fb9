// Package auth provides the shared-secret authenticator.
// This package has NO dependencies on I/O or external packages.
package auth

import "crypto/subtle"

// Authenticator validates presented API keys against the configured secret.
// The comparison is constant-time so validation leaks no timing signal.
type Authenticator struct {
	secret []byte
}

// New creates an authenticator for the given shared secret.
// An empty secret authenticates nothing.
func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate reports whether the presented key matches the configured
// secret. Absent or empty keys never authenticate.
func (a *Authenticator) Authenticate(presented string) bool {
	if len(a.secret) == 0 || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare(a.secret, []byte(presented)) == 1
}
