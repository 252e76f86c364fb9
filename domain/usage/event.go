// Package usage provides usage event value types for request auditing.
package usage

import "time"

// Event records one handled API request. The raw API key never appears
// here; KeyID is either the minted key's ID or "secret" for the shared
// secret.
type Event struct {
	ID            string
	KeyID         string
	Route         string
	Method        string
	Path          string
	StatusCode    int
	LatencyMs     int64
	ResponseBytes int64
	RemoteIP      string
	UserAgent     string
	Timestamp     time.Time
}
