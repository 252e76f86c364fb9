// Package ratelimit provides pure fixed-window rate limiting algebra.
// All functions are deterministic - same input always produces same output.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Route identifies the counter partition a request is accounted under.
type Route string

// Routes with independent windows. Global is checked alongside the
// route-specific window; a request must pass both.
const (
	RouteDownload Route = "download"
	RouteInfo     Route = "info"
	RouteGlobal   Route = "global"
)

// Window is a fixed-window rate limit definition (value type).
type Window struct {
	Route  Route
	Limit  int           // Requests per period
	Period time.Duration // Window duration
}

// Decision represents the outcome of a window check (value type).
type Decision struct {
	Allowed    bool
	Route      Route         // Window that produced the decision
	Remaining  int           // Requests remaining in the window
	RetryAfter time.Duration // If not allowed, time until the window resets
	ResetAt    time.Time     // When the current window ends
}

// Start returns the boundary of the window containing now.
// Boundaries are deterministic: floor(now / period) * period.
func (w Window) Start(now time.Time) time.Time {
	return now.Truncate(w.Period)
}

// Evaluate turns a post-increment counter value into a decision.
// This is a PURE function; the caller owns the increment.
func (w Window) Evaluate(count int, now time.Time) Decision {
	start := w.Start(now)
	resetAt := start.Add(w.Period)

	if count > w.Limit {
		return Decision{
			Allowed:    false,
			Route:      w.Route,
			Remaining:  0,
			RetryAfter: resetAt.Sub(now),
			ResetAt:    resetAt,
		}
	}

	return Decision{
		Allowed:   true,
		Route:     w.Route,
		Remaining: w.Limit - count,
		ResetAt:   resetAt,
	}
}

// CounterKey derives the counter partition key for an identity and route.
// The identity is hashed so the raw API key is never stored or logged by
// any counter backend.
func CounterKey(identity string, route Route) string {
	sum := sha256.Sum256([]byte(identity))
	return "rl:" + string(route) + ":" + hex.EncodeToString(sum[:8])
}
