// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/vidgate/vidgate/domain/extract"
	"github.com/vidgate/vidgate/domain/key"
	"github.com/vidgate/vidgate/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Counter Store Port
// -----------------------------------------------------------------------------

// CounterStore persists fixed-window rate limit counters. Both operations
// must be atomic per key; backends may be in-process or external.
type CounterStore interface {
	// Incr bumps the counter for the window starting at windowStart and
	// returns the post-increment value. A stored counter with a different
	// window start is reset before incrementing.
	Incr(ctx context.Context, counterKey string, windowStart time.Time, period time.Duration) (int, error)

	// Decr rolls back one provisional increment for the window starting at
	// windowStart. A counter from another window is left untouched.
	Decr(ctx context.Context, counterKey string, windowStart time.Time) error
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// KeyStore persists minted API keys.
type KeyStore interface {
	// Get retrieves keys matching a prefix (for validation).
	Get(ctx context.Context, prefix string) ([]key.Key, error)

	// Create stores a new key.
	Create(ctx context.Context, k key.Key) error

	// Revoke marks a key as revoked.
	Revoke(ctx context.Context, id string, at time.Time) error

	// List returns all keys.
	List(ctx context.Context) ([]key.Key, error)

	// UpdateLastUsed updates the last used timestamp.
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
}

// UsageStore persists usage events.
type UsageStore interface {
	// RecordBatch stores multiple usage events.
	RecordBatch(ctx context.Context, events []usage.Event) error

	// CountSince returns the number of events recorded at or after start.
	CountSince(ctx context.Context, start time.Time) (int64, error)

	// Cleanup removes events older than the cutoff.
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}

// -----------------------------------------------------------------------------
// Event Ports
// -----------------------------------------------------------------------------

// UsageRecorder accepts usage events for async processing.
type UsageRecorder interface {
	// Record queues a usage event for processing. Non-blocking.
	Record(event usage.Event)

	// Flush forces immediate processing of queued events.
	Flush(ctx context.Context) error

	// Close stops the recorder and flushes remaining events.
	Close() error
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// Extractor is the external video-extraction capability.
type Extractor interface {
	// Info fetches the metadata record for a video URL.
	Info(ctx context.Context, req extract.Request) (extract.Metadata, error)

	// Download resolves a video URL into a streamed artifact. The caller
	// owns the stream body and must close it.
	Download(ctx context.Context, req extract.Request) (extract.Stream, error)

	// HealthCheck verifies the extraction service is reachable.
	HealthCheck(ctx context.Context) error
}
