package sqlite_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/vidgate/vidgate/adapters/sqlite"
	"github.com/vidgate/vidgate/domain/key"
	"github.com/vidgate/vidgate/domain/ratelimit"
	"github.com/vidgate/vidgate/domain/usage"
)

func setupTestDB(t *testing.T) (*sqlite.DB, func()) {
	t.Helper()

	// Create temp file for test database
	f, err := os.CreateTemp("", "vidgate-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := sqlite.Open(path)
	if err != nil {
		os.Remove(path)
		t.Fatalf("open database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		os.Remove(path)
		t.Fatalf("migrate: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(path)
	}

	return db, cleanup
}

// -----------------------------------------------------------------------------
// KeyStore Tests
// -----------------------------------------------------------------------------

func TestKeyStore_CreateAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewKeyStore(db)
	ctx := context.Background()

	raw, k, err := key.Generate("vg", "ci key")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	if err := store.Create(ctx, k); err != nil {
		t.Fatalf("create key: %v", err)
	}

	got, err := store.Get(ctx, k.Prefix)
	if err != nil {
		t.Fatalf("get keys: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d keys, want 1", len(got))
	}
	if got[0].ID != k.ID {
		t.Errorf("ID = %s, want %s", got[0].ID, k.ID)
	}
	if !key.Matches(got[0], raw) {
		t.Error("stored hash does not match the raw key")
	}
}

func TestKeyStore_GetUnknownPrefix(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewKeyStore(db)

	got, err := store.Get(context.Background(), "nosuchprefix")
	if err != nil {
		t.Fatalf("get keys: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d keys, want 0", len(got))
	}
}

func TestKeyStore_Revoke(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewKeyStore(db)
	ctx := context.Background()

	_, k, err := key.Generate("vg", "")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := store.Create(ctx, k); err != nil {
		t.Fatalf("create key: %v", err)
	}

	now := time.Now().UTC()
	if err := store.Revoke(ctx, k.ID, now); err != nil {
		t.Fatalf("revoke key: %v", err)
	}

	got, err := store.Get(ctx, k.Prefix)
	if err != nil {
		t.Fatalf("get keys: %v", err)
	}
	if got[0].RevokedAt == nil {
		t.Error("RevokedAt = nil, want set")
	}
	if res := key.Validate(got[0], now.Add(time.Second)); res.Valid || res.Reason != key.ReasonRevoked {
		t.Errorf("validation = %+v, want revoked", res)
	}
}

func TestKeyStore_RevokeMissing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewKeyStore(db)

	err := store.Revoke(context.Background(), "key_missing", time.Now())
	if err != sqlite.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestKeyStore_ListAndLastUsed(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewKeyStore(db)
	ctx := context.Background()

	_, k1, _ := key.Generate("vg", "first")
	_, k2, _ := key.Generate("vg", "second")
	k2.CreatedAt = k1.CreatedAt.Add(time.Minute)

	for _, k := range []key.Key{k1, k2} {
		if err := store.Create(ctx, k); err != nil {
			t.Fatalf("create key: %v", err)
		}
	}

	keys, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2", len(keys))
	}
	if keys[0].ID != k2.ID {
		t.Errorf("first listed key = %s, want newest %s", keys[0].ID, k2.ID)
	}

	used := time.Now().UTC().Truncate(time.Second)
	if err := store.UpdateLastUsed(ctx, k1.ID, used); err != nil {
		t.Fatalf("update last used: %v", err)
	}
	keys, _ = store.List(ctx)
	for _, k := range keys {
		if k.ID == k1.ID {
			if k.LastUsed == nil || !k.LastUsed.Equal(used) {
				t.Errorf("LastUsed = %v, want %v", k.LastUsed, used)
			}
		}
	}
}

// -----------------------------------------------------------------------------
// UsageStore Tests
// -----------------------------------------------------------------------------

func testEvent(id string, ts time.Time) usage.Event {
	return usage.Event{
		ID:            id,
		KeyID:         "key_abcd1234",
		Route:         string(ratelimit.RouteInfo),
		Method:        "GET",
		Path:          "/api/info",
		StatusCode:    200,
		LatencyMs:     42,
		ResponseBytes: 512,
		RemoteIP:      "203.0.113.7",
		UserAgent:     "curl/8.5.0",
		Timestamp:     ts,
	}
}

func TestUsageStore_RecordBatchAndCount(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewUsageStore(db)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []usage.Event{
		testEvent("evt-1", base),
		testEvent("evt-2", base.Add(time.Minute)),
		testEvent("evt-3", base.Add(2*time.Minute)),
	}
	if err := store.RecordBatch(ctx, events); err != nil {
		t.Fatalf("record batch: %v", err)
	}

	n, err := store.CountSince(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("count since: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestUsageStore_RecordBatchEmpty(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewUsageStore(db)
	if err := store.RecordBatch(context.Background(), nil); err != nil {
		t.Fatalf("record empty batch: %v", err)
	}
}

func TestUsageStore_Cleanup(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewUsageStore(db)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	events := []usage.Event{
		testEvent("evt-old", base.Add(-48*time.Hour)),
		testEvent("evt-new", base),
	}
	if err := store.RecordBatch(ctx, events); err != nil {
		t.Fatalf("record batch: %v", err)
	}

	deleted, err := store.Cleanup(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	n, _ := store.CountSince(ctx, base.Add(-72*time.Hour))
	if n != 1 {
		t.Errorf("remaining = %d, want 1", n)
	}
}
