package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/vidgate/vidgate/domain/key"
	"github.com/vidgate/vidgate/ports"
)

// KeyStore implements ports.KeyStore using SQLite.
type KeyStore struct {
	db *DB
}

// NewKeyStore creates a new SQLite key store.
func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db}
}

// Get retrieves keys matching a prefix.
func (s *KeyStore) Get(ctx context.Context, prefix string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hash, prefix, name, expires_at, revoked_at, created_at, last_used
		FROM api_keys
		WHERE prefix = ?
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []key.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, hash, prefix, name, expires_at, revoked_at, created_at, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.Hash, k.Prefix, k.Name,
		nullTime(k.ExpiresAt), nullTime(k.RevokedAt), k.CreatedAt, nullTime(k.LastUsed))
	return err
}

// Revoke marks a key as revoked.
func (s *KeyStore) Revoke(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = ? WHERE id = ?
	`, at, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all keys, newest first.
func (s *KeyStore) List(ctx context.Context) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hash, prefix, name, expires_at, revoked_at, created_at, last_used
		FROM api_keys
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []key.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateLastUsed updates the last used timestamp.
func (s *KeyStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = ? WHERE id = ?
	`, at, id)
	return err
}

func scanKey(rows *sql.Rows) (key.Key, error) {
	var k key.Key
	var expiresAt, revokedAt, lastUsed sql.NullTime

	err := rows.Scan(
		&k.ID, &k.Hash, &k.Prefix, &k.Name,
		&expiresAt, &revokedAt, &k.CreatedAt, &lastUsed,
	)
	if err != nil {
		return key.Key{}, err
	}

	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Time
	}
	if lastUsed.Valid {
		k.LastUsed = &lastUsed.Time
	}

	return k, nil
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
