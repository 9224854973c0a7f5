package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/syncerr"
)

// KVEntry is one stored key/value pair.
type KVEntry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// KVRepository is the persistent key/value store behind the cache.
type KVRepository struct {
	db  *DB
	now func() time.Time
}

// NewKVRepository creates a KVRepository.
func NewKVRepository(db *DB) *KVRepository {
	return &KVRepository{db: db, now: time.Now}
}

// GetItem returns the value at key.
func (r *KVRepository) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, syncerr.Persistence("kv get", err)
	}
	return value, true, nil
}

// SetItem stores value at key, replacing any previous value.
func (r *KVRepository) SetItem(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return syncerr.Validation("kv set", "key is required")
	}
	now := r.now().UTC().Format(time.RFC3339Nano)
	err := DefaultRetry.Do(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `
INSERT INTO kv(key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	value=excluded.value,
	updated_at=excluded.updated_at
`, key, value, now)
		return err
	})
	if err != nil {
		return syncerr.Persistence("kv set", err)
	}
	return nil
}

// RemoveItem deletes key. Removing a missing key is not an error.
func (r *KVRepository) RemoveItem(ctx context.Context, key string) error {
	err := DefaultRetry.Do(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return syncerr.Persistence("kv remove", err)
	}
	return nil
}

// List returns the entries whose key starts with prefix, ordered by key.
func (r *KVRepository) List(ctx context.Context, prefix string) ([]KVEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT key, value, updated_at
FROM kv
WHERE substr(key, 1, ?) = ?
ORDER BY key
`, len(prefix), prefix)
	if err != nil {
		return nil, syncerr.Persistence("kv list", err)
	}
	defer rows.Close()

	var out []KVEntry
	for rows.Next() {
		var (
			e         KVEntry
			updatedAt string
		)
		if err := rows.Scan(&e.Key, &e.Value, &updatedAt); err != nil {
			return nil, syncerr.Persistence("kv list", fmt.Errorf("scan: %w", err))
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			e.UpdatedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Persistence("kv list", err)
	}
	return out, nil
}

// Purge deletes every entry under prefix and returns how many were removed.
func (r *KVRepository) Purge(ctx context.Context, prefix string) (int64, error) {
	var n int64
	err := r.db.TransactionWithRetry(ctx, DefaultRetry, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, syncerr.Persistence("kv purge", err)
	}
	return n, nil
}
