package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// CachedPayload returns the payload stored under (scope, key) when it was
// fetched within maxAge. Misses and stale rows both report ok=false; stale
// rows stay in place until overwritten.
func (s *Store) CachedPayload(ctx context.Context, scope, key string, maxAge time.Duration) (string, bool) {
	var entry CacheEntry
	err := s.reader().GetContext(ctx, &entry, `
		SELECT * FROM response_cache WHERE scope = ? AND key = ?`, scope, key)
	s.logReadErr("cached_payload", err)
	if err != nil {
		return "", false
	}
	if time.Since(entry.FetchedAt) > maxAge {
		return "", false
	}
	return entry.Payload, true
}

// PutCachedPayload stores or replaces the payload under (scope, key) with a
// fresh fetch timestamp.
func (s *Store) PutCachedPayload(ctx context.Context, scope, key, payload string) error {
	return s.write(ctx, "put_cached_payload", func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO response_cache (scope, key, payload, fetched_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (scope, key) DO UPDATE SET
				payload = excluded.payload,
				fetched_at = excluded.fetched_at`,
			scope, key, payload, time.Now().UTC(),
		)
		return err
	})
}

// InvalidateCacheScope drops every cached row in a scope. Used after writes
// that make the cached listing stale (e.g. stream or user mutations).
func (s *Store) InvalidateCacheScope(ctx context.Context, scope string) error {
	return s.write(ctx, "invalidate_cache_scope", func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`DELETE FROM response_cache WHERE scope = ?`, scope)
		return err
	})
}
