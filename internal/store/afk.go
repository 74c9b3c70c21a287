package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// ensureAFKRow seeds the singleton row so reads never hit an empty table.
// The seeded state is present (not AFK).
func (s *Store) ensureAFKRow() error {
	_, err := s.pool.Writer().Exec(`
		INSERT INTO afk_state (id, is_afk, reason, auto_return_at, updated_at)
		VALUES (1, 0, '', NULL, ?)
		ON CONFLICT (id) DO NOTHING`,
		time.Now().UTC(),
	)
	return err
}

// AFKState returns the current away/present record.
func (s *Store) AFKState(ctx context.Context) (AFKState, error) {
	var st AFKState
	err := s.reader().GetContext(ctx, &st, `SELECT * FROM afk_state WHERE id = 1`)
	s.logReadErr("afk_state", err)
	return st, err
}

// SetAFK marks the operator away. autoReturnAt may be nil for an open-ended
// absence. Calling while already away replaces reason and auto-return.
func (s *Store) SetAFK(ctx context.Context, reason string, autoReturnAt *time.Time) error {
	return s.write(ctx, "set_afk", func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`
			UPDATE afk_state
			SET is_afk = 1, reason = ?, auto_return_at = ?, updated_at = ?
			WHERE id = 1`,
			reason, autoReturnAt, time.Now().UTC(),
		)
		return err
	})
}

// ClearAFK marks the operator present and clears reason and auto-return.
// Clearing while already present is a no-op.
func (s *Store) ClearAFK(ctx context.Context) error {
	return s.write(ctx, "clear_afk", func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`
			UPDATE afk_state
			SET is_afk = 0, reason = '', auto_return_at = NULL, updated_at = ?
			WHERE id = 1`,
			time.Now().UTC(),
		)
		return err
	})
}
