// Package store provides the embedded database behind the bridge: agents,
// input requests, tasks, AFK state, and the persisted read-through cache.
//
// Concurrency model: one writer at a time, enforced by a process-level mutex
// on top of the single-connection writer pool. Readers run concurrently and
// never observe a torn multi-statement transaction because every write is
// wrapped in BEGIN...COMMIT with rollback on error.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/zulipmcp/zulipmcp/internal/common/logger"
	"github.com/zulipmcp/zulipmcp/internal/db"
	"github.com/zulipmcp/zulipmcp/internal/telemetry"
)

// WriteError wraps a failed write with the name of the store operation.
// The transaction wrap guarantees no partial state leaked.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Store owns all persisted rows. Callers interact only through the typed
// façade methods; no caller holds long-lived row references.
type Store struct {
	pool    *db.Pool
	writeMu sync.Mutex
	logger  *logger.Logger
}

// Open opens (creating if needed) the database at path and applies
// migrations. Migration failure is fatal to the caller.
func Open(path string, log *logger.Logger) (*Store, error) {
	pool, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	s := &Store{pool: pool, logger: log}
	if err := s.migrate(); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := s.ensureAFKRow(); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

// write runs fn inside a transaction on the writer connection, holding the
// process write mutex. Errors roll back and surface as *WriteError.
func (s *Store) write(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	ctx, span := telemetry.Tracer("zulip-mcp-db").Start(ctx, "db."+op)
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return &WriteError{Op: op, Err: err}
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return &WriteError{Op: op, Err: fmt.Errorf("%w (rollback failed: %v)", err, rbErr)}
		}
		return &WriteError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &WriteError{Op: op, Err: err}
	}
	return nil
}

// reader exposes the read pool for façade queries. Read failures are
// reported to callers as empty results plus a log line; they never abort.
func (s *Store) reader() *sqlx.DB {
	return s.pool.Reader()
}

func (s *Store) logReadErr(op string, err error) {
	if err != nil && err != sql.ErrNoRows {
		s.logger.Warn("store read failed", zap.String("op", op), zap.Error(err))
	}
}
