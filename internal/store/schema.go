package store

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// migration is one idempotent schema step. Steps are CREATE IF NOT EXISTS
// plus additive column alters, so re-running an applied version is harmless.
type migration struct {
	version int
	apply   func(s *Store) error
}

var migrations = []migration{
	{1, (*Store).migrateCoreSchema},
	{2, (*Store).migrateCacheSchema},
	{3, (*Store).migrateRequestContext},
}

// migrate creates the version table and applies every unapplied migration in
// order, recording each in schema_migrations.
func (s *Store) migrate() error {
	w := s.pool.Writer()
	if _, err := w.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return err
	}

	applied := make(map[int]bool)
	rows, err := w.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := m.apply(s); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := w.Exec(
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		s.logger.Info("applied migration", zap.Int("version", m.version))
	}
	return nil
}

func (s *Store) migrateCoreSchema() error {
	_, err := s.pool.Writer().Exec(`
	CREATE TABLE IF NOT EXISTS afk_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		is_afk INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		auto_return_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		agent_id TEXT PRIMARY KEY,
		agent_type TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS agent_instances (
		instance_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		project_dir TEXT NOT NULL DEFAULT '',
		host TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		FOREIGN KEY (agent_id) REFERENCES agents(agent_id)
	);

	CREATE TABLE IF NOT EXISTS input_requests (
		request_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		question TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL,
		responded_at TIMESTAMP,
		response TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS tasks (
		task_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		outputs TEXT NOT NULL DEFAULT '{}',
		metrics TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_agent_instances_agent_id ON agent_instances(agent_id);
	CREATE INDEX IF NOT EXISTS idx_input_requests_status ON input_requests(status);
	CREATE INDEX IF NOT EXISTS idx_input_requests_created ON input_requests(created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_agent_id ON tasks(agent_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`)
	return err
}

func (s *Store) migrateCacheSchema() error {
	_, err := s.pool.Writer().Exec(`
	CREATE TABLE IF NOT EXISTS response_cache (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		payload TEXT NOT NULL,
		fetched_at TIMESTAMP NOT NULL,
		PRIMARY KEY (scope, key)
	);
	`)
	return err
}

func (s *Store) migrateRequestContext() error {
	return s.ensureColumn("input_requests", "context", "TEXT NOT NULL DEFAULT ''")
}

// ensureColumn adds a column if it does not exist yet. SQLite has no
// ADD COLUMN IF NOT EXISTS, so presence is checked via PRAGMA table_info.
func (s *Store) ensureColumn(table, column, definition string) error {
	exists, err := s.columnExists(table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = s.pool.Writer().Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	return err
}

func (s *Store) columnExists(table, column string) (bool, error) {
	rows, err := s.pool.Writer().Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
