package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store[E] in a single file.
//
// Schema:
//   - agent_runs: one row per run (results, error, timestamps)
//   - agent_run_logs: one row per transaction log entry, ordered by seq
//
// The database runs in WAL mode with a single connection, so writes from
// several graphs are serialized.
type SQLiteStore[E any] struct {
	*sqlStore[E]
	path string
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS agent_runs (
		run_id TEXT NOT NULL PRIMARY KEY,
		results TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS agent_run_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES agent_runs(run_id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		entry TEXT NOT NULL,
		UNIQUE(run_id, seq)
	)`,
	"CREATE INDEX IF NOT EXISTS idx_agent_runs_started ON agent_runs(started_at)",
}

const sqliteUpsertRun = `
	INSERT INTO agent_runs (run_id, results, error, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(run_id) DO UPDATE SET
		results = excluded.results,
		error = excluded.error,
		started_at = excluded.started_at,
		finished_at = excluded.finished_at
`

// NewSQLiteStore opens (creating if needed) the database at path.
//
//	st, err := store.NewSQLiteStore[graph.TransactionLog]("./runs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore[E any](path string) (*SQLiteStore[E], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore[E]{
		sqlStore: &sqlStore[E]{db: db, upsertRun: sqliteUpsertRun},
		path:     path,
	}
	if err := s.createTables(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore[E]) Path() string {
	return s.path
}
