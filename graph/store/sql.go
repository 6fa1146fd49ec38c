package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// sqlStore holds the queries shared by SQLiteStore and MySQLStore. The
// dialects differ only in DDL and in the upsert statement for agent_runs.
type sqlStore[E any] struct {
	db        *sql.DB
	mu        sync.RWMutex
	closed    bool
	upsertRun string
}

func (s *sqlStore[E]) createTables(ctx context.Context, ddl []string) error {
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore[E]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveRun replaces the run row and its log rows in one transaction.
func (s *sqlStore[E]) SaveRun(ctx context.Context, rec RunRecord[E]) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	enc, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.upsertRun,
		rec.RunID, enc.results, rec.Error, enc.started, enc.finished); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM agent_run_logs WHERE run_id = ?", rec.RunID); err != nil {
		return fmt.Errorf("failed to clear run logs: %w", err)
	}

	if len(enc.entries) > 0 {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO agent_run_logs (run_id, seq, entry) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare log insert: %w", err)
		}
		defer stmt.Close()
		for i, entry := range enc.entries {
			if _, err := stmt.ExecContext(ctx, rec.RunID, i, entry); err != nil {
				return fmt.Errorf("failed to save log entry %d: %w", i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// LoadRun reads the run row and its log rows in sequence order.
func (s *sqlStore[E]) LoadRun(ctx context.Context, runID string) (RunRecord[E], error) {
	if err := s.checkOpen(); err != nil {
		return RunRecord[E]{}, err
	}

	var enc encodedRecord
	var errText string
	err := s.db.QueryRowContext(ctx,
		"SELECT results, error, started_at, finished_at FROM agent_runs WHERE run_id = ?", runID,
	).Scan(&enc.results, &errText, &enc.started, &enc.finished)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord[E]{}, ErrNotFound
	}
	if err != nil {
		return RunRecord[E]{}, fmt.Errorf("failed to load run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT entry FROM agent_run_logs WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return RunRecord[E]{}, fmt.Errorf("failed to load run logs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			return RunRecord[E]{}, fmt.Errorf("failed to scan log entry: %w", err)
		}
		enc.entries = append(enc.entries, entry)
	}
	if err := rows.Err(); err != nil {
		return RunRecord[E]{}, fmt.Errorf("failed to read run logs: %w", err)
	}

	return decodeRecord[E](runID, errText, enc)
}

// ListRuns returns run IDs ordered by start time, then ID.
func (s *sqlStore[E]) ListRuns(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT run_id FROM agent_runs ORDER BY started_at, run_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database. Double-close is a no-op.
func (s *sqlStore[E]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *sqlStore[E]) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}
