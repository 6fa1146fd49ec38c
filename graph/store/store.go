// Package store persists finished graph runs: the transaction log and the
// final results.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested run ID does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by every method of a closed store.
var ErrClosed = errors.New("store is closed")

// Store persists run records.
//
// Implementations:
//   - MemStore for tests and short-lived processes
//   - SQLiteStore for a single-file database
//   - MySQLStore for a shared server
//
// Type parameter E is the log entry type. Entries and results must be
// JSON-serializable; values read back have gone through encoding/json, so
// numbers in Results come back as float64.
type Store[E any] interface {
	// SaveRun writes the record, replacing any previous record of the same
	// run ID.
	SaveRun(ctx context.Context, rec RunRecord[E]) error

	// LoadRun returns the record of runID, or ErrNotFound.
	LoadRun(ctx context.Context, runID string) (RunRecord[E], error)

	// ListRuns returns the stored run IDs, oldest start time first.
	ListRuns(ctx context.Context) ([]string, error)

	// Close releases the store. Calling Close twice is a no-op.
	Close() error
}

// RunRecord is one finished run.
type RunRecord[E any] struct {
	RunID string `json:"runId"`

	// Entries is the transaction log in append order.
	Entries []E `json:"entries"`

	// Results maps node ids to their final results.
	Results map[string]any `json:"results"`

	// Error is the run-level error text (cancellation, loop limits), empty
	// when the run finished normally.
	Error string `json:"error,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// encodedRecord is the row form shared by the SQL stores.
type encodedRecord struct {
	results  string
	entries  []string
	started  int64
	finished int64
}

func encodeRecord[E any](rec RunRecord[E]) (encodedRecord, error) {
	if rec.RunID == "" {
		return encodedRecord{}, fmt.Errorf("run record has empty run ID")
	}
	results, err := json.Marshal(rec.Results)
	if err != nil {
		return encodedRecord{}, fmt.Errorf("failed to marshal results: %w", err)
	}
	out := encodedRecord{
		results:  string(results),
		entries:  make([]string, len(rec.Entries)),
		started:  rec.StartedAt.UnixNano(),
		finished: rec.FinishedAt.UnixNano(),
	}
	for i, entry := range rec.Entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return encodedRecord{}, fmt.Errorf("failed to marshal entry %d: %w", i, err)
		}
		out.entries[i] = string(data)
	}
	return out, nil
}

func decodeRecord[E any](runID, errText string, enc encodedRecord) (RunRecord[E], error) {
	rec := RunRecord[E]{
		RunID:      runID,
		Error:      errText,
		Entries:    make([]E, len(enc.entries)),
		StartedAt:  time.Unix(0, enc.started),
		FinishedAt: time.Unix(0, enc.finished),
	}
	if err := json.Unmarshal([]byte(enc.results), &rec.Results); err != nil {
		return RunRecord[E]{}, fmt.Errorf("failed to unmarshal results: %w", err)
	}
	for i, raw := range enc.entries {
		if err := json.Unmarshal([]byte(raw), &rec.Entries[i]); err != nil {
			return RunRecord[E]{}, fmt.Errorf("failed to unmarshal entry %d: %w", i, err)
		}
	}
	return rec, nil
}
