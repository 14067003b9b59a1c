// Package store keeps a history of benchmark runs in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// ErrClosed is returned by every method of a closed Store.
var ErrClosed = errors.New("history store is closed")

// Run is one recorded invocation. Phase times are medians over the measured
// trials, in milliseconds.
type Run struct {
	ID          int64
	StartedAt   time.Time
	Backend     string
	Device      string
	Policy      string
	InputSize   int
	TapsSize    int
	LocalSize   int
	GlobalSize  int
	Trials      int
	TransferIn  float64
	TransferOut float64
	Kernel      float64
	CPU         float64
	MaxAbsError float64
	Mismatches  int
}

// OK reports whether every checked output matched the reference.
func (r Run) OK() bool {
	return r.Mismatches == 0
}

type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool

	insertStmt *sql.Stmt
	recentStmt *sql.Stmt
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at INTEGER NOT NULL,
			backend TEXT NOT NULL,
			device TEXT NOT NULL,
			policy TEXT NOT NULL,
			input_size INTEGER NOT NULL,
			taps_size INTEGER NOT NULL,
			local_size INTEGER NOT NULL,
			global_size INTEGER NOT NULL,
			trials INTEGER NOT NULL,
			transfer_in_ms REAL NOT NULL,
			transfer_out_ms REAL NOT NULL,
			kernel_ms REAL NOT NULL,
			cpu_ms REAL NOT NULL,
			max_abs_error REAL NOT NULL,
			mismatches INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Store) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO runs (started_at, backend, device, policy, input_size, taps_size,
			local_size, global_size, trials, transfer_in_ms, transfer_out_ms, kernel_ms,
			cpu_ms, max_abs_error, mismatches)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.recentStmt, err = s.db.Prepare(`
		SELECT id, started_at, backend, device, policy, input_size, taps_size,
			local_size, global_size, trials, transfer_in_ms, transfer_out_ms, kernel_ms,
			cpu_ms, max_abs_error, mismatches
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare recent statement: %w", err)
	}
	return nil
}

// Record stores run and returns its id.
func (s *Store) Record(ctx context.Context, run Run) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	res, err := s.insertStmt.ExecContext(ctx,
		run.StartedAt.UnixNano(), run.Backend, run.Device, run.Policy,
		run.InputSize, run.TapsSize, run.LocalSize, run.GlobalSize, run.Trials,
		run.TransferIn, run.TransferOut, run.Kernel, run.CPU,
		run.MaxAbsError, run.Mismatches)
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.recentStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			started int64
		)
		if err := rows.Scan(&r.ID, &started, &r.Backend, &r.Device, &r.Policy,
			&r.InputSize, &r.TapsSize, &r.LocalSize, &r.GlobalSize, &r.Trials,
			&r.TransferIn, &r.TransferOut, &r.Kernel, &r.CPU,
			&r.MaxAbsError, &r.Mismatches); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.insertStmt != nil {
		s.insertStmt.Close()
	}
	if s.recentStmt != nil {
		s.recentStmt.Close()
	}
	return s.db.Close()
}
