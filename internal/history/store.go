// Package history records build and publish runs in a local SQLite file.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Run is one pipeline execution
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Games       int
	Systems     int
	Warnings    int
	Published   bool
	Transferred int
	Error       string
}

// Duration of the run
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store wraps the history database. Safe for concurrent use.
type Store struct {
	conn   *sql.DB
	logger *logrus.Logger

	insertRunStmt  *sql.Stmt
	recentRunsStmt *sql.Stmt
	pruneRunsStmt  *sql.Stmt
}

// Open opens (or creates) the history database at path
func Open(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	s := &Store{conn: conn, logger: logger}

	if err := s.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", path).Debug("History database ready")
	return s, nil
}

func (s *Store) createTables() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		games INTEGER DEFAULT 0,
		systems INTEGER DEFAULT 0,
		warnings INTEGER DEFAULT 0,
		published BOOLEAN DEFAULT FALSE,
		transferred INTEGER DEFAULT 0,
		error TEXT
	);`

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);",
	}

	if _, err := s.conn.Exec(runsTable); err != nil {
		return err
	}
	for _, idx := range indexes {
		if _, err := s.conn.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) prepareStatements() error {
	var err error

	s.insertRunStmt, err = s.conn.Prepare(`
		INSERT INTO runs (id, started_at, finished_at, games, systems, warnings, published, transferred, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	s.recentRunsStmt, err = s.conn.Prepare(`
		SELECT id, started_at, finished_at, games, systems, warnings, published, transferred, COALESCE(error, '')
		FROM runs
		ORDER BY started_at DESC, id
		LIMIT ?`)
	if err != nil {
		return err
	}

	s.pruneRunsStmt, err = s.conn.Prepare(`
		DELETE FROM runs WHERE started_at < ?`)
	return err
}

// Record stores a finished run
func (s *Store) Record(run Run) error {
	var runErr sql.NullString
	if run.Error != "" {
		runErr = sql.NullString{String: run.Error, Valid: true}
	}

	_, err := s.insertRunStmt.Exec(
		run.ID,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.Games,
		run.Systems,
		run.Warnings,
		run.Published,
		run.Transferred,
		runErr,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id":   run.ID,
		"warnings": run.Warnings,
	}).Debug("Recorded run")
	return nil
}

// Recent returns up to limit runs, newest first
func (s *Store) Recent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.recentRunsStmt.Query(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(
			&r.ID,
			&r.StartedAt,
			&r.FinishedAt,
			&r.Games,
			&r.Systems,
			&r.Warnings,
			&r.Published,
			&r.Transferred,
			&r.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune deletes runs started before cutoff and reports how many were removed
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	res, err := s.pruneRunsStmt.Exec(cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

// Close closes prepared statements and the connection
func (s *Store) Close() error {
	statements := []*sql.Stmt{
		s.insertRunStmt,
		s.recentRunsStmt,
		s.pruneRunsStmt,
	}
	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				s.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
