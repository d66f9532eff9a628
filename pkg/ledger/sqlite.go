package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps the ledger in SQLite. Records are stored as the same
// FlatBuffers blobs as BoltStore, next to a few indexed columns.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens or creates a SQLite ledger at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	// Writes come from a single goroutine.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger.With("component", "ledger", "driver", DriverSQLite),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		started_ns INTEGER NOT NULL,
		body       BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		run_id TEXT NOT NULL REFERENCES runs(id),
		node   TEXT NOT NULL,
		ok     INTEGER NOT NULL,
		body   BLOB NOT NULL,
		PRIMARY KEY (run_id, node)
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_ok ON jobs(run_id, ok);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) BeginRun(run Run) error {
	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE id = ?`, run.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
	}
	_, err = s.db.Exec(
		`INSERT INTO runs (id, started_ns, body) VALUES (?, ?, ?)`,
		run.ID, unixNano(run.Started), EncodeRun(run),
	)
	return err
}

func (s *SQLiteStore) PutJob(runID string, rec JobRecord) error {
	if err := s.requireRun(runID); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO jobs (run_id, node, ok, body) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, node) DO UPDATE SET ok = excluded.ok, body = excluded.body`,
		runID, rec.Node, rec.OK, EncodeJob(rec),
	)
	if err != nil {
		return err
	}
	s.logger.Debug("job recorded", "run", runID, "node", rec.Node, "ok", rec.OK)
	return nil
}

func (s *SQLiteStore) requireRun(runID string) error {
	var id string
	err := s.db.QueryRow(`SELECT id FROM runs WHERE id = ?`, runID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return err
}

func (s *SQLiteStore) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT id, body FROM runs ORDER BY started_ns, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		run, err := DecodeRun(body)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", id, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortRuns(runs)
	return runs, nil
}

func (s *SQLiteStore) Jobs(runID string) ([]JobRecord, error) {
	if err := s.requireRun(runID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT node, body FROM jobs WHERE run_id = ? ORDER BY node`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var node string
		var body []byte
		if err := rows.Scan(&node, &body); err != nil {
			return nil, err
		}
		rec, err := DecodeJob(body)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", node, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }
