// Package ledger persists the outcome of every run: which nodes were
// processed, whether they succeeded, their time ranges, curve lists and
// per-file checksums.
//
// Records are encoded with FlatBuffers and stored either in a BoltDB file
// or in SQLite. Only the completion goroutine of a run writes to a Store.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/unijord/tracecurve/pkg/nodejob"
	"github.com/unijord/tracecurve/pkg/record"
)

var (
	// ErrUnknownDriver is returned for a driver name other than bolt or sqlite.
	ErrUnknownDriver = errors.New("unknown ledger driver: must be 'bolt' or 'sqlite'")
	// ErrRunNotFound is returned when a run id has no BeginRun record.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunExists is returned by BeginRun for an id already in the ledger.
	ErrRunExists = errors.New("run already exists")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("corrupt ledger record")
)

// Driver names a Store implementation.
type Driver string

const (
	// DriverBolt stores the ledger in a BoltDB file.
	DriverBolt Driver = "bolt"

	// DriverSQLite stores the ledger in a SQLite database.
	DriverSQLite Driver = "sqlite"
)

// ParseDriver parses a driver name. The empty string selects DriverBolt.
func ParseDriver(s string) (Driver, error) {
	switch Driver(s) {
	case "", DriverBolt:
		return DriverBolt, nil
	case DriverSQLite:
		return DriverSQLite, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDriver, s)
}

// Run describes one invocation over a data directory.
type Run struct {
	ID         string
	Started    time.Time
	ConfigPath string
	DataDir    string
	MaxJobs    int
	Nodes      int
}

// JobRecord is the persisted outcome of one node job.
type JobRecord struct {
	Node      string
	OK        bool
	Status    string
	StopTime  int64
	StartTime int64
	Curves    []string
	Checksums []record.Checksum
	Events    int64
	Started   time.Time
	Finished  time.Time
}

// FromResult converts a job result to a record.
func FromResult(r nodejob.Result) JobRecord {
	return JobRecord{
		Node:      r.Node,
		OK:        r.OK(),
		Status:    r.Status,
		StopTime:  r.StopTime,
		StartTime: r.StartTime,
		Curves:    r.Curves,
		Checksums: r.Checksums,
		Events:    r.Stats.Events,
		Started:   r.Started,
		Finished:  r.Finished,
	}
}

// Store persists runs and their job records.
type Store interface {
	// BeginRun registers a run. The ID must be unique.
	BeginRun(run Run) error

	// PutJob stores or replaces the record of one node in a run.
	PutJob(runID string, rec JobRecord) error

	// Runs returns all runs, oldest first.
	Runs() ([]Run, error)

	// Jobs returns the records of a run ordered by node.
	Jobs(runID string) ([]JobRecord, error)

	Close() error
}

// NewRunID returns a time-ordered run identifier.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Open opens the store at path with the given driver.
func Open(driver Driver, path string, logger *slog.Logger) (Store, error) {
	d, err := ParseDriver(string(driver))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	switch d {
	case DriverSQLite:
		return OpenSQLite(path, logger)
	default:
		return OpenBolt(path, logger)
	}
}

// OpenExisting is Open for readers: it fails instead of creating a new,
// empty ledger when nothing exists at path.
func OpenExisting(driver Driver, path string, logger *slog.Logger) (Store, error) {
	if _, err := ParseDriver(string(driver)); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return Open(driver, path, logger)
}
