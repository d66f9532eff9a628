package ledger

import (
	"fmt"
	"log/slog"
	"sort"

	bolt "go.etcd.io/bbolt"
)

var (
	// run_id -> encoded Run
	bucketRuns = []byte("runs")
	// run_id -> nested bucket of node -> encoded JobRecord
	bucketJobs = []byte("jobs")
)

var _ Store = (*BoltStore)(nil)

// BoltStore keeps the ledger in a single BoltDB file.
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// OpenBolt opens or creates a BoltDB ledger at path.
func OpenBolt(path string, logger *slog.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt ledger: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRuns); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketJobs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt ledger: %w", err)
	}

	return &BoltStore{
		db:     db,
		logger: logger.With("component", "ledger", "driver", DriverBolt),
	}, nil
}

func (s *BoltStore) BeginRun(run Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		key := []byte(run.ID)
		if runs.Get(key) != nil {
			return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
		}
		if _, err := tx.Bucket(bucketJobs).CreateBucket(key); err != nil {
			return err
		}
		return runs.Put(key, EncodeRun(run))
	})
}

func (s *BoltStore) PutJob(runID string, rec JobRecord) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs).Bucket([]byte(runID))
		if jobs == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return jobs.Put([]byte(rec.Node), EncodeJob(rec))
	})
	if err != nil {
		return err
	}
	s.logger.Debug("job recorded", "run", runID, "node", rec.Node, "ok", rec.OK)
	return nil
}

func (s *BoltStore) Runs() ([]Run, error) {
	var runs []Run
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			// v is only valid for the life of the transaction.
			run, err := DecodeRun(append([]byte(nil), v...))
			if err != nil {
				return fmt.Errorf("run %s: %w", k, err)
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRuns(runs)
	return runs, nil
}

func (s *BoltStore) Jobs(runID string) ([]JobRecord, error) {
	var recs []JobRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketJobs).Bucket([]byte(runID))
		if jobs == nil {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		// Keys iterate in byte order, which is node order.
		return jobs.ForEach(func(k, v []byte) error {
			rec, err := DecodeJob(append([]byte(nil), v...))
			if err != nil {
				return fmt.Errorf("job %s: %w", k, err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func sortRuns(runs []Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].Started.Equal(runs[j].Started) {
			return runs[i].Started.Before(runs[j].Started)
		}
		return runs[i].ID < runs[j].ID
	})
}
