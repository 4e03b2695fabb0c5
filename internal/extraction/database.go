package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/docextract/internal/compare"
)

const (
	runsBucketName    = "runs"
	resultsBucketName = "results"
)

// ErrNotFound is returned when a run is not in the history
var ErrNotFound = errors.New("not found")

// DB defines the interface for run history operations
type DB interface {
	// SaveRun saves a run to the database
	SaveRun(run *Run) error

	// GetRun retrieves a run by ID
	GetRun(id string) (*Run, error)

	// ListRuns returns all runs, newest first
	ListRuns() ([]*Run, error)

	// DeleteRun removes a run and its comparison results
	DeleteRun(id string) error

	// SaveResults saves the comparison results of a verification run
	SaveResults(runID string, results []compare.Result) error

	// GetResults retrieves the comparison results of a run
	GetResults(runID string) ([]compare.Result, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(resultsBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveRun saves a run to the database
func (b *BoltDB) SaveRun(run *Run) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucketName))
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshaling run: %w", err)
		}
		return bucket.Put([]byte(run.ID), data)
	})
}

// GetRun retrieves a run by ID
func (b *BoltDB) GetRun(id string) (*Run, error) {
	var run *Run
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns all runs, newest first
func (b *BoltDB) ListRuns() ([]*Run, error) {
	runs := make([]*Run, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("unmarshaling run: %w", err)
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// DeleteRun removes a run and its comparison results
func (b *BoltDB) DeleteRun(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucketName))
		if runs.Get([]byte(id)) == nil {
			return fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		if err := runs.Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket([]byte(resultsBucketName)).Delete([]byte(id))
	})
}

// SaveResults saves the comparison results of a run
func (b *BoltDB) SaveResults(runID string, results []compare.Result) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(resultsBucketName))
		data, err := json.Marshal(results)
		if err != nil {
			return fmt.Errorf("marshaling results: %w", err)
		}
		return bucket.Put([]byte(runID), data)
	})
}

// GetResults retrieves the comparison results of a run
func (b *BoltDB) GetResults(runID string) ([]compare.Result, error) {
	results := make([]compare.Result, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(resultsBucketName)).Get([]byte(runID))
		if data == nil {
			return fmt.Errorf("results for run %s: %w", runID, ErrNotFound)
		}
		return json.Unmarshal(data, &results)
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
