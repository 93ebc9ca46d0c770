package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketFailures = []byte("tracking_failures")

// Failure is a tracking delivery that could not be completed.
// Failures are kept for inspection only and are never retried.
type Failure struct {
	ID       string         `json:"id"`
	Backend  string         `json:"backend"`
	Event    string         `json:"event"`
	EventID  string         `json:"event_id,omitempty"`
	Error    string         `json:"error"`
	Props    map[string]any `json:"properties,omitempty"`
	FailedAt time.Time      `json:"failed_at"`
}

// FailureStore keeps failed deliveries in BoltDB
type FailureStore struct {
	db     *bolt.DB
	ownsDB bool
}

// NewFailureStore creates a failure store using the provided BoltDB instance
func NewFailureStore(db *bolt.DB) (*FailureStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketFailures)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create failures bucket: %w", err)
	}
	return &FailureStore{db: db}, nil
}

// OpenFailureStore opens (or creates) a BoltDB file dedicated to the failure log
func OpenFailureStore(path string) (*FailureStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	s, err := NewFailureStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// Close closes the database if the store opened it
func (s *FailureStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// Save records a failure
func (s *FailureStore) Save(ctx context.Context, f *Failure) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.FailedAt.IsZero() {
		f.FailedAt = time.Now()
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to marshal failure: %w", err)
		}
		return tx.Bucket(bucketFailures).Put(makeIndexKey(f.FailedAt, f.ID), data)
	})
}

// FailureFilter contains filters for listing failures
type FailureFilter struct {
	Backend string
	Event   string
	Limit   int
	Offset  int
}

// List returns failures matching the filter, newest first
func (s *FailureStore) List(ctx context.Context, filter FailureFilter) ([]*Failure, error) {
	var out []*Failure

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFailures).Cursor()

		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var f Failure
			if err := json.Unmarshal(v, &f); err != nil {
				continue
			}
			if filter.Backend != "" && f.Backend != filter.Backend {
				continue
			}
			if filter.Event != "" && f.Event != filter.Event {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}

			out = append(out, &f)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return out, err
}

// Count returns the number of stored failures
func (s *FailureStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketFailures).Stats().KeyN
		return nil
	})
	return n, err
}

// Purge removes failures older than the given age and returns how many were removed.
// An age of zero removes everything.
func (s *FailureStore) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	var count int
	cutoff := makeIndexKey(time.Now().Add(-olderThan), "")

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketFailures)
		c := bucket.Cursor()

		var keys [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if olderThan > 0 && string(k) >= string(cutoff) {
				break
			}
			keys = append(keys, append([]byte(nil), k...))
		}

		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return count, err
}

// makeIndexKey orders entries by time; the fixed-width UTC layout keeps byte order chronological
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format("20060102T150405.000000000") + ":" + id)
}
