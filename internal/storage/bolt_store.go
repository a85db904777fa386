// Package storage keeps the history of past runs in a bbolt file.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"rampcheck/internal/report"
)

const (
	BucketRuns  = "runs"
	BucketIndex = "run_ids"
)

var ErrNotFound = errors.New("run not found")

type Store struct {
	db       *bbolt.DB
	filePath string
}

// Open creates the file and its parent directory if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketRuns, BucketIndex} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:       db,
		filePath: path,
	}, nil
}

func (s *Store) Path() string {
	return s.filePath
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// runKey sorts by start time so a reverse cursor walk yields newest first.
func runKey(r report.Report) []byte {
	return []byte(fmt.Sprintf("%020d-%s", r.StartedAt.UnixNano(), r.RunID))
}

func (s *Store) Save(r report.Report) error {
	if r.RunID == "" {
		return fmt.Errorf("storage: report has no run id")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		key := runKey(r)
		idx := tx.Bucket([]byte(BucketIndex))
		if old := idx.Get([]byte(r.RunID)); old != nil {
			if err := tx.Bucket([]byte(BucketRuns)).Delete(old); err != nil {
				return err
			}
		}
		if err := idx.Put([]byte(r.RunID), key); err != nil {
			return err
		}
		return tx.Bucket([]byte(BucketRuns)).Put(key, data)
	})
}

// List returns up to limit runs, newest first. limit <= 0 means all.
// Entries that no longer decode are skipped.
func (s *Store) List(limit int) ([]report.Report, error) {
	var items []report.Report

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(BucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(items) >= limit {
				break
			}
			var item report.Report
			if err := json.Unmarshal(v, &item); err == nil {
				items = append(items, item)
			}
		}
		return nil
	})
	return items, err
}

func (s *Store) Get(id string) (*report.Report, error) {
	var item report.Report
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(BucketIndex)).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		v := tx.Bucket([]byte(BucketRuns)).Get(key)
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(v, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}
