// Package checkpoint persists per-key search resume state: the last fully
// completed batch for each (criteria, deck, stake) combination.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/pkg/persist"
)

// Record is the durable resume state for one search key. A record is only
// usable when its BatchExponent matches the resuming session's exponent;
// exponent changes repartition the keyspace and are not convertible.
type Record struct {
	BatchExponent      int       `json:"batch_exponent"`
	LastCompletedBatch uint64    `json:"last_completed_batch"`
	SearchMode         string    `json:"search_mode"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Store reads and writes checkpoint records under a single directory,
// one file per key named "{criteriaId}_{deck}_{stake}.json".
type Store struct {
	dir   string
	codec persist.Codec
}

// NewStore creates a checkpoint store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}

	return &Store{dir: dir, codec: persist.NewJSONCodec()}, nil
}

// Save overwrites the record for key.
func (s *Store) Save(key criteria.Key, rec Record) error {
	err := persist.SaveState(s.dir, key.String(), s.codec, &rec)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", key.String(), err)
	}

	return nil
}

// Load returns the record for key, or nil when none exists.
func (s *Store) Load(key criteria.Key) (*Record, error) {
	var rec Record

	err := persist.LoadState(s.dir, key.String(), s.codec, &rec)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("load checkpoint %s: %w", key.String(), err)
	}

	return &rec, nil
}

// Delete removes the record for key. Missing records are not an error.
func (s *Store) Delete(key criteria.Key) error {
	path := filepath.Join(s.dir, key.String()+s.codec.Extension())

	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete checkpoint %s: %w", key.String(), err)
	}

	return nil
}

// DeleteAll removes every record whose key belongs to criteriaID, across
// all deck/stake combinations. Returns the number of records removed.
func (s *Store) DeleteAll(criteriaID string) (int, error) {
	keys, err := s.List(criteriaID)
	if err != nil {
		return 0, err
	}

	deleted := 0

	for _, key := range keys {
		err := s.Delete(key)
		if err != nil {
			return deleted, err
		}

		deleted++
	}

	return deleted, nil
}

// List returns every key belonging to criteriaID that has a record.
func (s *Store) List(criteriaID string) ([]criteria.Key, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	ext := s.codec.Extension()

	var keys []criteria.Key

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}

		ident := strings.TrimSuffix(entry.Name(), ext)

		key, ok := criteria.ParseKey(criteriaID, ident)
		if !ok {
			continue
		}

		keys = append(keys, key)
	}

	return keys, nil
}
