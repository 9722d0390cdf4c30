// Package invalidate coordinates criteria changes: it compares the new
// document's fingerprint to the saved baseline, and when the semantics
// changed it stops every affected session, exports the accumulated seeds,
// and deletes the now-stale result stores and checkpoints.
package invalidate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/pkg/persist"
)

// baselineFile is the basename of the fingerprint index under the data dir.
const baselineFile = "baselines"

// Baselines persists the last-accepted fingerprint per criteria ID. The
// whole index lives in one JSON file; writes rewrite it atomically.
type Baselines struct {
	dir       string
	persister *persist.Persister[map[string]string]

	mu sync.Mutex
}

// NewBaselines creates a baseline index rooted at dir, creating it if needed.
func NewBaselines(dir string) (*Baselines, error) {
	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("create baseline dir: %w", err)
	}

	return &Baselines{
		dir:       dir,
		persister: persist.NewPersister[map[string]string](baselineFile, persist.NewJSONCodec()),
	}, nil
}

// Get returns the saved fingerprint for criteriaID, empty when none exists.
func (b *Baselines) Get(criteriaID string) (criteria.Fingerprint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	index, err := b.loadLocked()
	if err != nil {
		return "", err
	}

	return criteria.Fingerprint(index[criteriaID]), nil
}

// Put records fp as the accepted baseline for criteriaID.
func (b *Baselines) Put(criteriaID string, fp criteria.Fingerprint) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	index, err := b.loadLocked()
	if err != nil {
		return err
	}

	index[criteriaID] = string(fp)

	return b.saveLocked(index)
}

// Delete drops the baseline for criteriaID. Missing entries are not an error.
func (b *Baselines) Delete(criteriaID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	index, err := b.loadLocked()
	if err != nil {
		return err
	}

	if _, ok := index[criteriaID]; !ok {
		return nil
	}

	delete(index, criteriaID)

	return b.saveLocked(index)
}

func (b *Baselines) loadLocked() (map[string]string, error) {
	index := make(map[string]string)

	err := b.persister.Load(b.dir, func(stored *map[string]string) {
		for id, fp := range *stored {
			index[id] = fp
		}
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return index, nil
		}

		return nil, fmt.Errorf("load baselines: %w", err)
	}

	return index, nil
}

func (b *Baselines) saveLocked(index map[string]string) error {
	err := b.persister.Save(b.dir, func() *map[string]string { return &index })
	if err != nil {
		return fmt.Errorf("save baselines: %w", err)
	}

	return nil
}
