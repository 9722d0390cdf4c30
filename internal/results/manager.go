package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
)

// dbExtension is the result store file suffix under the manager root.
const dbExtension = ".db"

// Manager opens and enumerates result stores under a single root
// directory, one database file per key.
type Manager struct {
	dir string
}

// NewManager creates a manager rooted at dir, creating it if needed.
func NewManager(dir string) (*Manager, error) {
	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("create result store dir: %w", err)
	}

	return &Manager{dir: dir}, nil
}

// Open opens (creating if necessary) the store for key.
func (m *Manager) Open(key criteria.Key) (*SQLiteStore, error) {
	return Open(m.Path(key))
}

// Path returns the database file path for key.
func (m *Manager) Path(key criteria.Key) string {
	return filepath.Join(m.dir, key.String()+dbExtension)
}

// List returns every key belonging to criteriaID that has a store on disk.
func (m *Manager) List(criteriaID string) ([]criteria.Key, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list result stores: %w", err)
	}

	var keys []criteria.Key

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), dbExtension) {
			continue
		}

		ident := strings.TrimSuffix(entry.Name(), dbExtension)

		key, ok := criteria.ParseKey(criteriaID, ident)
		if !ok {
			continue
		}

		keys = append(keys, key)
	}

	return keys, nil
}
