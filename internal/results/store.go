// Package results stores matching seeds for one (criteria, deck, stake)
// combination in an embedded SQLite database, one file per key.
package results

import (
	"context"
	"time"
)

// Match is a single seed that satisfied the criteria tree.
type Match struct {
	// ID is the store-assigned monotonic row id. Zero before insertion.
	ID int64

	Seed    string
	Score   int
	FoundAt time.Time
}

// Store is the appendable, queryable match store for one key. Sessions
// append; observers page. The Delete method drops the backing file and
// is only invoked by the invalidation path, never by a stopping session.
type Store interface {
	// Append inserts matches. Duplicate seeds keep their highest score.
	Append(ctx context.Context, matches []Match) error

	// Count returns the number of stored matches.
	Count(ctx context.Context) (int64, error)

	// Page returns matches ordered by descending score, then seed.
	Page(ctx context.Context, offset, limit int) ([]Match, error)

	// PageAfter returns up to limit matches with ID greater than afterID,
	// in insertion order, for cursor-based draining.
	PageAfter(ctx context.Context, afterID int64, limit int) ([]Match, error)

	// HasNewSince reports whether any match has ID greater than lastAck.
	HasNewSince(ctx context.Context, lastAck int64) (bool, error)

	// Seeds returns every stored seed value, for export.
	Seeds(ctx context.Context) ([]string, error)

	// Delete closes the store and removes its backing file.
	Delete() error

	// Close releases the store without touching the backing file.
	Close() error
}
