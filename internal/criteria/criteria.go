package criteria

import (
	"errors"
	"fmt"
	"strings"
)

// Mode identifies which keyspace a search enumerates.
type Mode string

// Search modes. Exactly one is active per criteria; the mode determines
// which optional fields are meaningful.
const (
	// ModeKeyspace enumerates the full combinatorial seed keyspace.
	ModeKeyspace Mode = "keyspace"
	// ModeSingleSeed evaluates exactly one user-supplied seed.
	ModeSingleSeed Mode = "single"
	// ModeWordList evaluates seeds from a named local word list.
	ModeWordList Mode = "wordlist"
	// ModeDBList evaluates seeds from an externally-queried database list.
	ModeDBList Mode = "dblist"
)

// Criteria validation errors.
var (
	ErrAmbiguousMode  = errors.New("criteria: more than one search mode is set")
	ErrMissingID      = errors.New("criteria: id must not be empty")
	ErrInvalidThreads = errors.New("criteria: thread count must be positive")
	ErrExponentRange  = errors.New("criteria: batch exponent out of range")
)

// MaxBatchExponent bounds the partition granularity. Beyond this the batch
// size drops below one seed per batch.
const MaxBatchExponent = 7

// Criteria is the immutable configuration of one search: which criteria
// document, against which deck and stake, partitioned how.
type Criteria struct {
	// ID identifies the criteria document (filter name or path-derived id).
	ID string

	// Deck and Stake select the game configuration. Either may be empty
	// when the engine default applies.
	Deck  string
	Stake string

	// Threads is the engine's internal worker count per batch.
	Threads int

	// BatchExponent sets partition granularity: 35^(exponent+1) batches.
	BatchExponent int

	// Seed activates single-seed mode when non-empty.
	Seed string

	// WordListID activates word-list mode when non-empty.
	WordListID string

	// DBListID activates db-list mode when non-empty.
	DBListID string

	// StartBatch is an explicit start offset applied when no usable
	// checkpoint exists.
	StartBatch uint64

	// MinScore is the minimum Should score for a seed to be recorded.
	MinScore int
}

// Mode derives the active search mode from the populated fields.
func (c Criteria) Mode() Mode {
	switch {
	case c.Seed != "":
		return ModeSingleSeed
	case c.WordListID != "":
		return ModeWordList
	case c.DBListID != "":
		return ModeDBList
	default:
		return ModeKeyspace
	}
}

// Validate checks the mode-exclusivity invariant and field ranges.
func (c Criteria) Validate() error {
	if c.ID == "" {
		return ErrMissingID
	}

	modes := 0
	for _, set := range []bool{c.Seed != "", c.WordListID != "", c.DBListID != ""} {
		if set {
			modes++
		}
	}

	if modes > 1 {
		return ErrAmbiguousMode
	}

	if c.Threads <= 0 {
		return ErrInvalidThreads
	}

	if c.BatchExponent < 0 || c.BatchExponent > MaxBatchExponent {
		return fmt.Errorf("%w: %d (max %d)", ErrExponentRange, c.BatchExponent, MaxBatchExponent)
	}

	return nil
}

// Key returns the identity under which sessions, checkpoints, and result
// stores for this criteria are filed.
func (c Criteria) Key() Key {
	return Key{CriteriaID: c.ID, Deck: c.Deck, Stake: c.Stake}
}

// Key identifies one (criteria, deck, stake) combination. At most one live
// session may drive the engine per key.
type Key struct {
	CriteriaID string
	Deck       string
	Stake      string
}

// String renders the on-disk identity "{criteriaId}_{deck}_{stake}".
// CriteriaID must not contain underscores for the identity to round-trip;
// NormalizeID enforces that when deriving ids from filter names.
func (k Key) String() string {
	return k.CriteriaID + "_" + k.Deck + "_" + k.Stake
}

// ParseKey parses a key previously rendered by [Key.String] given the known
// criteria id prefix. Returns false when ident does not belong to the id.
func ParseKey(criteriaID, ident string) (Key, bool) {
	rest, ok := strings.CutPrefix(ident, criteriaID+"_")
	if !ok {
		return Key{}, false
	}

	deck, stake, ok := strings.Cut(rest, "_")
	if !ok {
		return Key{}, false
	}

	return Key{CriteriaID: criteriaID, Deck: deck, Stake: stake}, true
}

// NormalizeID converts a display name into a key-safe criteria id.
func NormalizeID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.ReplaceAll(id, " ", "-")
	id = strings.ReplaceAll(id, "_", "-")

	return id
}
