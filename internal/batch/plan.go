// Package batch computes keyspace partitioning for a search run and
// resolves the resume position from a prior checkpoint.
package batch

import (
	"errors"

	"github.com/Sumatoshi-tech/seedfang/internal/checkpoint"
)

// Keyspace constants. Seeds are SeedLength characters over an
// AlphabetSize-symbol alphabet (digits 1-9 plus A-Z).
const (
	AlphabetSize = 35
	SeedLength   = 8
)

// Alphabet lists the seed symbols in enumeration order.
const Alphabet = "123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ErrIncompatibleCheckpoint reports a checkpoint whose batch exponent does
// not match the current search. The condition is recovered by restarting
// at batch zero; no arithmetic conversion between exponents is attempted.
var ErrIncompatibleCheckpoint = errors.New("checkpoint batch exponent does not match current search")

// TotalBatches returns the batch count for a partition exponent:
// AlphabetSize^(batchExponent+1).
func TotalBatches(batchExponent int) uint64 {
	return pow(AlphabetSize, batchExponent+1)
}

// KeyspaceSize returns the full seed keyspace size, AlphabetSize^SeedLength.
func KeyspaceSize() uint64 {
	return pow(AlphabetSize, SeedLength)
}

// BatchSize returns the number of seeds covered by one batch at the given
// exponent. Batch b covers indices [b*BatchSize, (b+1)*BatchSize).
func BatchSize(batchExponent int) uint64 {
	return pow(AlphabetSize, SeedLength-(batchExponent+1))
}

// ResolveStart returns the batch index a session should begin at. An absent
// checkpoint starts at zero. An exponent mismatch also starts at zero and
// reports ErrIncompatibleCheckpoint so the caller can log the discard;
// otherwise resume continues after the last completed batch.
func ResolveStart(cp *checkpoint.Record, currentExponent int) (uint64, error) {
	if cp == nil {
		return 0, nil
	}

	if cp.BatchExponent != currentExponent {
		return 0, ErrIncompatibleCheckpoint
	}

	return cp.LastCompletedBatch + 1, nil
}

// Plan is the derived partition for one search run.
type Plan struct {
	Exponent int
	Total    uint64
	Start    uint64
}

// NewPlan computes the plan for the given exponent and optional checkpoint.
// The returned error is only ever ErrIncompatibleCheckpoint, and the plan
// alongside it is valid (restarted at zero): callers log and proceed.
func NewPlan(exponent int, cp *checkpoint.Record) (Plan, error) {
	start, err := ResolveStart(cp, exponent)

	return Plan{
		Exponent: exponent,
		Total:    TotalBatches(exponent),
		Start:    start,
	}, err
}

// Complete reports whether the resolved start is already past the last
// batch, i.e. the prior run finished the whole partition.
func (p Plan) Complete() bool {
	return p.Start >= p.Total
}

func pow(base uint64, exp int) uint64 {
	result := uint64(1)
	for range exp {
		result *= base
	}

	return result
}
