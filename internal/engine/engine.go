// Package engine defines the batch execution contract between a search
// session and the seed-matching engine, plus a deterministic local
// implementation. The session treats the engine as a black box: one call
// evaluates one batch of the keyspace partition and blocks until done.
package engine

import (
	"context"

	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/internal/results"
)

// Request describes one batch of work.
type Request struct {
	Tree  *criteria.Tree
	Deck  string
	Stake string

	// BatchIndex selects the keyspace slice; BatchExponent sets its size.
	BatchIndex    uint64
	BatchExponent int

	// Threads is the engine's internal worker count. Intra-batch
	// parallelism is opaque to the caller.
	Threads int

	// MinScore filters matches below the threshold.
	MinScore int

	// Seeds, when non-nil, is an explicit list to evaluate instead of the
	// keyspace batch (single-seed and word-list modes).
	Seeds []string
}

// Result reports one completed batch.
type Result struct {
	SeedsProcessed uint64
	Matches        []results.Match
}

// Engine executes batches. Implementations must be safe for sequential
// reuse across batches; the session never issues concurrent calls for the
// same key.
type Engine interface {
	RunBatch(ctx context.Context, req Request) (Result, error)
}
