package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/seedfang/internal/batch"
	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/internal/results"
)

// presenceModulus controls simulated item rarity: an item appears in a
// seed's run when its hash lands on a multiple of this value.
const presenceModulus = 37

// anteCount is the number of antes a simulated run spans.
const anteCount = 8

// Local is a self-contained engine that derives a pseudo game run from
// each seed by hashing and evaluates the criteria tree against it. It is
// deterministic: the same (seed, deck, stake, tree) always yields the
// same outcome, which is what checkpoint resume correctness relies on.
type Local struct{}

// NewLocal creates a local engine.
func NewLocal() *Local {
	return &Local{}
}

// RunBatch implements [Engine]. The batch's seed range is split across
// req.Threads workers; results merge in worker order, so output is
// deterministic regardless of scheduling.
func (e *Local) RunBatch(ctx context.Context, req Request) (Result, error) {
	if req.Seeds != nil {
		return e.runList(ctx, req)
	}

	size := batch.BatchSize(req.BatchExponent)
	first := req.BatchIndex * size

	workers := req.Threads
	if workers < 1 {
		workers = 1
	}

	if uint64(workers) > size {
		workers = int(size)
	}

	perWorker := size / uint64(workers)

	matchSets := make([][]results.Match, workers)

	g, gctx := errgroup.WithContext(ctx)

	for w := range workers {
		start := first + uint64(w)*perWorker

		end := start + perWorker
		if w == workers-1 {
			end = first + size
		}

		g.Go(func() error {
			set, err := e.evaluateRange(gctx, req, start, end)
			if err != nil {
				return err
			}

			matchSets[w] = set

			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return Result{}, fmt.Errorf("batch %d: %w", req.BatchIndex, err)
	}

	var matches []results.Match
	for _, set := range matchSets {
		matches = append(matches, set...)
	}

	return Result{SeedsProcessed: size, Matches: matches}, nil
}

// checkCancelEvery bounds how long a worker runs between ctx checks.
const checkCancelEvery = 4096

func (e *Local) evaluateRange(ctx context.Context, req Request, start, end uint64) ([]results.Match, error) {
	var matches []results.Match

	for idx := start; idx < end; idx++ {
		if (idx-start)%checkCancelEvery == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		seed := SeedFromIndex(idx)

		score, ok := Evaluate(req.Tree, seed, req.Deck, req.Stake)
		if ok && score >= req.MinScore {
			matches = append(matches, results.Match{Seed: seed, Score: score, FoundAt: time.Now().UTC()})
		}
	}

	return matches, nil
}

func (e *Local) runList(ctx context.Context, req Request) (Result, error) {
	var matches []results.Match

	for _, seed := range req.Seeds {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		score, ok := Evaluate(req.Tree, seed, req.Deck, req.Stake)
		if ok && score >= req.MinScore {
			matches = append(matches, results.Match{Seed: seed, Score: score, FoundAt: time.Now().UTC()})
		}
	}

	return Result{SeedsProcessed: uint64(len(req.Seeds)), Matches: matches}, nil
}

// SeedFromIndex renders the idx-th seed of the keyspace as a fixed-length
// base-35 string, most significant symbol first.
func SeedFromIndex(idx uint64) string {
	var buf [batch.SeedLength]byte

	for i := batch.SeedLength - 1; i >= 0; i-- {
		buf[i] = batch.Alphabet[idx%batch.AlphabetSize]
		idx /= batch.AlphabetSize
	}

	return string(buf[:])
}

// Evaluate scores one seed against the tree. The boolean reports whether
// every Must clause held and no MustNot clause did; the score is the sum
// of satisfied Should contributions.
func Evaluate(tree *criteria.Tree, seed, deck, stake string) (int, bool) {
	run := runState{seed: seed, deck: deck, stake: stake}

	for _, c := range tree.Must {
		if !run.satisfies(c) {
			return 0, false
		}
	}

	for _, c := range tree.MustNot {
		if run.satisfies(c) {
			return 0, false
		}
	}

	score := 0

	for _, c := range tree.Should {
		if run.satisfies(c) {
			score += clauseScore(c)
		}
	}

	return score, true
}

// runState is the simulated game run for one seed. Leaf lookups hash the
// (seed, deck, stake, item) tuple, so the same seed behaves identically
// across batches and sessions.
type runState struct {
	seed  string
	deck  string
	stake string
}

func (r runState) satisfies(c criteria.Clause) bool {
	switch n := c.(type) {
	case criteria.Leaf:
		return r.leafHolds(n)
	case *criteria.Leaf:
		return r.leafHolds(*n)
	case criteria.Operator:
		return r.operatorHolds(n)
	case *criteria.Operator:
		return r.operatorHolds(*n)
	default:
		return false
	}
}

func (r runState) operatorHolds(op criteria.Operator) bool {
	if op.Kind == criteria.OpOr {
		for _, child := range op.Children {
			if r.satisfies(child) {
				return true
			}
		}

		return false
	}

	for _, child := range op.Children {
		if !r.satisfies(child) {
			return false
		}
	}

	return len(op.Children) > 0
}

func (r runState) leafHolds(leaf criteria.Leaf) bool {
	names := leaf.Values
	if len(names) == 0 {
		names = []string{leaf.Name}
	}

	for _, name := range names {
		if r.itemHolds(leaf, name) {
			return true
		}
	}

	return false
}

func (r runState) itemHolds(leaf criteria.Leaf, name string) bool {
	h := r.itemHash(leaf.ItemType, name, leaf.Edition)

	if h%presenceModulus != 0 {
		return false
	}

	// Derived run facts for the present item.
	occurrences := int(h/presenceModulus)%3 + 1
	ante := int(h>>16)%anteCount + 1

	minCount := leaf.MinCount
	if minCount < 1 {
		minCount = 1
	}

	if occurrences < minCount {
		return false
	}

	if len(leaf.Antes) > 0 && !slices.Contains(leaf.Antes, ante) {
		return false
	}

	return true
}

func (r runState) itemHash(itemType, name, edition string) uint64 {
	h := fnv.New64a()

	for _, part := range []string{r.seed, r.deck, r.stake, itemType, name, edition} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}

	return h.Sum64()
}

func clauseScore(c criteria.Clause) int {
	switch n := c.(type) {
	case criteria.Leaf:
		return n.Score
	case *criteria.Leaf:
		return n.Score
	case criteria.Operator:
		return n.Score
	case *criteria.Operator:
		return n.Score
	default:
		return 0
	}
}

