package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/seedfang/internal/checkpoint"
	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/internal/engine"
	"github.com/Sumatoshi-tech/seedfang/internal/observability"
	"github.com/Sumatoshi-tech/seedfang/internal/results"
)

// WordResolver materializes the seed list for word-list and db-list
// searches.
type WordResolver interface {
	Resolve(ctx context.Context, mode criteria.Mode, id string) ([]string, error)
}

// Registry enforces at most one live session per (criteria, deck, stake)
// key and wires new sessions to the shared engine, stores, and telemetry.
type Registry struct {
	engine      engine.Engine
	checkpoints *checkpoint.Store
	stores      *results.Manager
	words       WordResolver
	logger      *slog.Logger
	metrics     *observability.SearchMetrics

	mu       sync.Mutex
	sessions map[criteria.Key]*Session
}

// RegistryConfig assembles the registry's shared collaborators.
type RegistryConfig struct {
	Engine      engine.Engine
	Checkpoints *checkpoint.Store
	Stores      *results.Manager
	Words       WordResolver
	Logger      *slog.Logger
	Metrics     *observability.SearchMetrics
}

// NewRegistry creates an empty session registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		engine:      cfg.Engine,
		checkpoints: cfg.Checkpoints,
		stores:      cfg.Stores,
		words:       cfg.Words,
		logger:      logger,
		metrics:     cfg.Metrics,
		sessions:    make(map[criteria.Key]*Session),
	}
}

// Lookup returns the session registered for the key, if any.
func (r *Registry) Lookup(key criteria.Key) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[key]

	return sess, ok
}

// GetOrCreate returns the live session for the criteria's key, or builds
// and registers a fresh idle one when none is live. A terminal session
// occupying the slot is replaced.
func (r *Registry) GetOrCreate(ctx context.Context, crit criteria.Criteria, tree *criteria.Tree) (*Session, error) {
	err := crit.Validate()
	if err != nil {
		return nil, err
	}

	key := crit.Key()

	r.mu.Lock()

	existing, ok := r.sessions[key]
	if ok && existing.Live() {
		r.mu.Unlock()

		return existing, nil
	}

	r.mu.Unlock()

	// Word resolution and store opening do IO, so they run unlocked. Two
	// concurrent creators may both build a session; the map insert below
	// decides the winner.
	words, err := r.resolveWords(ctx, crit)
	if err != nil {
		return nil, err
	}

	store, err := r.stores.Open(key)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}

	sess, err := New(Config{
		Criteria:    crit,
		Tree:        tree,
		Engine:      r.engine,
		Results:     store,
		Checkpoints: r.checkpoints,
		Logger:      r.logger,
		Metrics:     r.metrics,
		Words:       words,
		Resume:      true,
	})
	if err != nil {
		_ = store.Close()

		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[key]
	if ok && current != existing && current.Live() {
		// Lost the race to another creator.
		_ = store.Close()

		return current, nil
	}

	r.sessions[key] = sess

	return sess, nil
}

// StartSearch creates (or reuses) the session for the criteria and starts
// it. A live session for the key rejects with ErrAlreadyRunning; the
// caller decides whether to resume, stop, or leave it.
func (r *Registry) StartSearch(ctx context.Context, crit criteria.Criteria, tree *criteria.Tree) (*Session, error) {
	sess, err := r.GetOrCreate(ctx, crit, tree)
	if err != nil {
		return nil, err
	}

	err = sess.Start(ctx)
	if err != nil {
		return sess, err
	}

	return sess, nil
}

// StopAll stops every live session whose key belongs to the criteria ID,
// across all deck and stake variants. It returns once every affected
// batch loop has fully exited, so callers may immediately delete the
// criteria's stores without racing an in-flight batch. The stopped
// entries are dropped from the registry.
func (r *Registry) StopAll(criteriaID string) (int, error) {
	r.mu.Lock()

	var targets []*Session

	for key, sess := range r.sessions {
		if key.CriteriaID != criteriaID {
			continue
		}

		targets = append(targets, sess)
		delete(r.sessions, key)
	}

	r.mu.Unlock()

	if len(targets) == 0 {
		return 0, nil
	}

	var eg errgroup.Group

	for _, sess := range targets {
		eg.Go(sess.Stop)
	}

	err := eg.Wait()
	if err != nil {
		return len(targets), fmt.Errorf("stop sessions for %s: %w", criteriaID, err)
	}

	return len(targets), nil
}

// Sessions returns a snapshot of all registered sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}

	return out
}

func (r *Registry) resolveWords(ctx context.Context, crit criteria.Criteria) ([]string, error) {
	switch crit.Mode() {
	case criteria.ModeWordList:
		if r.words == nil {
			return nil, fmt.Errorf("word list %s: no resolver configured", crit.WordListID)
		}

		return r.words.Resolve(ctx, criteria.ModeWordList, crit.WordListID)
	case criteria.ModeDBList:
		if r.words == nil {
			return nil, fmt.Errorf("db list %s: no resolver configured", crit.DBListID)
		}

		return r.words.Resolve(ctx, criteria.ModeDBList, crit.DBListID)
	default:
		return nil, nil
	}
}
