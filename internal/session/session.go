// Package session implements the search session subsystem: the per-key
// state machine that drives the engine batch-by-batch, persists resume
// checkpoints, aggregates progress, and the registry that guarantees at
// most one live driver per (criteria, deck, stake) key.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/seedfang/internal/batch"
	"github.com/Sumatoshi-tech/seedfang/internal/checkpoint"
	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/internal/engine"
	"github.com/Sumatoshi-tech/seedfang/internal/observability"
	"github.com/Sumatoshi-tech/seedfang/internal/results"
)

// State is the session lifecycle state.
type State string

// Session states. Paused survives only in memory: durability across
// process restarts comes from the checkpoint and result store alone.
const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateStopped
}

// checkpointInterval is the completed-batch stride between checkpoint
// writes. Pause does not force an out-of-cycle write, so up to
// checkpointInterval-1 batches may be redone on resume.
const checkpointInterval = 10

// wordBatchSize is the list-mode batch size: word-list and db-list
// searches are chunked so they checkpoint and pause like keyspace runs.
const wordBatchSize = 1000

// Config assembles a session's collaborators.
type Config struct {
	Criteria criteria.Criteria
	Tree     *criteria.Tree

	Engine      engine.Engine
	Results     results.Store
	Checkpoints *checkpoint.Store

	Logger  *slog.Logger
	Metrics *observability.SearchMetrics

	// Words is the resolved seed list for non-keyspace modes.
	Words []string

	// Resume reads the checkpoint at Start. Disabled for fresh runs.
	Resume bool
}

// Session owns one running or paused search. All mutable state is guarded
// by a single mutex so control operations, the batch loop, and observers
// never race; the engine call itself runs outside the lock.
type Session struct {
	ID uuid.UUID

	crit criteria.Criteria
	tree *criteria.Tree
	key  criteria.Key
	mode criteria.Mode

	eng         engine.Engine
	store       results.Store
	checkpoints *checkpoint.Store
	logger      *slog.Logger
	metrics     *observability.SearchMetrics

	words  []string
	resume bool

	mu             sync.Mutex
	state          State
	plan           batch.Plan
	nextBatch      uint64
	highestApplied int64
	seedsSearched  uint64
	resultsFound   uint64
	newResults     bool
	drainCursor    int64
	drainInFlight  bool
	driveStarted   time.Time
	driven         time.Duration
	err            error
	done           chan struct{}
	subscribers    []chan Snapshot
	storeClosed    bool
}

// New constructs an idle session. Start begins driving the engine.
func New(cfg Config) (*Session, error) {
	err := cfg.Criteria.Validate()
	if err != nil {
		return nil, err
	}

	if cfg.Tree == nil {
		return nil, errors.New("session: criteria tree must not be nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	words := cfg.Words
	if cfg.Criteria.Mode() == criteria.ModeSingleSeed {
		words = []string{cfg.Criteria.Seed}
	}

	return &Session{
		ID:             uuid.New(),
		crit:           cfg.Criteria,
		tree:           cfg.Tree,
		key:            cfg.Criteria.Key(),
		mode:           cfg.Criteria.Mode(),
		eng:            cfg.Engine,
		store:          cfg.Results,
		checkpoints:    cfg.Checkpoints,
		logger:         logger,
		metrics:        cfg.Metrics,
		words:          words,
		resume:         cfg.Resume,
		state:          StateIdle,
		highestApplied: -1,
	}, nil
}

// Key returns the session's (criteria, deck, stake) identity.
func (s *Session) Key() criteria.Key { return s.key }

// Criteria returns the immutable search configuration.
func (s *Session) Criteria() criteria.Criteria { return s.crit }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Err returns the terminal error, if the session stopped on failure.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}

// Live reports whether the session holds the driver slot for its key.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state == StateRunning || s.state == StatePaused
}

// Start begins driving the engine from the resolved batch plan. Valid only
// from Idle; a Running or Paused session rejects with ErrAlreadyRunning.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()

	switch s.state {
	case StateRunning, StatePaused:
		s.mu.Unlock()

		return ErrAlreadyRunning
	case StateCompleted, StateStopped:
		s.mu.Unlock()

		return fmt.Errorf("session is %s; create a new session to search again", s.state)
	case StateIdle:
	}

	plan := s.resolvePlan()
	s.plan = plan
	s.nextBatch = plan.Start

	if plan.Complete() {
		// Prior runs already covered the whole partition.
		s.state = StateCompleted
		s.closeSubscribers()
		s.releaseStoreLocked()
		s.mu.Unlock()

		s.logger.Info("search already complete",
			"key", s.key.String(), "total_batches", plan.Total)

		return nil
	}

	s.state = StateRunning
	s.driveStarted = time.Now()
	s.done = make(chan struct{})

	done := s.done
	s.mu.Unlock()

	s.logger.Info("search started",
		"session", s.ID.String(),
		"key", s.key.String(),
		"mode", string(s.mode),
		"start_batch", plan.Start,
		"total_batches", plan.Total,
	)

	go s.drive(ctx, done)

	return nil
}

// Pause halts batch dispatch at the next batch boundary. Valid only from
// Running. The last periodic checkpoint stands; no out-of-cycle write is
// forced, so a resume may redo up to checkpointInterval-1 batches.
func (s *Session) Pause() error {
	s.mu.Lock()

	if s.state != StateRunning {
		s.mu.Unlock()

		return fmt.Errorf("%w: state is %s", ErrNotRunning, s.state)
	}

	s.state = StatePaused
	done := s.done
	s.mu.Unlock()

	<-done

	s.logger.Info("search paused", "session", s.ID.String(), "key", s.key.String())

	return nil
}

// Resume continues a paused session from its in-memory batch cursor.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()

	if s.state != StatePaused {
		s.mu.Unlock()

		return fmt.Errorf("%w: state is %s", ErrNotPaused, s.state)
	}

	s.state = StateRunning
	s.driveStarted = time.Now()
	s.done = make(chan struct{})

	done := s.done
	s.mu.Unlock()

	s.logger.Info("search resumed",
		"session", s.ID.String(), "key", s.key.String(), "next_batch", s.nextBatch)

	go s.drive(ctx, done)

	return nil
}

// Stop halts the session permanently. Checkpoint and result data are left
// intact; deletion only ever happens through invalidation. Stop returns
// after the batch loop has fully exited, so callers may immediately act
// on the key without racing an in-flight batch.
func (s *Session) Stop() error {
	s.mu.Lock()

	switch s.state {
	case StateCompleted, StateStopped:
		s.mu.Unlock()

		return nil
	case StateIdle:
		s.state = StateStopped
		s.closeSubscribers()
		s.releaseStoreLocked()
		s.mu.Unlock()

		return nil
	case StateRunning, StatePaused:
	}

	s.state = StateStopped
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}

	s.mu.Lock()
	s.closeSubscribers()
	s.releaseStoreLocked()
	s.mu.Unlock()

	s.logger.Info("search stopped", "session", s.ID.String(), "key", s.key.String())

	return nil
}

// Poll returns the latest aggregated progress. Non-blocking, callable in
// any state.
func (s *Session) Poll() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

// DrainNewResults pages result rows appended since the last drain. The
// store is only queried while the new-results flag is set, which keeps
// observer tick loops from hammering the store when nothing changed. The
// terminal drain also releases the store handle once every row has been
// paged out.
func (s *Session) DrainNewResults(ctx context.Context, pageSize int) ([]results.Match, int64, error) {
	s.mu.Lock()

	if !s.newResults || s.storeClosed {
		cursor := s.drainCursor
		s.mu.Unlock()

		return nil, cursor, nil
	}

	// Clear the flag before releasing the lock for the query: a batch
	// completing mid-query re-sets it, so its rows trigger the next drain
	// instead of waiting for a later new-data event.
	s.newResults = false
	s.drainInFlight = true
	cursor := s.drainCursor
	s.mu.Unlock()

	page, err := s.store.PageAfter(ctx, cursor, pageSize)
	if err != nil {
		s.mu.Lock()
		s.drainInFlight = false
		s.newResults = true
		s.mu.Unlock()

		return nil, cursor, fmt.Errorf("drain results: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.drainInFlight = false

	if len(page) > 0 {
		s.drainCursor = page[len(page)-1].ID
	}

	if len(page) == pageSize {
		// A full page may leave rows behind; keep draining.
		s.newResults = true
	}

	if s.state.Terminal() {
		s.releaseStoreLocked()
	}

	return page, s.drainCursor, nil
}

// OnBatchCompleted applies one completed batch to the aggregate counters
// and advances the checkpoint cursor. Idempotent under at-least-once
// delivery: a batch index at or below the highest already applied is
// ignored. Callbacks are assumed to arrive in non-decreasing index order;
// out-of-order arrival is a precondition violation, not repaired here.
func (s *Session) OnBatchCompleted(batchIndex, seedsInBatch, newResults uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int64(batchIndex) <= s.highestApplied {
		return
	}

	s.highestApplied = int64(batchIndex)
	s.nextBatch = batchIndex + 1
	s.seedsSearched += seedsInBatch
	s.resultsFound += newResults

	if newResults > 0 {
		s.newResults = true
	}

	if batchIndex%checkpointInterval == 0 {
		s.writeCheckpointLocked(batchIndex)
	}

	s.publish(s.snapshotLocked())
}

// drive is the batch dispatch loop. It runs until the plan is exhausted,
// a control operation changes the state, or the engine fails. Control
// operations take effect at batch boundaries; the engine offers no
// mid-batch preemption.
func (s *Session) drive(ctx context.Context, done chan struct{}) {
	defer close(done)

	untrack := s.metrics.TrackSession(ctx, s.key.CriteriaID)
	defer untrack()

	for {
		s.mu.Lock()

		if s.state != StateRunning {
			s.accumulateDriveTimeLocked()
			s.mu.Unlock()

			return
		}

		if s.nextBatch >= s.plan.Total {
			s.accumulateDriveTimeLocked()
			s.state = StateCompleted
			s.publish(s.snapshotLocked())
			s.closeSubscribers()
			s.releaseStoreLocked()
			total := s.plan.Total
			s.mu.Unlock()

			s.logger.Info("search completed",
				"session", s.ID.String(), "key", s.key.String(), "total_batches", total)

			return
		}

		idx := s.nextBatch
		req := s.requestLocked(idx)
		s.mu.Unlock()

		batchStart := time.Now()

		res, err := s.eng.RunBatch(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.halt(nil)

				return
			}

			s.halt(errors.Join(ErrEngine, err))

			return
		}

		if len(res.Matches) > 0 {
			err = s.store.Append(ctx, res.Matches)
			if err != nil {
				s.halt(errors.Join(ErrStore, err))

				return
			}
		}

		s.metrics.RecordBatch(ctx, s.key.CriteriaID, s.key.Deck, s.key.Stake,
			res.SeedsProcessed, uint64(len(res.Matches)), time.Since(batchStart))

		s.OnBatchCompleted(idx, res.SeedsProcessed, uint64(len(res.Matches)))
	}
}

// halt transitions to Stopped from inside the drive loop. A nil error is
// a cancellation; a non-nil error is surfaced through Err and observers.
// The last good checkpoint remains valid for a later Start.
func (s *Session) halt(err error) {
	s.mu.Lock()
	s.accumulateDriveTimeLocked()
	s.state = StateStopped
	s.err = err
	s.publish(s.snapshotLocked())
	s.closeSubscribers()
	s.releaseStoreLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("search failed",
			"session", s.ID.String(), "key", s.key.String(), "error", err)
	}
}

// resolvePlan loads the checkpoint (when resuming) and computes the batch
// plan. Incompatible checkpoints are discarded with a warning; the search
// restarts at batch zero, or at the criteria's explicit start offset when
// no checkpoint applies.
func (s *Session) resolvePlan() batch.Plan {
	var cp *checkpoint.Record

	if s.resume && s.checkpoints != nil {
		loaded, err := s.checkpoints.Load(s.key)
		if err != nil {
			s.logger.Warn("checkpoint read failed; starting fresh",
				"key", s.key.String(), "error", err)
		} else {
			cp = loaded
		}
	}

	if cp != nil && cp.SearchMode != "" && cp.SearchMode != string(s.mode) {
		s.logger.Warn("checkpoint search mode mismatch; starting at batch 0",
			"key", s.key.String(), "checkpoint_mode", cp.SearchMode, "current_mode", string(s.mode))

		cp = nil
	}

	plan, err := s.planForMode(cp)
	if err != nil {
		// Only ErrIncompatibleCheckpoint reaches here; the plan beside it
		// is already restarted at zero.
		s.logger.Warn("checkpoint incompatible; starting at batch 0",
			"key", s.key.String(), "error", err)
	}

	if cp == nil && plan.Start == 0 && s.crit.StartBatch > 0 {
		plan.Start = s.crit.StartBatch
	}

	return plan
}

func (s *Session) planForMode(cp *checkpoint.Record) (batch.Plan, error) {
	if s.mode == criteria.ModeKeyspace {
		return batch.NewPlan(s.crit.BatchExponent, cp)
	}

	total := uint64((len(s.words) + wordBatchSize - 1) / wordBatchSize)

	start, err := batch.ResolveStart(cp, s.crit.BatchExponent)

	return batch.Plan{
		Exponent: s.crit.BatchExponent,
		Total:    total,
		Start:    start,
	}, err
}

// requestLocked builds the engine request for one batch. Callers hold s.mu.
func (s *Session) requestLocked(idx uint64) engine.Request {
	req := engine.Request{
		Tree:          s.tree,
		Deck:          s.key.Deck,
		Stake:         s.key.Stake,
		BatchIndex:    idx,
		BatchExponent: s.crit.BatchExponent,
		Threads:       s.crit.Threads,
		MinScore:      s.crit.MinScore,
	}

	if s.mode != criteria.ModeKeyspace {
		lo := idx * wordBatchSize

		hi := lo + wordBatchSize
		if hi > uint64(len(s.words)) {
			hi = uint64(len(s.words))
		}

		req.Seeds = s.words[lo:hi]
	}

	return req
}

// writeCheckpointLocked persists the resume cursor. A failed write is
// logged and does not touch the in-memory counters, which stay correct
// independently. Callers hold s.mu.
func (s *Session) writeCheckpointLocked(lastCompleted uint64) {
	if s.checkpoints == nil {
		return
	}

	rec := checkpoint.Record{
		BatchExponent:      s.crit.BatchExponent,
		LastCompletedBatch: lastCompleted,
		SearchMode:         string(s.mode),
		UpdatedAt:          time.Now().UTC(),
	}

	err := s.checkpoints.Save(s.key, rec)
	if err != nil {
		s.logger.Warn("checkpoint write failed; progress counters unaffected",
			"key", s.key.String(), "batch", lastCompleted, "error", err)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:         s.state,
		SeedsSearched: s.seedsSearched,
		ResultsFound:  s.resultsFound,
		Timestamp:     time.Now(),
	}

	if s.plan.Total > 0 {
		snap.PercentComplete = float64(s.nextBatch) / float64(s.plan.Total) * 100
	}

	elapsed := s.driven
	if !s.driveStarted.IsZero() && s.state == StateRunning {
		elapsed += time.Since(s.driveStarted)
	}

	if ms := elapsed.Milliseconds(); ms > 0 && s.seedsSearched > 0 {
		snap.SeedsPerMS = float64(s.seedsSearched) / float64(ms)

		remaining := s.remainingSeedsLocked()
		if snap.SeedsPerMS > 0 {
			eta := time.Duration(float64(remaining)/snap.SeedsPerMS) * time.Millisecond
			snap.ETA = &eta
		}
	}

	return snap
}

func (s *Session) remainingSeedsLocked() uint64 {
	if s.nextBatch >= s.plan.Total {
		return 0
	}

	remainingBatches := s.plan.Total - s.nextBatch

	if s.mode == criteria.ModeKeyspace {
		return remainingBatches * batch.BatchSize(s.crit.BatchExponent)
	}

	covered := s.nextBatch * wordBatchSize
	if covered >= uint64(len(s.words)) {
		return 0
	}

	return uint64(len(s.words)) - covered
}

// accumulateDriveTimeLocked folds the current drive interval into the
// total active time. Callers hold s.mu.
func (s *Session) accumulateDriveTimeLocked() {
	if !s.driveStarted.IsZero() {
		s.driven += time.Since(s.driveStarted)
		s.driveStarted = time.Time{}
	}
}

// releaseStoreLocked closes the store unless undrained results remain or a
// drain query is mid-flight; in either case the handle stays open and the
// final DrainNewResults closes it, so rows appended by the last batches
// stay reachable after a terminal transition and the handle is never
// closed under an active query. Callers hold s.mu.
func (s *Session) releaseStoreLocked() {
	if s.newResults || s.drainInFlight {
		return
	}

	s.closeStoreLocked()
}

// closeStoreLocked releases the result store handle once. The data stays
// on disk; only invalidation deletes it. Callers hold s.mu.
func (s *Session) closeStoreLocked() {
	if s.storeClosed || s.store == nil {
		return
	}

	s.storeClosed = true

	err := s.store.Close()
	if err != nil {
		s.logger.Warn("result store close failed", "key", s.key.String(), "error", err)
	}
}
