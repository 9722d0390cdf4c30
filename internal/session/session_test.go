package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/seedfang/internal/checkpoint"
	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/internal/engine"
	"github.com/Sumatoshi-tech/seedfang/internal/results"
)

// fakeEngine records dispatched batches and yields canned results. An
// optional gate channel holds each batch until the test feeds a token or
// closes the channel.
type fakeEngine struct {
	mu      sync.Mutex
	calls   []uint64
	gate    chan struct{}
	matches func(idx uint64) []results.Match
	failAt  int64
	failErr error
	perSeed uint64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{failAt: -1, perSeed: 100}
}

func (f *fakeEngine) RunBatch(ctx context.Context, req engine.Request) (engine.Result, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return engine.Result{}, ctx.Err()
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, req.BatchIndex)
	f.mu.Unlock()

	if f.failAt >= 0 && req.BatchIndex == uint64(f.failAt) {
		return engine.Result{}, f.failErr
	}

	var m []results.Match
	if f.matches != nil {
		m = f.matches(req.BatchIndex)
	}

	return engine.Result{SeedsProcessed: f.perSeed, Matches: m}, nil
}

func (f *fakeEngine) batches() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]uint64, len(f.calls))
	copy(out, f.calls)

	return out
}

// memStore is an in-memory results.Store for driving the session without
// SQLite. The optional pageEntered/pageGate pair lets a test hold a
// PageAfter query open while it interleaves other calls.
type memStore struct {
	mu          sync.Mutex
	rows        []results.Match
	nextID      int64
	closed      bool
	appendErr   error
	pageCalls   int
	pageEntered chan struct{}
	pageGate    chan struct{}
}

func newMemStore() *memStore { return &memStore{nextID: 1} }

func (m *memStore) Append(_ context.Context, matches []results.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendErr != nil {
		return m.appendErr
	}

	for _, match := range matches {
		match.ID = m.nextID
		m.nextID++
		m.rows = append(m.rows, match)
	}

	return nil
}

func (m *memStore) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return int64(len(m.rows)), nil
}

func (m *memStore) Page(_ context.Context, offset, limit int) ([]results.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if offset >= len(m.rows) {
		return nil, nil
	}

	end := offset + limit
	if end > len(m.rows) {
		end = len(m.rows)
	}

	out := make([]results.Match, end-offset)
	copy(out, m.rows[offset:end])

	return out, nil
}

func (m *memStore) PageAfter(_ context.Context, afterID int64, limit int) ([]results.Match, error) {
	if m.pageEntered != nil {
		m.pageEntered <- struct{}{}
	}

	if m.pageGate != nil {
		<-m.pageGate
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pageCalls++

	var out []results.Match

	for _, row := range m.rows {
		if row.ID > afterID {
			out = append(out, row)
			if len(out) == limit {
				break
			}
		}
	}

	return out, nil
}

func (m *memStore) HasNewSince(_ context.Context, lastAck int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.nextID-1 > lastAck, nil
}

func (m *memStore) Seeds(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row.Seed)
	}

	return out, nil
}

func (m *memStore) Delete() error { return m.Close() }

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

func testCriteria(exponent int) criteria.Criteria {
	return criteria.Criteria{
		ID:            "royal",
		Deck:          "red",
		Stake:         "gold",
		Threads:       2,
		BatchExponent: exponent,
	}
}

func newTestSession(t *testing.T, crit criteria.Criteria, eng engine.Engine, store results.Store, cps *checkpoint.Store) *Session {
	t.Helper()

	sess, err := New(Config{
		Criteria:    crit,
		Tree:        &criteria.Tree{Name: "test"},
		Engine:      eng,
		Results:     store,
		Checkpoints: cps,
		Resume:      true,
	})
	require.NoError(t, err)

	return sess
}

func waitForState(t *testing.T, sess *Session, want State) {
	t.Helper()

	require.Eventually(t, func() bool {
		return sess.State() == want
	}, 5*time.Second, 5*time.Millisecond, "session never reached %s", want)
}

func TestRunToCompletion(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	store := newMemStore()
	sess := newTestSession(t, testCriteria(0), eng, store, nil)

	require.NoError(t, sess.Start(context.Background()))
	waitForState(t, sess, StateCompleted)

	// Exponent 0 partitions the keyspace into 35 batches.
	batches := eng.batches()
	require.Len(t, batches, 35)
	require.Equal(t, uint64(0), batches[0])
	require.Equal(t, uint64(34), batches[34])

	snap := sess.Poll()
	require.Equal(t, StateCompleted, snap.State)
	require.Equal(t, uint64(35*100), snap.SeedsSearched)
	require.InDelta(t, 100.0, snap.PercentComplete, 0.001)
}

func TestOnBatchCompletedIdempotent(t *testing.T) {
	t.Parallel()

	sess := newTestSession(t, testCriteria(0), newFakeEngine(), newMemStore(), nil)

	sess.OnBatchCompleted(5, 100, 2)
	sess.OnBatchCompleted(5, 100, 2)
	sess.OnBatchCompleted(5, 100, 2)

	snap := sess.Poll()
	require.Equal(t, uint64(100), snap.SeedsSearched)
	require.Equal(t, uint64(2), snap.ResultsFound)
}

func TestCheckpointCadence(t *testing.T) {
	t.Parallel()

	cps, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	crit := testCriteria(3)
	sess := newTestSession(t, crit, newFakeEngine(), newMemStore(), cps)

	// 25 completed batches: writes land at 0, 10, and 20.
	for i := range uint64(25) {
		sess.OnBatchCompleted(i, 50, 0)
	}

	rec, err := cps.Load(crit.Key())
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, uint64(20), rec.LastCompletedBatch)
	require.Equal(t, 3, rec.BatchExponent)
	require.Equal(t, string(criteria.ModeKeyspace), rec.SearchMode)
}

func TestResumeFromCheckpoint(t *testing.T) {
	t.Parallel()

	cps, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	crit := testCriteria(0)
	require.NoError(t, cps.Save(crit.Key(), checkpoint.Record{
		BatchExponent:      0,
		LastCompletedBatch: 20,
		SearchMode:         string(criteria.ModeKeyspace),
		UpdatedAt:          time.Now().UTC(),
	}))

	eng := newFakeEngine()
	sess := newTestSession(t, crit, eng, newMemStore(), cps)

	require.NoError(t, sess.Start(context.Background()))
	waitForState(t, sess, StateCompleted)

	batches := eng.batches()
	require.Len(t, batches, 14)
	require.Equal(t, uint64(21), batches[0])
	require.Equal(t, uint64(34), batches[len(batches)-1])
}

func TestIncompatibleCheckpointRestartsAtZero(t *testing.T) {
	t.Parallel()

	cps, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	crit := testCriteria(0)
	require.NoError(t, cps.Save(crit.Key(), checkpoint.Record{
		BatchExponent:      2,
		LastCompletedBatch: 500,
		SearchMode:         string(criteria.ModeKeyspace),
		UpdatedAt:          time.Now().UTC(),
	}))

	eng := newFakeEngine()
	sess := newTestSession(t, crit, eng, newMemStore(), cps)

	require.NoError(t, sess.Start(context.Background()))
	waitForState(t, sess, StateCompleted)

	require.Equal(t, uint64(0), eng.batches()[0])
}

func TestCompletedPartitionDoesNotRedrive(t *testing.T) {
	t.Parallel()

	cps, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	crit := testCriteria(0)
	require.NoError(t, cps.Save(crit.Key(), checkpoint.Record{
		BatchExponent:      0,
		LastCompletedBatch: 34,
		SearchMode:         string(criteria.ModeKeyspace),
		UpdatedAt:          time.Now().UTC(),
	}))

	eng := newFakeEngine()
	sess := newTestSession(t, crit, eng, newMemStore(), cps)

	require.NoError(t, sess.Start(context.Background()))
	require.Equal(t, StateCompleted, sess.State())
	require.Empty(t, eng.batches())
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	eng.gate = make(chan struct{})

	sess := newTestSession(t, testCriteria(0), eng, newMemStore(), nil)
	require.NoError(t, sess.Start(context.Background()))

	// Let three batches through, then pause at the boundary.
	for range 3 {
		eng.gate <- struct{}{}
	}

	paused := make(chan error, 1)
	go func() { paused <- sess.Pause() }()

	// Pause waits for the in-flight batch; keep the gate fed until it
	// lands.
	for {
		select {
		case err := <-paused:
			require.NoError(t, err)
		case eng.gate <- struct{}{}:
			continue
		case <-time.After(5 * time.Second):
			t.Fatal("pause never completed")
		}

		break
	}

	require.Equal(t, StatePaused, sess.State())
	dispatched := len(eng.batches())

	time.Sleep(50 * time.Millisecond)
	require.Len(t, eng.batches(), dispatched, "paused session must not dispatch batches")

	// Resume from the in-memory cursor and run out the partition.
	close(eng.gate)
	require.NoError(t, sess.Resume(context.Background()))
	waitForState(t, sess, StateCompleted)

	batches := eng.batches()
	last := batches[len(batches)-1]
	require.Equal(t, uint64(34), last)
}

func TestStopIsSynchronous(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	eng.gate = make(chan struct{})

	store := newMemStore()
	sess := newTestSession(t, testCriteria(0), eng, store, nil)
	require.NoError(t, sess.Start(context.Background()))

	eng.gate <- struct{}{}

	stopped := make(chan error, 1)
	go func() { stopped <- sess.Stop() }()

	for {
		select {
		case err := <-stopped:
			require.NoError(t, err)
		case eng.gate <- struct{}{}:
			continue
		case <-time.After(5 * time.Second):
			t.Fatal("stop never completed")
		}

		break
	}

	require.Equal(t, StateStopped, sess.State())
	require.NoError(t, sess.Err())

	// Once Stop returns the driver is gone: no further dispatches.
	dispatched := len(eng.batches())
	time.Sleep(50 * time.Millisecond)
	require.Len(t, eng.batches(), dispatched)
	require.True(t, store.closed)
}

func TestStartWhileRunningRejected(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	eng.gate = make(chan struct{})

	sess := newTestSession(t, testCriteria(0), eng, newMemStore(), nil)
	require.NoError(t, sess.Start(context.Background()))

	err := sess.Start(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(eng.gate)
	waitForState(t, sess, StateCompleted)
}

func TestEngineFailureStopsSession(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	eng.failAt = 3
	eng.failErr = errors.New("backend unreachable")

	sess := newTestSession(t, testCriteria(0), eng, newMemStore(), nil)
	require.NoError(t, sess.Start(context.Background()))
	waitForState(t, sess, StateStopped)

	require.ErrorIs(t, sess.Err(), ErrEngine)
	require.ErrorContains(t, sess.Err(), "backend unreachable")
}

func TestStoreFailureStopsSession(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	eng.matches = func(idx uint64) []results.Match {
		return []results.Match{{Seed: "AAAA1111", Score: 10}}
	}

	store := newMemStore()
	store.appendErr = errors.New("disk full")

	sess := newTestSession(t, testCriteria(0), eng, store, nil)
	require.NoError(t, sess.Start(context.Background()))
	waitForState(t, sess, StateStopped)

	require.ErrorIs(t, sess.Err(), ErrStore)
}

func TestDrainNewResults(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	sess := newTestSession(t, testCriteria(0), nil, store, nil)

	ctx := context.Background()

	// Nothing new: no store query happens.
	page, cursor, err := sess.DrainNewResults(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, page)
	require.Zero(t, cursor)

	require.NoError(t, store.Append(ctx, []results.Match{
		{Seed: "AAAA1111", Score: 12},
		{Seed: "BBBB2222", Score: 9},
	}))
	sess.OnBatchCompleted(0, 100, 2)

	page, cursor, err = sess.DrainNewResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, int64(2), cursor)

	// Flag cleared: a second drain without new appends skips the store.
	queriesBefore := store.pageCalls
	page, _, err = sess.DrainNewResults(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, page)
	require.Equal(t, queriesBefore, store.pageCalls)

	// New rows after the cursor surface on the next drain.
	require.NoError(t, store.Append(ctx, []results.Match{{Seed: "CCCC3333", Score: 20}}))
	sess.OnBatchCompleted(1, 100, 1)

	page, cursor, err = sess.DrainNewResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "CCCC3333", page[0].Seed)
	require.Equal(t, int64(3), cursor)
}

func TestDrainAfterCompletion(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	eng.matches = func(idx uint64) []results.Match {
		if idx != 34 {
			return nil
		}

		return []results.Match{
			{Seed: "ZZZZ9997", Score: 15},
			{Seed: "ZZZZ9998", Score: 16},
			{Seed: "ZZZZ9999", Score: 17},
		}
	}

	store := newMemStore()
	sess := newTestSession(t, testCriteria(0), eng, store, nil)

	ctx := context.Background()

	require.NoError(t, sess.Start(ctx))
	waitForState(t, sess, StateCompleted)

	snap := sess.Poll()
	require.Equal(t, uint64(3), snap.ResultsFound)

	// Matches from the final batch are still reachable: the store handle
	// stays open until the terminal drain empties it.
	page, cursor, err := sess.DrainNewResults(ctx, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, int64(2), cursor)
	require.False(t, store.closed, "store must stay open while rows remain")

	page, cursor, err = sess.DrainNewResults(ctx, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "ZZZZ9999", page[0].Seed)
	require.Equal(t, int64(3), cursor)
	require.True(t, store.closed, "store should close once fully drained")

	// Further drains are cheap no-ops against the closed store.
	page, _, err = sess.DrainNewResults(ctx, 2)
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestDrainConcurrentBatchKeepsFlag(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.pageEntered = make(chan struct{})
	store.pageGate = make(chan struct{})

	sess := newTestSession(t, testCriteria(0), nil, store, nil)

	ctx := context.Background()

	require.NoError(t, store.Append(ctx, []results.Match{{Seed: "AAAA1111", Score: 12}}))
	sess.OnBatchCompleted(0, 100, 1)

	type drainOut struct {
		page []results.Match
		err  error
	}

	drained := make(chan drainOut, 1)

	go func() {
		page, _, err := sess.DrainNewResults(ctx, 10)
		drained <- drainOut{page: page, err: err}
	}()

	// With the drain query held open, another batch lands and flags new
	// results.
	<-store.pageEntered

	require.NoError(t, store.Append(ctx, []results.Match{{Seed: "BBBB2222", Score: 9}}))
	sess.OnBatchCompleted(1, 100, 1)

	close(store.pageGate)
	store.pageEntered = nil

	out := <-drained
	require.NoError(t, out.err)
	require.NotEmpty(t, out.page)

	// The mid-query completion survives the drain: the flag is still set,
	// so the next drain queries the store instead of skipping it.
	queriesBefore := store.pageCalls

	_, cursor, err := sess.DrainNewResults(ctx, 10)
	require.NoError(t, err)
	require.Greater(t, store.pageCalls, queriesBefore)
	require.Equal(t, int64(2), cursor)
}

func TestSubscribeClosedOnCompletion(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	sess := newTestSession(t, testCriteria(0), eng, newMemStore(), nil)

	ch := sess.Subscribe()

	require.NoError(t, sess.Start(context.Background()))
	waitForState(t, sess, StateCompleted)

	var got int

	for range ch {
		got++
	}

	require.Positive(t, got, "subscriber should observe progress before close")
}

func TestSingleSeedMode(t *testing.T) {
	t.Parallel()

	crit := testCriteria(0)
	crit.Seed = "7LQX2MNP"

	eng := newFakeEngine()
	eng.matches = func(uint64) []results.Match {
		return []results.Match{{Seed: "7LQX2MNP", Score: 42}}
	}

	sess := newTestSession(t, crit, eng, newMemStore(), nil)

	ctx := context.Background()

	require.NoError(t, sess.Start(ctx))
	waitForState(t, sess, StateCompleted)

	require.Len(t, eng.batches(), 1)

	// The single batch completes near-instantly; its match still surfaces
	// through the drain path afterwards.
	page, _, err := sess.DrainNewResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "7LQX2MNP", page[0].Seed)
}

func TestStartBatchOffsetWithoutCheckpoint(t *testing.T) {
	t.Parallel()

	crit := testCriteria(0)
	crit.StartBatch = 30

	eng := newFakeEngine()
	sess := newTestSession(t, crit, eng, newMemStore(), nil)

	require.NoError(t, sess.Start(context.Background()))
	waitForState(t, sess, StateCompleted)

	batches := eng.batches()
	require.Len(t, batches, 5)
	require.Equal(t, uint64(30), batches[0])
}
