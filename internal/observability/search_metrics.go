package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricBatchesCompleted = "seedfang.batches.completed"
	metricSeedsSearched    = "seedfang.seeds.searched"
	metricMatchesFound     = "seedfang.matches.found"
	metricBatchDuration    = "seedfang.batch.duration.seconds"
	metricActiveSessions   = "seedfang.sessions.active"

	attrCriteria = "criteria"
	attrDeck     = "deck"
	attrStake    = "stake"
)

// batchDurationBoundaries covers 10ms to 600s: fine partitions finish in
// well under a second, coarse ones can run for minutes per batch.
var batchDurationBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// SearchMetrics holds the OTel instruments for the search session loop.
// A nil *SearchMetrics is valid and records nothing, so callers never
// need to branch on whether telemetry is configured.
type SearchMetrics struct {
	batchesCompleted metric.Int64Counter
	seedsSearched    metric.Int64Counter
	matchesFound     metric.Int64Counter
	batchDuration    metric.Float64Histogram
	activeSessions   metric.Int64UpDownCounter
}

// NewSearchMetrics creates search instruments from the given meter.
func NewSearchMetrics(mt metric.Meter) (*SearchMetrics, error) {
	b := newMetricBuilder(mt)

	sm := &SearchMetrics{
		batchesCompleted: b.counter(metricBatchesCompleted, "Total completed search batches", "{batch}"),
		seedsSearched:    b.counter(metricSeedsSearched, "Total seeds evaluated", "{seed}"),
		matchesFound:     b.counter(metricMatchesFound, "Total matching seeds recorded", "{seed}"),
		batchDuration:    b.histogram(metricBatchDuration, "Engine batch duration in seconds", "s", batchDurationBoundaries...),
		activeSessions:   b.upDownCounter(metricActiveSessions, "Number of sessions currently driving the engine", "{session}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return sm, nil
}

// RecordBatch records one completed batch with its key attributes.
func (sm *SearchMetrics) RecordBatch(ctx context.Context, criteriaID, deck, stake string, seeds, matches uint64, duration time.Duration) {
	if sm == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrCriteria, criteriaID),
		attribute.String(attrDeck, deck),
		attribute.String(attrStake, stake),
	)

	sm.batchesCompleted.Add(ctx, 1, attrs)
	sm.seedsSearched.Add(ctx, int64(seeds), attrs)
	sm.matchesFound.Add(ctx, int64(matches), attrs)
	sm.batchDuration.Record(ctx, duration.Seconds(), attrs)
}

// TrackSession increments the active-session gauge and returns a function
// to decrement it when the session stops driving.
func (sm *SearchMetrics) TrackSession(ctx context.Context, criteriaID string) func() {
	if sm == nil {
		return func() {}
	}

	attrs := metric.WithAttributes(attribute.String(attrCriteria, criteriaID))
	sm.activeSessions.Add(ctx, 1, attrs)

	return func() {
		sm.activeSessions.Add(ctx, -1, attrs)
	}
}
