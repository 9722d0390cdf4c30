package session

import "time"

// Snapshot is an immutable progress report. Produced by the session after
// each applied batch and on demand from Poll; never mutated after
// construction.
type Snapshot struct {
	State State

	SeedsSearched uint64
	ResultsFound  uint64

	// PercentComplete is completed batches over total, 0..100.
	PercentComplete float64

	// SeedsPerMS is the observed throughput since the session started
	// driving. Zero until the first batch lands.
	SeedsPerMS float64

	// ETA is the estimated time remaining, nil while unknown.
	ETA *time.Duration

	Timestamp time.Time
}

// subscriberBuffer bounds each subscriber channel. Slow subscribers drop
// intermediate snapshots rather than stalling the batch loop; every
// snapshot is cumulative so drops lose no information.
const subscriberBuffer = 16

// publish delivers a snapshot to every subscriber without blocking.
// Callers must hold s.mu.
func (s *Session) publish(snap Snapshot) {
	for _, sub := range s.subscribers {
		select {
		case sub <- snap:
		default:
		}
	}
}

// Subscribe registers a progress observer. The returned channel receives
// an ordered stream of snapshots and is closed when the session reaches a
// terminal state.
func (s *Session) Subscribe() <-chan Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, subscriberBuffer)

	if s.state.Terminal() {
		close(ch)

		return ch
	}

	s.subscribers = append(s.subscribers, ch)

	return ch
}

// closeSubscribers ends every progress stream. Callers must hold s.mu.
func (s *Session) closeSubscribers() {
	for _, sub := range s.subscribers {
		close(sub)
	}

	s.subscribers = nil
}
