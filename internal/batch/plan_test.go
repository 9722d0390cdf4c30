package batch

import (
	"errors"
	"testing"

	"github.com/Sumatoshi-tech/seedfang/internal/checkpoint"
)

func TestTotalBatches_PowerOfAlphabet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		exponent int
		want     uint64
	}{
		{0, 35},
		{1, 35 * 35},
		{2, 35 * 35 * 35},
		{3, 35 * 35 * 35 * 35},
	}

	for _, tt := range tests {
		if got := TotalBatches(tt.exponent); got != tt.want {
			t.Errorf("TotalBatches(%d) = %d, want %d", tt.exponent, got, tt.want)
		}
	}
}

func TestBatchSize_CoversKeyspaceExactly(t *testing.T) {
	t.Parallel()

	for exponent := 0; exponent <= 7; exponent++ {
		total := TotalBatches(exponent)
		size := BatchSize(exponent)

		if total*size != KeyspaceSize() {
			t.Errorf("exponent %d: %d batches * %d seeds != keyspace %d",
				exponent, total, size, KeyspaceSize())
		}
	}
}

func TestAlphabet_MatchesAlphabetSize(t *testing.T) {
	t.Parallel()

	if len(Alphabet) != AlphabetSize {
		t.Fatalf("alphabet has %d symbols, want %d", len(Alphabet), AlphabetSize)
	}
}

func TestResolveStart_NoCheckpoint(t *testing.T) {
	t.Parallel()

	start, err := ResolveStart(nil, 2)
	if err != nil {
		t.Fatalf("ResolveStart(nil) error: %v", err)
	}

	if start != 0 {
		t.Fatalf("ResolveStart(nil) = %d, want 0", start)
	}
}

func TestResolveStart_MatchingExponentResumesAfterLast(t *testing.T) {
	t.Parallel()

	cp := &checkpoint.Record{BatchExponent: 2, LastCompletedBatch: 20}

	start, err := ResolveStart(cp, 2)
	if err != nil {
		t.Fatalf("ResolveStart error: %v", err)
	}

	if start != 21 {
		t.Fatalf("ResolveStart = %d, want 21", start)
	}
}

func TestResolveStart_ExponentMismatchRestartsAtZero(t *testing.T) {
	t.Parallel()

	cp := &checkpoint.Record{BatchExponent: 3, LastCompletedBatch: 500}

	start, err := ResolveStart(cp, 2)
	if !errors.Is(err, ErrIncompatibleCheckpoint) {
		t.Fatalf("ResolveStart error = %v, want ErrIncompatibleCheckpoint", err)
	}

	if start != 0 {
		t.Fatalf("ResolveStart = %d, want 0 on exponent mismatch", start)
	}
}

func TestNewPlan_CompleteWhenCheckpointAtEnd(t *testing.T) {
	t.Parallel()

	lastBatch := TotalBatches(1) - 1
	cp := &checkpoint.Record{BatchExponent: 1, LastCompletedBatch: lastBatch}

	plan, err := NewPlan(1, cp)
	if err != nil {
		t.Fatalf("NewPlan error: %v", err)
	}

	if !plan.Complete() {
		t.Fatalf("plan with start %d of %d should be complete", plan.Start, plan.Total)
	}
}

func TestNewPlan_IncompatibleCheckpointStillUsable(t *testing.T) {
	t.Parallel()

	cp := &checkpoint.Record{BatchExponent: 4, LastCompletedBatch: 100}

	plan, err := NewPlan(2, cp)
	if !errors.Is(err, ErrIncompatibleCheckpoint) {
		t.Fatalf("NewPlan error = %v, want ErrIncompatibleCheckpoint", err)
	}

	if plan.Start != 0 || plan.Total != TotalBatches(2) || plan.Complete() {
		t.Fatalf("plan alongside incompatibility should restart at zero: %+v", plan)
	}
}
