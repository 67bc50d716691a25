package systems

import (
	"slices"
	"testing"
)

func TestReaperQueueOrder(t *testing.T) {
	q := NewReaperQueue()
	for i, slot := range []int{4, 2, 7, 0} {
		q.Push(slot, uint64(i))
	}

	if got, _ := q.Oldest(); got != 4 {
		t.Errorf("Oldest = %d, want 4", got)
	}
	if !q.Remove(2) {
		t.Error("Remove(2) = false, want true")
	}
	if q.Remove(2) {
		t.Error("second Remove(2) = true, want false")
	}
	if got := q.Slots(); !slices.Equal(got, []int{4, 7, 0}) {
		t.Errorf("Slots = %v, want [4 7 0]", got)
	}

	// Re-pushing moves a slot to the back.
	q.Push(4, 10)
	if got := q.Slots(); !slices.Equal(got, []int{7, 0, 4}) {
		t.Errorf("Slots after re-push = %v, want [7 0 4]", got)
	}
	if seq, _ := q.Seq(4); seq != 10 {
		t.Errorf("Seq(4) = %d, want 10", seq)
	}
}

func TestReaperQueueSwap(t *testing.T) {
	q := NewReaperQueue()
	q.Push(1, 1)
	q.Push(2, 2)

	q.Swap(1, 2)
	if got := q.Slots(); !slices.Equal(got, []int{2, 1}) {
		t.Errorf("Slots after swap = %v, want [2 1]", got)
	}
	if seq, _ := q.Seq(2); seq != 1 {
		t.Errorf("Seq(2) = %d, want 1", seq)
	}

	// Swapping with an absent slot relabels.
	q.Swap(1, 5)
	if q.Contains(1) || !q.Contains(5) {
		t.Errorf("Contains(1)=%v Contains(5)=%v, want false/true", q.Contains(1), q.Contains(5))
	}

	q.Reset()
	if q.Len() != 0 {
		t.Errorf("Len after reset = %d, want 0", q.Len())
	}
	if _, ok := q.Oldest(); ok {
		t.Error("Oldest on empty queue reported ok")
	}
}
