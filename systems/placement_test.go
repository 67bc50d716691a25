package systems

import (
	"math/rand/v2"
	"testing"

	"github.com/pthm-cable/digipop/simerr"
)

func TestSelectors(t *testing.T) {
	mixed := []Candidate{
		{Slot: 1, Occupied: true, Seq: 5, Merit: 2},
		{Slot: 3, Occupied: true, Seq: 2, Merit: 4},
		{Slot: 5, Occupied: true, Seq: 2, Merit: 1},
		{Slot: 7, Occupied: false},
	}
	full := mixed[:3]
	empty := []Candidate{{Slot: 2}, {Slot: 9}}

	tests := []struct {
		name   string
		method string
		prefer bool
		cands  []Candidate
		want   Placement
		ok     bool
	}{
		{"oldest ties by slot", "oldest", false, mixed, Placement{Slot: 3, Evict: true}, true},
		{"lowest merit", "lowest_merit", false, mixed, Placement{Slot: 5, Evict: true}, true},
		{"prefer empty wins", "oldest", true, mixed, Placement{Slot: 7}, true},
		{"prefer empty falls back", "lowest_merit", true, full, Placement{Slot: 5, Evict: true}, true},
		{"empty only fails when full", "empty_only", false, full, Placement{}, false},
		{"empty only picks empty", "empty_only", false, mixed, Placement{Slot: 7}, true},
		{"no candidates", "oldest", false, nil, Placement{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := NewSelector(tt.method, tt.prefer)
			if err != nil {
				t.Fatal(err)
			}
			got, ok := sel.SelectTarget(tt.cands, rand.New(rand.NewPCG(1, 1)))
			if ok != tt.ok || got != tt.want {
				t.Errorf("SelectTarget = %+v, %v, want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}

	t.Run("eviction selector on all-empty candidates", func(t *testing.T) {
		got, ok := OldestSelector{}.SelectTarget(empty, rand.New(rand.NewPCG(1, 1)))
		if !ok || got.Evict || (got.Slot != 2 && got.Slot != 9) {
			t.Errorf("SelectTarget = %+v, %v, want an empty slot", got, ok)
		}
	})
}

func TestSelectorDeterministic(t *testing.T) {
	cands := make([]Candidate, 9)
	for i := range cands {
		cands[i] = Candidate{Slot: i, Occupied: i%2 == 0}
	}
	for _, method := range []string{"random", "empty_only"} {
		sel, _ := NewSelector(method, false)
		a, _ := sel.SelectTarget(cands, rand.New(rand.NewPCG(9, 9)))
		b, _ := sel.SelectTarget(cands, rand.New(rand.NewPCG(9, 9)))
		if a != b {
			t.Errorf("%s: same seed gave %+v and %+v", method, a, b)
		}
	}
}

func TestNewSelectorUnknown(t *testing.T) {
	if _, err := NewSelector("youngest", false); simerr.GetCode(err) != simerr.CodeInvalidConfig {
		t.Errorf("err = %v, want invalid config", err)
	}
}
