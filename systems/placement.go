package systems

import (
	"fmt"
	"math/rand/v2"

	"github.com/pthm-cable/digipop/simerr"
)

// Candidate describes one slot an offspring may be placed into.
type Candidate struct {
	Slot     int
	Occupied bool
	Seq      uint64  // occupation sequence from the reaper queue (occupied only)
	Merit    float64 // occupant merit (occupied only)
}

// Placement is the chosen target. Evict is set when the target is occupied
// and its organism must die before the offspring moves in.
type Placement struct {
	Slot  int
	Evict bool
}

// Selector chooses a birth target among candidates. Returning false means
// no legal target exists; the offspring is discarded.
type Selector interface {
	SelectTarget(cands []Candidate, rng *rand.Rand) (Placement, bool)
}

// NewSelector builds the selector for a birth method, optionally wrapped so
// that empty candidates are always preferred.
func NewSelector(method string, preferEmpty bool) (Selector, error) {
	var sel Selector
	switch method {
	case "oldest":
		sel = OldestSelector{}
	case "lowest_merit":
		sel = LowestMeritSelector{}
	case "random":
		sel = RandomSelector{}
	case "empty_only":
		return EmptyOnly{}, nil
	default:
		return nil, simerr.New(simerr.CodeInvalidConfig, fmt.Sprintf("unknown birth method %q", method))
	}
	if preferEmpty {
		return PreferEmpty{Fallback: sel}, nil
	}
	return sel, nil
}

// PreferEmpty picks uniformly among empty candidates and defers to
// Fallback only when every candidate is occupied.
type PreferEmpty struct {
	Fallback Selector
}

// SelectTarget implements Selector.
func (p PreferEmpty) SelectTarget(cands []Candidate, rng *rand.Rand) (Placement, bool) {
	if slot, ok := randomEmpty(cands, rng); ok {
		return Placement{Slot: slot}, true
	}
	if p.Fallback == nil {
		return Placement{}, false
	}
	return p.Fallback.SelectTarget(cands, rng)
}

// OldestSelector evicts the occupant that has held its slot longest.
type OldestSelector struct{}

// SelectTarget implements Selector.
func (OldestSelector) SelectTarget(cands []Candidate, rng *rand.Rand) (Placement, bool) {
	best := -1
	for i, c := range cands {
		if !c.Occupied {
			continue
		}
		if best < 0 || c.Seq < cands[best].Seq ||
			(c.Seq == cands[best].Seq && c.Slot < cands[best].Slot) {
			best = i
		}
	}
	if best < 0 {
		return emptyFallback(cands, rng)
	}
	return Placement{Slot: cands[best].Slot, Evict: true}, true
}

// LowestMeritSelector evicts the occupant with the lowest merit.
type LowestMeritSelector struct{}

// SelectTarget implements Selector.
func (LowestMeritSelector) SelectTarget(cands []Candidate, rng *rand.Rand) (Placement, bool) {
	best := -1
	for i, c := range cands {
		if !c.Occupied {
			continue
		}
		if best < 0 || c.Merit < cands[best].Merit ||
			(c.Merit == cands[best].Merit && c.Slot < cands[best].Slot) {
			best = i
		}
	}
	if best < 0 {
		return emptyFallback(cands, rng)
	}
	return Placement{Slot: cands[best].Slot, Evict: true}, true
}

// RandomSelector picks uniformly among all candidates, occupied or not.
type RandomSelector struct{}

// SelectTarget implements Selector.
func (RandomSelector) SelectTarget(cands []Candidate, rng *rand.Rand) (Placement, bool) {
	if len(cands) == 0 {
		return Placement{}, false
	}
	c := cands[rng.IntN(len(cands))]
	return Placement{Slot: c.Slot, Evict: c.Occupied}, true
}

// EmptyOnly never evicts. It fails when no candidate is empty.
type EmptyOnly struct{}

// SelectTarget implements Selector.
func (EmptyOnly) SelectTarget(cands []Candidate, rng *rand.Rand) (Placement, bool) {
	slot, ok := randomEmpty(cands, rng)
	if !ok {
		return Placement{}, false
	}
	return Placement{Slot: slot}, true
}

// emptyFallback is used by eviction selectors when nothing is occupied.
func emptyFallback(cands []Candidate, rng *rand.Rand) (Placement, bool) {
	slot, ok := randomEmpty(cands, rng)
	if !ok {
		return Placement{}, false
	}
	return Placement{Slot: slot}, true
}

func randomEmpty(cands []Candidate, rng *rand.Rand) (int, bool) {
	n := 0
	for _, c := range cands {
		if !c.Occupied {
			n++
		}
	}
	if n == 0 {
		return -1, false
	}
	k := rng.IntN(n)
	for _, c := range cands {
		if c.Occupied {
			continue
		}
		if k == 0 {
			return c.Slot, true
		}
		k--
	}
	return -1, false
}
