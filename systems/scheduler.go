package systems

import (
	"container/heap"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/pthm-cable/digipop/simerr"
)

// Grant is one scheduling decision: the slot to run and its cycle budget.
type Grant struct {
	Slot   int
	Cycles int
}

// Scheduler decides which occupied slot executes next. Long-run execution
// share of each slot converges to weight / total weight; entries with
// weight <= 0 are tracked but never granted time.
type Scheduler interface {
	// Insert registers slot with the given weight.
	Insert(slot int, weight float64)
	// Remove unregisters slot. Removing an absent slot is a no-op.
	Remove(slot int)
	// AdjustWeight changes the weight of a registered slot. The change
	// applies from the next decision.
	AdjustWeight(slot int, weight float64)
	// Next returns the next grant, or a simerr.CodeIdle error when no slot
	// has positive weight.
	Next() (Grant, error)
	// Weight returns the registered weight of slot, 0 when absent.
	Weight(slot int) float64
	// Registered reports whether slot is registered at any weight.
	Registered(slot int) bool
	// Active returns the number of slots with positive weight.
	Active() int
	// Reset drops all entries and resizes to size slots.
	Reset(size int)
}

// NewScheduler builds the scheduler named by method.
func NewScheduler(method string, size, quantum int, rng *rand.Rand) (Scheduler, error) {
	switch method {
	case "integrated":
		return NewIntegratedScheduler(size, quantum), nil
	case "probabilistic":
		return NewProbabilisticScheduler(size, quantum, rng), nil
	}
	return nil, simerr.New(simerr.CodeInvalidConfig, fmt.Sprintf("unknown scheduler method %q", method))
}

var errIdle = simerr.New(simerr.CodeIdle, "no slot with positive weight")

// strideEntry is one slot in the integrated scheduler.
type strideEntry struct {
	slot       int
	weight     float64
	pass       float64
	heapIndex  int // -1 when not schedulable
	registered bool
}

// strideHeap orders entries by pass, ties broken by slot index.
type strideHeap []*strideEntry

func (h strideHeap) Len() int { return len(h) }
func (h strideHeap) Less(i, j int) bool {
	if h[i].pass != h[j].pass {
		return h[i].pass < h[j].pass
	}
	return h[i].slot < h[j].slot
}
func (h strideHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *strideHeap) Push(x any) {
	e := x.(*strideEntry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *strideHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

// rebaseThreshold bounds virtual time so passes keep full float precision
// over arbitrarily long runs.
const rebaseThreshold = 1 << 40

// IntegratedScheduler is a deterministic stride scheduler. Each entry
// advances its virtual pass by quantum/weight per grant and the entry with
// the smallest pass runs next. No randomness is involved, so replay under a
// fixed seed is exact.
type IntegratedScheduler struct {
	entries []strideEntry
	heap    strideHeap
	quantum int
	vtime   float64
}

// NewIntegratedScheduler creates a stride scheduler for size slots.
func NewIntegratedScheduler(size, quantum int) *IntegratedScheduler {
	s := &IntegratedScheduler{quantum: max(quantum, 1)}
	s.Reset(size)
	return s
}

// Reset drops all entries and resizes to size slots.
func (s *IntegratedScheduler) Reset(size int) {
	s.entries = make([]strideEntry, size)
	for i := range s.entries {
		s.entries[i] = strideEntry{slot: i, heapIndex: -1}
	}
	s.heap = s.heap[:0]
	s.vtime = 0
}

func (s *IntegratedScheduler) stride(weight float64) float64 {
	return float64(s.quantum) / weight
}

// Insert registers slot with the given weight. A new entry waits one full
// stride from the current virtual time, so newcomers cannot jump ahead of
// entries that are already due.
func (s *IntegratedScheduler) Insert(slot int, weight float64) {
	e := &s.entries[slot]
	if e.registered {
		s.AdjustWeight(slot, weight)
		return
	}
	e.registered = true
	e.weight = weight
	if weight > 0 {
		e.pass = s.vtime + s.stride(weight)
		heap.Push(&s.heap, e)
	}
}

// Remove unregisters slot.
func (s *IntegratedScheduler) Remove(slot int) {
	e := &s.entries[slot]
	if !e.registered {
		return
	}
	if e.heapIndex >= 0 {
		heap.Remove(&s.heap, e.heapIndex)
	}
	*e = strideEntry{slot: slot, heapIndex: -1}
}

// AdjustWeight rescales the entry's remaining stride to the new weight.
func (s *IntegratedScheduler) AdjustWeight(slot int, weight float64) {
	e := &s.entries[slot]
	if !e.registered {
		s.Insert(slot, weight)
		return
	}
	old := e.weight
	e.weight = weight

	switch {
	case weight <= 0:
		if e.heapIndex >= 0 {
			heap.Remove(&s.heap, e.heapIndex)
		}
	case e.heapIndex < 0:
		e.pass = s.vtime + s.stride(weight)
		heap.Push(&s.heap, e)
	default:
		remaining := e.pass - s.vtime
		if remaining < 0 {
			remaining = 0
		}
		e.pass = s.vtime + remaining*old/weight
		heap.Fix(&s.heap, e.heapIndex)
	}
}

// Next grants the entry with the smallest pass.
func (s *IntegratedScheduler) Next() (Grant, error) {
	if len(s.heap) == 0 {
		return Grant{}, errIdle
	}
	e := s.heap[0]
	s.vtime = e.pass
	e.pass += s.stride(e.weight)
	heap.Fix(&s.heap, 0)

	if s.vtime > rebaseThreshold {
		s.rebase()
	}
	return Grant{Slot: e.slot, Cycles: s.quantum}, nil
}

// rebase shifts every pass down by the current virtual time. Ordering is
// preserved because all passes move by the same amount.
func (s *IntegratedScheduler) rebase() {
	base := s.vtime
	for _, e := range s.heap {
		e.pass -= base
	}
	s.vtime = 0
}

// Weight returns the registered weight of slot.
func (s *IntegratedScheduler) Weight(slot int) float64 {
	return s.entries[slot].weight
}

// Registered reports whether slot is registered.
func (s *IntegratedScheduler) Registered(slot int) bool {
	return s.entries[slot].registered
}

// Active returns the number of schedulable entries.
func (s *IntegratedScheduler) Active() int { return len(s.heap) }

// ProbabilisticScheduler draws each grant at random with probability
// proportional to weight. Share converges in expectation rather than per
// cycle. Draws come from the engine's seeded source, so runs still replay.
type ProbabilisticScheduler struct {
	weights    []float64
	registered []bool
	sampler    sampleuv.Weighted
	rng        *rand.Rand
	quantum    int
	active     int
}

// NewProbabilisticScheduler creates a weighted-draw scheduler for size slots.
func NewProbabilisticScheduler(size, quantum int, rng *rand.Rand) *ProbabilisticScheduler {
	s := &ProbabilisticScheduler{rng: rng, quantum: max(quantum, 1)}
	s.Reset(size)
	return s
}

// Reset drops all entries and resizes to size slots.
func (s *ProbabilisticScheduler) Reset(size int) {
	s.weights = make([]float64, size)
	s.registered = make([]bool, size)
	s.sampler = sampleuv.NewWeighted(make([]float64, size), s.rng)
	s.active = 0
}

func (s *ProbabilisticScheduler) set(slot int, weight float64) {
	wasActive := s.weights[slot] > 0
	if weight < 0 {
		weight = 0
	}
	s.weights[slot] = weight
	s.sampler.Reweight(slot, weight)
	switch isActive := weight > 0; {
	case isActive && !wasActive:
		s.active++
	case !isActive && wasActive:
		s.active--
	}
}

// Insert registers slot with the given weight.
func (s *ProbabilisticScheduler) Insert(slot int, weight float64) {
	s.registered[slot] = true
	s.set(slot, weight)
}

// Remove unregisters slot.
func (s *ProbabilisticScheduler) Remove(slot int) {
	if !s.registered[slot] {
		return
	}
	s.registered[slot] = false
	s.set(slot, 0)
}

// AdjustWeight changes the weight of slot.
func (s *ProbabilisticScheduler) AdjustWeight(slot int, weight float64) {
	s.registered[slot] = true
	s.set(slot, weight)
}

// Next draws a slot proportionally to weight.
func (s *ProbabilisticScheduler) Next() (Grant, error) {
	if s.active == 0 {
		return Grant{}, errIdle
	}
	idx, ok := s.sampler.Take()
	if ok && s.weights[idx] <= 0 {
		// Accumulated rounding in the sampler's partial sums; rebuild and redraw.
		s.sampler.ReweightAll(s.weights)
		idx, ok = s.sampler.Take()
	}
	if !ok {
		return Grant{}, errIdle
	}
	// Take zeroes the drawn weight; put it back so draws are with replacement.
	s.sampler.Reweight(idx, s.weights[idx])
	return Grant{Slot: idx, Cycles: s.quantum}, nil
}

// Weight returns the registered weight of slot.
func (s *ProbabilisticScheduler) Weight(slot int) float64 {
	return s.weights[slot]
}

// Registered reports whether slot is registered.
func (s *ProbabilisticScheduler) Registered(slot int) bool {
	return s.registered[slot]
}

// Active returns the number of slots with positive weight.
func (s *ProbabilisticScheduler) Active() int { return s.active }
