package population

import (
	"slices"

	"github.com/pthm-cable/digipop/components"
)

// traceQueue is the set of organisms selected for detailed step logging.
// It has no effect on simulation semantics.
type traceQueue struct {
	ids      []uint64 // selection order
	set      map[uint64]struct{}
	nextPrey int // trace the next n prey born
	nextPred int // trace the next n predators born
}

func newTraceQueue() traceQueue {
	return traceQueue{set: make(map[uint64]struct{})}
}

func (q *traceQueue) contains(id uint64) bool {
	_, ok := q.set[id]
	return ok
}

func (q *traceQueue) add(id uint64) {
	if q.contains(id) {
		return
	}
	q.set[id] = struct{}{}
	q.ids = append(q.ids, id)
}

func (q *traceQueue) remove(id uint64) {
	if !q.contains(id) {
		return
	}
	delete(q.set, id)
	q.ids = slices.DeleteFunc(q.ids, func(x uint64) bool { return x == id })
}

func (q *traceQueue) clear() {
	q.ids = q.ids[:0]
	clear(q.set)
}

func (q *traceQueue) onBirth(id uint64, role components.Role) {
	switch {
	case role == components.RolePrey && q.nextPrey > 0:
		q.nextPrey--
		q.add(id)
	case role != components.RolePrey && q.nextPred > 0:
		q.nextPred--
		q.add(id)
	}
}

// TraceQueue returns the traced organism IDs in selection order.
func (e *Engine) TraceQueue() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.traces.ids)
}

// SetTraceQueue replaces the trace queue with the live organisms among ids.
func (e *Engine) SetTraceQueue(ids []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.traces.clear()
	e.appendTraces(ids)
}

// AppendTraces adds the live organisms among ids to the trace queue.
func (e *Engine) AppendTraces(ids ...uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appendTraces(ids)
}

func (e *Engine) appendTraces(ids []uint64) {
	for _, id := range ids {
		if _, ok := e.byID[id]; ok {
			e.traces.add(id)
		}
	}
}

// ClearTraceQueue empties the trace queue and cancels pending next-born
// selections.
func (e *Engine) ClearTraceQueue() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.traces.clear()
	e.traces.nextPrey, e.traces.nextPred = 0, 0
}

// SetRandomTraceQ replaces the trace queue with n organisms chosen
// uniformly from the live population.
func (e *Engine) SetRandomTraceQ(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setRandomTraces(n, func(components.Role) bool { return true })
}

// SetRandomPreyTraceQ is SetRandomTraceQ restricted to prey.
func (e *Engine) SetRandomPreyTraceQ(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setRandomTraces(n, func(r components.Role) bool { return r == components.RolePrey })
}

// SetRandomPredTraceQ is SetRandomTraceQ restricted to predators of any tier.
func (e *Engine) SetRandomPredTraceQ(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setRandomTraces(n, func(r components.Role) bool { return r != components.RolePrey })
}

// SetNextPreyQ traces the next n prey to be born.
func (e *Engine) SetNextPreyQ(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.traces.nextPrey = max(n, 0)
}

// SetNextPredQ traces the next n predators to be born.
func (e *Engine) SetNextPredQ(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.traces.nextPred = max(n, 0)
}

// setRandomTraces samples without replacement among live organisms whose
// role matches, in slot order before shuffling so the draw is reproducible.
func (e *Engine) setRandomTraces(n int, match func(components.Role) bool) {
	e.traces.clear()
	var pool []uint64
	for _, slot := range e.grid.OccupiedSlots() {
		ent, _ := e.grid.Occupant(slot)
		if match(e.traitsMap.Get(ent).Role) {
			pool = append(pool, e.orgMap.Get(ent).ID)
		}
	}
	n = min(n, len(pool))
	// Partial Fisher-Yates
	for i := 0; i < n; i++ {
		j := i + e.traceRng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
		e.traces.add(pool[i])
	}
}

// sampleTraces refreshes the trace queue every trace.sample_interval updates.
func (e *Engine) sampleTraces() {
	tc := e.cfg.Trace
	if !tc.Enabled || tc.SampleInterval <= 0 || e.update%tc.SampleInterval != 0 {
		return
	}
	switch tc.Mode {
	case "prey":
		e.setRandomTraces(tc.SampleSize, func(r components.Role) bool { return r == components.RolePrey })
	case "predator":
		e.setRandomTraces(tc.SampleSize, func(r components.Role) bool { return r != components.RolePrey })
	default:
		e.setRandomTraces(tc.SampleSize, func(components.Role) bool { return true })
	}
}
