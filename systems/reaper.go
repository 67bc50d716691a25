package systems

import "container/list"

type reaperEntry struct {
	slot int
	seq  uint64
}

// ReaperQueue records slot occupation order. Slots are pushed when they
// become occupied and removed, in any order, when they are vacated. The
// front of the queue is always the longest-occupied slot.
type ReaperQueue struct {
	order *list.List
	index map[int]*list.Element
}

// NewReaperQueue creates an empty reaper queue.
func NewReaperQueue() *ReaperQueue {
	return &ReaperQueue{
		order: list.New(),
		index: make(map[int]*list.Element),
	}
}

// Push appends slot with its occupation sequence number. Sequence numbers
// must be non-decreasing across pushes. A slot already queued is moved to
// the back with the new sequence.
func (q *ReaperQueue) Push(slot int, seq uint64) {
	if el, ok := q.index[slot]; ok {
		q.order.Remove(el)
	}
	q.index[slot] = q.order.PushBack(reaperEntry{slot: slot, seq: seq})
}

// Remove drops slot from the queue. Returns false if it was not queued.
func (q *ReaperQueue) Remove(slot int) bool {
	el, ok := q.index[slot]
	if !ok {
		return false
	}
	q.order.Remove(el)
	delete(q.index, slot)
	return true
}

// Oldest returns the longest-occupied slot.
func (q *ReaperQueue) Oldest() (int, bool) {
	front := q.order.Front()
	if front == nil {
		return -1, false
	}
	return front.Value.(reaperEntry).slot, true
}

// Seq returns the occupation sequence recorded for slot.
func (q *ReaperQueue) Seq(slot int) (uint64, bool) {
	el, ok := q.index[slot]
	if !ok {
		return 0, false
	}
	return el.Value.(reaperEntry).seq, true
}

// Contains reports whether slot is queued.
func (q *ReaperQueue) Contains(slot int) bool {
	_, ok := q.index[slot]
	return ok
}

// Len returns the number of queued slots.
func (q *ReaperQueue) Len() int { return q.order.Len() }

// Slots returns the queued slots oldest first.
func (q *ReaperQueue) Slots() []int {
	out := make([]int, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(reaperEntry).slot)
	}
	return out
}

// Swap exchanges the queue positions of two slots so that the entry
// follows the organism when organisms trade places. Either slot may be
// absent, in which case the other is relabelled.
func (q *ReaperQueue) Swap(a, b int) {
	ea, okA := q.index[a]
	eb, okB := q.index[b]
	delete(q.index, a)
	delete(q.index, b)
	if okA {
		entry := ea.Value.(reaperEntry)
		entry.slot = b
		ea.Value = entry
		q.index[b] = ea
	}
	if okB {
		entry := eb.Value.(reaperEntry)
		entry.slot = a
		eb.Value = entry
		q.index[a] = eb
	}
}

// Reset empties the queue.
func (q *ReaperQueue) Reset() {
	q.order.Init()
	q.index = make(map[int]*list.Element)
}
