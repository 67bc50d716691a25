package population

import (
	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/systems"
)

// SwapCells exchanges the contents of two slots. Either may be empty. The
// reaper entries travel with the organisms; scheduler entries are
// re-registered at their merits.
func (e *Engine) SwapCells(a, b int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.swapCells(a, b)
}

func (e *Engine) swapCells(a, b int) bool {
	if !e.grid.Valid(a) || !e.grid.Valid(b) {
		return false
	}
	if a == b {
		return true
	}
	wa, ra := e.scheduler.Weight(a), e.scheduler.Registered(a)
	wb, rb := e.scheduler.Weight(b), e.scheduler.Registered(b)
	e.scheduler.Remove(a)
	e.scheduler.Remove(b)

	e.grid.Swap(a, b)
	e.reaper.Swap(a, b)

	if ra {
		e.scheduler.Insert(b, wa)
	}
	if rb {
		e.scheduler.Insert(a, wb)
	}
	if ent, ok := e.grid.Occupant(a); ok {
		e.orgMap.Get(ent).Slot = a
	}
	if ent, ok := e.grid.Occupant(b); ok {
		e.orgMap.Get(ent).Slot = b
	}
	return true
}

// MoveOrganism moves the organism in src into the empty slot dst.
func (e *Engine) MoveOrganism(src, dst int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.grid.IsOccupied(src) || !e.grid.Valid(dst) || e.grid.IsOccupied(dst) {
		return false
	}
	return e.swapCells(src, dst)
}

// MixPopulation randomly permutes organisms across all slots.
func (e *Engine) MixPopulation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := e.grid.Size() - 1; i > 0; i-- {
		j := e.rng.IntN(i + 1)
		if e.grid.IsOccupied(i) || e.grid.IsOccupied(j) {
			e.swapCells(i, j)
		}
	}
}

// Kaboom kills every organism within distance of slot, slot included.
// It returns the number killed.
func (e *Engine) Kaboom(slot, distance int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.grid.Valid(slot) {
		return 0
	}
	killed := 0
	for _, s := range e.grid.OccupiedSlots() {
		if e.grid.Distance(slot, s) <= distance && e.kill(s, CauseKilled) {
			killed++
		}
	}
	return killed
}

// SerialTransfer keeps a uniformly random subset of size organisms and
// kills the rest. It returns the number killed.
func (e *Engine) SerialTransfer(size int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	slots := e.grid.OccupiedSlots()
	if len(slots) <= size {
		return 0
	}
	e.rng.Shuffle(len(slots), func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })
	killed := 0
	for _, s := range slots[max(size, 0):] {
		if e.kill(s, CauseKilled) {
			killed++
		}
	}
	return killed
}

// KillRandPrey kills a uniformly chosen prey organism.
func (e *Engine) KillRandPrey() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.killRandom(func(r components.Role) bool { return r == components.RolePrey })
}

// KillRandPred kills a uniformly chosen predator of any tier.
func (e *Engine) KillRandPred() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.killRandom(func(r components.Role) bool { return r != components.RolePrey })
}

func (e *Engine) killRandom(match func(components.Role) bool) bool {
	var slots []int
	for _, s := range e.grid.OccupiedSlots() {
		ent, _ := e.grid.Occupant(s)
		if match(e.traitsMap.Get(ent).Role) {
			slots = append(slots, s)
		}
	}
	if len(slots) == 0 {
		return false
	}
	return e.kill(slots[e.rng.IntN(len(slots))], CauseKilled)
}

// RemovePredators kills every predator and top predator. It returns the
// number killed.
func (e *Engine) RemovePredators() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	killed := 0
	for _, s := range e.grid.OccupiedSlots() {
		ent, _ := e.grid.Occupant(s)
		if e.traitsMap.Get(ent).Role != components.RolePrey && e.kill(s, CauseKilled) {
			killed++
		}
	}
	return killed
}

// ResizeGrid kills every organism and rebuilds the grid, scheduler, reaper
// queue and resource pool at the new dimensions. Groups stay registered.
// Invalid dimensions leave the population untouched.
func (e *Engine) ResizeGrid(width, height int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := systems.ValidateDimensions(width, height); err != nil {
		return err
	}
	e.clear()
	if err := e.grid.Rebuild(width, height); err != nil {
		return err
	}
	e.scheduler.Reset(e.grid.Size())
	e.reaper.Reset()
	e.resources.Resize(e.grid.Size())
	return nil
}

// clear kills every organism.
func (e *Engine) clear() {
	for _, s := range e.grid.OccupiedSlots() {
		e.kill(s, CauseReset)
	}
}
