package population

import (
	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/systems"
)

// GroupReader is the read side of the group registry.
type GroupReader interface {
	NumberOfOrganismsInGroup(id int) int
	NumberGroupFemales(id int) int
	NumberGroupMales(id int) int
	NumberGroupJuvs(id int) int
	GetFormedGroups() []int
	CalcGroupOddsImmigrants(id int, mt components.MatingType) float64
	CalcGroupAveImmigrants(id int, mt components.MatingType) float64
	CalcGroupSDevImmigrants(id int, mt components.MatingType) float64
	CalcGroupAveOwn(id int) float64
	CalcGroupSDevOwn(id int) float64
	CalcGroupAveOthers(id int) float64
	CalcGroupSDevOthers(id int) float64
}

// Groups returns read access to the group registry. It is not synchronized
// with a running update; other goroutines should use GroupSnapshot.
func (e *Engine) Groups() GroupReader { return e.groups }

// GroupSnapshot summarises every registered group.
func (e *Engine) GroupSnapshot() []systems.GroupInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.groups.Snapshot()
}

// MakeGroup registers a new empty group.
func (e *Engine) MakeGroup() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.groups.MakeGroup()
}

// DeleteGroup unregisters an empty group.
func (e *Engine) DeleteGroup(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.groups.DeleteGroup(id)
}

// CalcGroupOddsOffspring returns the retention odds for a newborn of the
// organism in parentSlot.
func (e *Engine) CalcGroupOddsOffspring(parentSlot int) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.grid.Occupant(parentSlot)
	if !ok {
		return 0
	}
	return e.groups.CalcGroupOddsOffspring(ent)
}

// JoinGroup moves the organism in slot into group id without an admission
// draw, leaving its current group first.
func (e *Engine) JoinGroup(slot, id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.grid.Occupant(slot)
	if !ok {
		return invariantError("join: slot empty", slot)
	}
	if !e.groups.HasGroup(id) {
		e.groups.EnsureGroup(id)
	}
	e.groups.LeaveGroup(ent)
	if err := e.groups.JoinGroup(id, e.member(ent)); err != nil {
		e.memberMap.Get(ent).GroupID = components.NoGroup
		return err
	}
	e.memberMap.Get(ent).GroupID = id
	return nil
}

// LeaveGroup removes the organism in slot from its group. The group stays
// registered even when emptied.
func (e *Engine) LeaveGroup(slot int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.grid.Occupant(slot)
	if !ok {
		return false
	}
	if _, left := e.groups.LeaveGroup(ent); !left {
		return false
	}
	e.memberMap.Get(ent).GroupID = components.NoGroup
	return true
}

// AttemptImmigrateGroup lets the organism in slot try to join group id.
// On rejection it keeps its current membership.
func (e *Engine) AttemptImmigrateGroup(slot, id int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.immigrate(slot, id)
}

func (e *Engine) immigrate(slot, id int) (bool, error) {
	ent, ok := e.grid.Occupant(slot)
	if !ok {
		return false, invariantError("immigrate: slot empty", slot)
	}
	accepted, err := e.groups.AttemptImmigrateGroup(id, e.member(ent), e.rng)
	if err != nil {
		return false, err
	}
	if accepted {
		e.memberMap.Get(ent).GroupID = id
		e.report.ImmigrationAccepted++
	} else {
		e.report.ImmigrationRejected++
	}
	return accepted, nil
}

// foundGroup moves the organism in slot into a fresh group of its own.
// A founder faces no admission draw.
func (e *Engine) foundGroup(slot int) (int, bool) {
	ent, ok := e.grid.Occupant(slot)
	if !ok {
		return components.NoGroup, false
	}
	id := e.groups.MakeGroup()
	e.groups.LeaveGroup(ent)
	if err := e.groups.JoinGroup(id, e.member(ent)); err != nil {
		return components.NoGroup, false
	}
	e.memberMap.Get(ent).GroupID = id
	return id, true
}

// AttemptOffspringParentGroup lets the organism in offspringSlot try to
// join the group of the organism in parentSlot using the retention odds.
func (e *Engine) AttemptOffspringParentGroup(parentSlot, offspringSlot int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	parent, ok := e.grid.Occupant(parentSlot)
	if !ok {
		return false
	}
	child, ok := e.grid.Occupant(offspringSlot)
	if !ok || parent == child {
		return false
	}
	if _, in := e.groups.GroupOf(child); in {
		return false
	}
	if !e.groups.AttemptOffspringParentGroup(parent, e.member(child), e.rng) {
		e.report.RetentionRejected++
		return false
	}
	gid, _ := e.groups.GroupOf(child)
	e.memberMap.Get(child).GroupID = gid
	e.report.RetentionAccepted++
	return true
}

// KillGroupMember kills a uniformly chosen member of group id other than
// the organism with excludingID. It is a no-op when the group has at most
// one member.
func (e *Engine) KillGroupMember(id int, excludingID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	excluding := e.byID[excludingID]
	victim, ok := e.groups.PickMember(id, excluding, e.rng)
	if !ok {
		return false
	}
	return e.kill(e.orgMap.Get(victim).Slot, CauseKilled)
}

// ChangeGroupMatingType sets the mating type of the organism in slot and
// moves it between its group's sub-counts.
func (e *Engine) ChangeGroupMatingType(slot int, mt components.MatingType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changeMatingType(slot, mt)
}

func (e *Engine) changeMatingType(slot int, mt components.MatingType) bool {
	if mt >= components.NumMatingTypes {
		return false
	}
	ent, ok := e.grid.Occupant(slot)
	if !ok {
		return false
	}
	e.traitsMap.Get(ent).MatingType = mt
	e.groups.ChangeMatingType(ent, mt)
	return true
}

// SetIntolerance replaces the intolerance samples of the organism in slot.
func (e *Engine) SetIntolerance(slot int, tol components.Intolerance) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setIntolerance(slot, tol)
}

func (e *Engine) setIntolerance(slot int, tol components.Intolerance) bool {
	ent, ok := e.grid.Occupant(slot)
	if !ok {
		return false
	}
	e.traitsMap.Get(ent).Intolerance = tol
	e.groups.UpdateIntolerance(ent, tol)
	return true
}
