package population

import (
	"fmt"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/simerr"
	"github.com/pthm-cable/digipop/systems"
)

// InjectOptions controls where and how an injected organism enters the grid.
type InjectOptions struct {
	Slot        int      // target slot; -1 lets the engine pick an empty slot
	Evict       bool     // replace the occupant of Slot, or the oldest organism when the grid is full
	Merit       *float64 // nil uses population.initial_merit; must be positive
	GroupID     int      // components.NoGroup for none; the group is registered if missing
	Role        components.Role
	MatingType  components.MatingType
	Intolerance components.Intolerance
}

// DefaultInjectOptions returns options for a groupless prey organism in an
// engine-chosen slot.
func DefaultInjectOptions() InjectOptions {
	return InjectOptions{Slot: -1, GroupID: components.NoGroup}
}

// Inject creates an organism from genome and activates it. It fails with a
// precondition error when the target slot is occupied (or the grid is
// full) and eviction was not requested, or when the merit is not positive.
func (e *Engine) Inject(genome components.Genome, opts InjectOptions) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inject(genome, opts)
}

// InjectGroup injects an organism straight into group id, bypassing the
// admission draw.
func (e *Engine) InjectGroup(genome components.Genome, groupID int, opts InjectOptions) (uint64, error) {
	opts.GroupID = groupID
	return e.Inject(genome, opts)
}

func (e *Engine) inject(genome components.Genome, opts InjectOptions) (uint64, error) {
	merit := e.cfg.Population.InitialMerit
	if opts.Merit != nil {
		merit = *opts.Merit
	}
	if merit <= 0 {
		return 0, simerr.WithMetadata(simerr.CodePrecondition,
			fmt.Sprintf("inject: merit %v must be positive", merit),
			map[string]string{"merit": fmt.Sprint(merit)})
	}

	slot := opts.Slot
	switch {
	case slot >= 0:
		if !e.grid.Valid(slot) {
			return 0, invariantError("inject target out of range", slot)
		}
		if e.grid.IsOccupied(slot) {
			if !opts.Evict {
				return 0, invariantError("inject target occupied", slot)
			}
			e.kill(slot, CauseEvicted)
		}
	default:
		free, ok := e.grid.RandomEmpty(e.rng)
		if !ok {
			oldest, queued := e.reaper.Oldest()
			if !opts.Evict || !queued {
				return 0, simerr.New(simerr.CodePrecondition, "inject: grid full")
			}
			e.kill(oldest, CauseEvicted)
			free = oldest
		}
		slot = free
	}

	traits := components.Traits{Role: opts.Role, MatingType: opts.MatingType, Intolerance: opts.Intolerance}
	ent := e.newOrganism(genome.Clone(), merit, traits, 0, 0)

	if opts.GroupID != components.NoGroup {
		e.groups.EnsureGroup(opts.GroupID)
		if err := e.groups.JoinGroup(opts.GroupID, e.member(ent)); err != nil {
			e.discard(ent)
			return 0, err
		}
		e.memberMap.Get(ent).GroupID = opts.GroupID
	}
	if err := e.activate(ent, slot); err != nil {
		e.discard(ent)
		return 0, err
	}
	e.report.Injections++
	return e.orgMap.Get(ent).ID, nil
}

// ActivateOffspring places an offspring of the organism in parentSlot. It
// runs the placement policy, then group inheritance, then registers the
// newborn with the scheduler. It returns false, with no side effects
// beyond the failure counter, when no legal target exists.
func (e *Engine) ActivateOffspring(parentSlot int, genome components.Genome) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activateOffspring(parentSlot, genome)
}

// Divide is the CPU-facing name for ActivateOffspring.
func (e *Engine) Divide(parentSlot int, genome components.Genome) bool {
	return e.ActivateOffspring(parentSlot, genome)
}

func (e *Engine) activateOffspring(parentSlot int, genome components.Genome) bool {
	e.perf.StartPhase(systems.PhasePlacement)
	defer e.perf.StartPhase(systems.PhaseApply)

	parent, ok := e.grid.Occupant(parentSlot)
	if !ok {
		return false
	}
	// Offspring inherit merit; a newborn that could never be scheduled is
	// not placed.
	if e.meritMap.Get(parent).Value <= 0 {
		e.report.PlacementFailures++
		return false
	}
	target, ok := e.selectTarget(parentSlot)
	if !ok {
		e.report.PlacementFailures++
		return false
	}

	// Read everything needed from the parent before any structural change;
	// component pointers do not survive entity creation or removal.
	pOrg, pMerit, pTraits, pMember, _, pPheno := e.mapper.Get(parent)
	parentID, generation, merit := pOrg.ID, pOrg.Generation+1, pMerit.Value
	traits := offspringTraits(*pTraits)
	inGroup := pMember.InGroup()
	pPheno.Offspring++

	child := e.newOrganism(genome.Clone(), merit, traits, parentID, generation)

	if e.cfg.Groups.Enabled && e.cfg.Groups.InheritGroup && inGroup {
		if e.groups.AttemptOffspringParentGroup(parent, e.member(child), e.rng) {
			gid, _ := e.groups.GroupOf(child)
			e.memberMap.Get(child).GroupID = gid
			e.report.RetentionAccepted++
		} else {
			e.report.RetentionRejected++
		}
	}

	if target.Evict {
		e.kill(target.Slot, CauseEvicted)
		e.report.Evictions++
	}
	if err := e.activate(child, target.Slot); err != nil {
		// The target was chosen empty or just vacated.
		panic(fmt.Sprintf("population: offspring placement: %v", err))
	}
	e.report.Births++
	return true
}

// offspringTraits derives a newborn's traits from its parent's. Sexed
// parents produce juveniles.
func offspringTraits(parent components.Traits) components.Traits {
	t := parent
	if parent.MatingType != components.MatingUndefined {
		t.MatingType = components.MatingJuvenile
	}
	return t
}

// selectTarget builds the candidate set for a birth and runs the selector.
func (e *Engine) selectTarget(parentSlot int) (systems.Placement, bool) {
	// With global scope, preferring empty slots only needs the grid's
	// empty index, not a full candidate scan.
	if e.globalBirth && (e.cfg.Birth.PreferEmpty || e.cfg.Birth.Method == "empty_only") {
		if slot, ok := e.grid.RandomEmpty(e.rng); ok {
			return systems.Placement{Slot: slot}, true
		}
		if e.cfg.Birth.Method == "empty_only" {
			return systems.Placement{}, false
		}
	}

	e.slotBuf = e.grid.CandidateSlots(e.slotBuf[:0], parentSlot, e.globalBirth, e.cfg.Birth.ParentSurvives)
	cands := e.candBuf[:0]
	for _, slot := range e.slotBuf {
		c := systems.Candidate{Slot: slot}
		if occ, ok := e.grid.Occupant(slot); ok {
			c.Occupied = true
			c.Seq, _ = e.reaper.Seq(slot)
			c.Merit = e.meritMap.Get(occ).Value
		}
		cands = append(cands, c)
	}
	e.candBuf = cands
	return e.selector.SelectTarget(cands, e.rng)
}

// KillOrganism kills the organism in slot. Killing an empty slot is a no-op.
func (e *Engine) KillOrganism(slot int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kill(slot, CauseKilled)
}

// KillOrganismChecked is KillOrganism that reports an empty or invalid
// slot as a precondition error.
func (e *Engine) KillOrganismChecked(slot int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.grid.IsOccupied(slot) {
		return invariantError("kill: slot empty", slot)
	}
	e.kill(slot, CauseKilled)
	return nil
}

// newOrganism creates an unplaced organism entity.
func (e *Engine) newOrganism(genome components.Genome, merit float64, traits components.Traits, parentID uint64, generation int) ecs.Entity {
	org := components.Organism{
		ID:         e.nextID,
		Slot:       -1,
		ParentID:   parentID,
		Generation: generation,
	}
	e.nextID++
	m := components.Merit{Value: merit}
	member := components.Membership{GroupID: components.NoGroup}
	pheno := components.Phenotype{}
	ent := e.mapper.NewEntity(&org, &m, &traits, &member, &genome, &pheno)
	e.byID[org.ID] = ent
	return ent
}

// discard removes an organism that was never placed.
func (e *Engine) discard(ent ecs.Entity) {
	e.groups.LeaveGroup(ent)
	delete(e.byID, e.orgMap.Get(ent).ID)
	e.world.RemoveEntity(ent)
}

func (e *Engine) member(ent ecs.Entity) systems.Member {
	traits := e.traitsMap.Get(ent)
	return systems.Member{Entity: ent, MatingType: traits.MatingType, Intolerance: traits.Intolerance}
}

// activate places an organism into an empty slot and registers it with the
// reaper queue and scheduler.
func (e *Engine) activate(ent ecs.Entity, slot int) error {
	return e.activateSeq(ent, slot, e.nextSeq())
}

func (e *Engine) nextSeq() uint64 {
	s := e.seq
	e.seq++
	return s
}

func (e *Engine) activateSeq(ent ecs.Entity, slot int, seq uint64) error {
	if m := e.meritMap.Get(ent).Value; m <= 0 {
		return invariantError(fmt.Sprintf("activate: merit %v must be positive", m), slot)
	}
	if err := e.grid.Place(slot, ent); err != nil {
		return err
	}
	org, merit, traits, _, _, _ := e.mapper.Get(ent)
	org.Slot = slot
	org.BirthUpdate = e.update
	e.reaper.Push(slot, seq)
	e.scheduler.Insert(slot, merit.Value)
	e.counts.add(traits.Role, 1)
	e.traces.onBirth(org.ID, traits.Role)
	e.observer.OnBirth(e.view(ent))
	return nil
}

// kill runs the death path for the occupant of slot. It reports whether an
// organism was killed.
func (e *Engine) kill(slot int, cause DeathCause) bool {
	ent, ok := e.grid.Occupant(slot)
	if !ok {
		return false
	}
	v := e.view(ent)

	e.scheduler.Remove(slot)
	e.grid.Vacate(slot)
	e.reaper.Remove(slot)
	e.groups.LeaveGroup(ent)
	e.counts.add(v.Traits.Role, -1)
	e.traces.remove(v.ID)
	delete(e.byID, v.ID)

	e.observer.OnDeath(v, cause)
	e.world.RemoveEntity(ent)
	e.report.Deaths++
	return true
}

// UpdateMerit sets the merit of the organism in slot and reweights it. An
// organism whose merit drops to zero or below can never be scheduled
// again and is killed.
func (e *Engine) UpdateMerit(slot int, merit float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updateMerit(slot, merit)
}

func (e *Engine) updateMerit(slot int, merit float64) bool {
	ent, ok := e.grid.Occupant(slot)
	if !ok {
		return false
	}
	if merit <= 0 {
		return e.kill(slot, CauseMerit)
	}
	e.meritMap.Get(ent).Value = merit
	e.scheduler.AdjustWeight(slot, merit)
	return true
}

// SetRole reclassifies the organism in slot and moves it between role
// counters.
func (e *Engine) SetRole(slot int, role components.Role) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setRole(slot, role)
}

func (e *Engine) setRole(slot int, role components.Role) bool {
	ent, ok := e.grid.Occupant(slot)
	if !ok {
		return false
	}
	traits := e.traitsMap.Get(ent)
	if traits.Role == role {
		return true
	}
	e.counts.add(traits.Role, -1)
	e.counts.add(role, 1)
	traits.Role = role
	e.report.RoleChanges++
	return true
}
