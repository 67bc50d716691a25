package population

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/simerr"
	"github.com/pthm-cable/digipop/systems"
)

// OrganismRecord is the persisted form of one live organism.
type OrganismRecord struct {
	Slot        int                  `json:"slot"`
	ID          uint64               `json:"id"`
	ParentID    uint64               `json:"parent_id"`
	Generation  int                  `json:"generation"`
	BirthUpdate int                  `json:"birth_update"`
	Seq         uint64               `json:"seq"` // occupation sequence (reaper order)
	Merit       float64              `json:"merit"`
	GroupID     int                  `json:"group_id"`
	Traits      components.Traits    `json:"traits"`
	Genome      components.Genome    `json:"genome"`
	Phenotype   components.Phenotype `json:"phenotype"`
}

// Snapshot is everything needed to rebuild the grid, scheduler, reaper
// queue and groups. Scheduler virtual time is not kept; restored entries
// start level.
type Snapshot struct {
	Update    int              `json:"update"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	NextID    uint64           `json:"next_id"`
	NextSeq   uint64           `json:"next_seq"`
	Groups    []int            `json:"groups"` // every registered group, empty ones included
	Organisms []OrganismRecord `json:"organisms"`
	Traces    []uint64         `json:"traces,omitempty"`
}

// Snapshot captures the live population in slot order.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Update:  e.update,
		Width:   e.grid.Width(),
		Height:  e.grid.Height(),
		NextID:  e.nextID,
		NextSeq: e.seq,
		Groups:  e.groups.AllGroups(),
		Traces:  slices.Clone(e.traces.ids),
	}
	for _, slot := range e.grid.OccupiedSlots() {
		ent, _ := e.grid.Occupant(slot)
		org, merit, traits, member, genome, pheno := e.mapper.Get(ent)
		seq, _ := e.reaper.Seq(slot)
		s.Organisms = append(s.Organisms, OrganismRecord{
			Slot:        slot,
			ID:          org.ID,
			ParentID:    org.ParentID,
			Generation:  org.Generation,
			BirthUpdate: org.BirthUpdate,
			Seq:         seq,
			Merit:       merit.Value,
			GroupID:     member.GroupID,
			Traits:      *traits,
			Genome:      genome.Clone(),
			Phenotype:   *pheno,
		})
	}
	return s
}

// Restore replaces the population with the snapshot's. Every current
// organism is killed first. Organisms are re-placed in their recorded
// occupation order so the reaper queue is reproduced exactly.
func (e *Engine) Restore(s Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validateSnapshot(s); err != nil {
		return err
	}

	e.clear()
	if s.Width != e.grid.Width() || s.Height != e.grid.Height() {
		if err := e.grid.Rebuild(s.Width, s.Height); err != nil {
			return err
		}
		e.resources.Resize(e.grid.Size())
	}
	e.scheduler.Reset(e.grid.Size())
	e.reaper.Reset()
	e.groups.Reset()
	e.traces.clear()
	for _, id := range s.Groups {
		e.groups.EnsureGroup(id)
	}

	records := slices.Clone(s.Organisms)
	slices.SortStableFunc(records, func(a, b OrganismRecord) int { return cmp.Compare(a.Seq, b.Seq) })

	for _, r := range records {
		org := components.Organism{
			ID:          r.ID,
			Slot:        -1,
			BirthUpdate: r.BirthUpdate,
			ParentID:    r.ParentID,
			Generation:  r.Generation,
		}
		merit := components.Merit{Value: r.Merit}
		traits := r.Traits
		member := components.Membership{GroupID: components.NoGroup}
		genome := r.Genome.Clone()
		pheno := r.Phenotype
		ent := e.mapper.NewEntity(&org, &merit, &traits, &member, &genome, &pheno)
		e.byID[r.ID] = ent

		if r.GroupID != components.NoGroup {
			e.groups.EnsureGroup(r.GroupID)
			if err := e.groups.JoinGroup(r.GroupID, e.member(ent)); err != nil {
				return err
			}
			e.memberMap.Get(ent).GroupID = r.GroupID
		}
		if err := e.activateSeq(ent, r.Slot, r.Seq); err != nil {
			return err
		}
		// activateSeq stamps the current update; keep the recorded birth.
		e.orgMap.Get(ent).BirthUpdate = r.BirthUpdate
	}

	e.update = s.Update
	e.nextID = s.NextID
	e.seq = s.NextSeq
	e.appendTraces(s.Traces)
	return nil
}

func (e *Engine) validateSnapshot(s Snapshot) error {
	if err := systems.ValidateDimensions(s.Width, s.Height); err != nil {
		return err
	}
	size := s.Width * s.Height
	seen := make(map[int]bool, len(s.Organisms))
	ids := make(map[uint64]bool, len(s.Organisms))
	for _, r := range s.Organisms {
		if r.Slot < 0 || r.Slot >= size {
			return simerr.New(simerr.CodePrecondition, fmt.Sprintf("snapshot: organism %d slot %d out of range", r.ID, r.Slot))
		}
		if seen[r.Slot] {
			return simerr.New(simerr.CodePrecondition, fmt.Sprintf("snapshot: slot %d used twice", r.Slot))
		}
		if ids[r.ID] || r.ID >= s.NextID {
			return simerr.New(simerr.CodePrecondition, fmt.Sprintf("snapshot: organism id %d duplicated or beyond next id", r.ID))
		}
		if r.Merit <= 0 {
			return simerr.New(simerr.CodePrecondition, fmt.Sprintf("snapshot: organism %d merit %v must be positive", r.ID, r.Merit))
		}
		if r.Seq >= s.NextSeq {
			return simerr.New(simerr.CodePrecondition, fmt.Sprintf("snapshot: organism %d sequence beyond next sequence", r.ID))
		}
		seen[r.Slot] = true
		ids[r.ID] = true
	}
	return nil
}
