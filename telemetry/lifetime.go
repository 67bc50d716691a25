package telemetry

import (
	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/population"
)

// LifetimeStats tracks per-organism statistics over its lifetime.
type LifetimeStats struct {
	BirthUpdate int
	ParentID    uint64
	LineageID   uint64 // id of the founder the organism descends from
	Generation  int
	Role        components.Role

	Children  int
	Cycles    int64
	PeakMerit float64
}

// LifetimeTracker manages per-organism lifetime statistics. It observes
// births and deaths from the engine and samples live organisms as a stat
// provider.
type LifetimeTracker struct {
	stats     map[uint64]*LifetimeStats
	update    int
	collector *Collector
	hall      *HallOfFame
}

var (
	_ population.Observer     = (*LifetimeTracker)(nil)
	_ population.StatProvider = (*LifetimeTracker)(nil)
)

// NewLifetimeTracker creates a new lifetime tracker. Deaths are reported to
// collector and offered to hall; either may be nil.
func NewLifetimeTracker(collector *Collector, hall *HallOfFame) *LifetimeTracker {
	return &LifetimeTracker{
		stats:     make(map[uint64]*LifetimeStats),
		collector: collector,
		hall:      hall,
	}
}

// OnBirth registers a newly placed organism. Offspring inherit their
// parent's lineage; organisms without a tracked parent found their own.
func (lt *LifetimeTracker) OnBirth(org components.OrganismView) {
	lineage := org.ID
	if parent := lt.stats[org.ParentID]; parent != nil && org.ParentID != 0 {
		lineage = parent.LineageID
		parent.Children++
	}
	lt.stats[org.ID] = &LifetimeStats{
		BirthUpdate: org.BirthUpdate,
		ParentID:    org.ParentID,
		LineageID:   lineage,
		Generation:  org.Generation,
		Role:        org.Traits.Role,
		Cycles:      org.Phenotype.Cycles,
		PeakMerit:   org.Merit,
	}
}

// OnDeath removes the organism's stats, reports its lifespan and offers it
// to the hall of fame.
func (lt *LifetimeTracker) OnDeath(org components.OrganismView, cause population.DeathCause) {
	s := lt.Remove(org.ID)
	if s == nil {
		return
	}
	s.Role = org.Traits.Role
	s.Cycles = max(s.Cycles, org.Phenotype.Cycles)
	s.PeakMerit = max(s.PeakMerit, org.Merit)
	lifespan := org.Update - s.BirthUpdate
	if lt.collector != nil {
		lt.collector.RecordDeath(cause, lifespan)
	}
	if lt.hall != nil && cause != population.CauseReset {
		lt.hall.Consider(org.ID, org.Genome, s, lifespan)
	}
}

// UpdateStart records the update being sampled.
func (lt *LifetimeTracker) UpdateStart(update int) {
	lt.update = update
}

// Observe refreshes the running totals of a live organism.
func (lt *LifetimeTracker) Observe(org components.OrganismView) {
	s := lt.stats[org.ID]
	if s == nil {
		return
	}
	s.Cycles = org.Phenotype.Cycles
	s.Role = org.Traits.Role
	if org.Merit > s.PeakMerit {
		s.PeakMerit = org.Merit
	}
}

// UpdateEnd is a no-op.
func (lt *LifetimeTracker) UpdateEnd(int) {}

// Get returns the lifetime stats for an organism, or nil if not found.
func (lt *LifetimeTracker) Get(id uint64) *LifetimeStats {
	return lt.stats[id]
}

// Remove removes an organism's stats and returns them.
func (lt *LifetimeTracker) Remove(id uint64) *LifetimeStats {
	stats := lt.stats[id]
	delete(lt.stats, id)
	return stats
}

// Count returns the number of tracked organisms.
func (lt *LifetimeTracker) Count() int {
	return len(lt.stats)
}

// ActiveLineageCount returns the number of founder lineages with a living
// descendant.
func (lt *LifetimeTracker) ActiveLineageCount() int {
	seen := make(map[uint64]struct{})
	for _, stats := range lt.stats {
		seen[stats.LineageID] = struct{}{}
	}
	return len(seen)
}

// Export returns a copy of every tracked organism's stats.
func (lt *LifetimeTracker) Export() map[uint64]*LifetimeStatsJSON {
	out := make(map[uint64]*LifetimeStatsJSON, len(lt.stats))
	for id, stats := range lt.stats {
		out[id] = stats.ToJSON()
	}
	return out
}

// Import replaces the tracked stats with recorded ones.
func (lt *LifetimeTracker) Import(recorded map[uint64]*LifetimeStatsJSON) {
	clear(lt.stats)
	for id, stats := range recorded {
		if stats != nil {
			lt.stats[id] = stats.FromJSON()
		}
	}
}
