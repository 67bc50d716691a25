// Package telemetry provides population health tracking, bookmarking and
// experiment output.
package telemetry

import (
	"github.com/pthm-cable/digipop/population"
)

// Sample is the population state observed at a window boundary.
type Sample struct {
	Counts         population.Counts
	Merits         []float64
	Generations    []int
	GroupSizes     []int
	ActiveLineages int
	ResourceTotal  float64
}

// Collector accumulates update reports within windows of updates and
// produces WindowStats.
type Collector struct {
	windowUpdates int
	windowStart   int

	// Event counters for current window
	births            int
	deaths            int
	deathsAge         int
	deathsCPU         int
	evictions         int
	placementFailures int
	injections        int
	roleChanges       int
	cycles            int64
	budget            int64
	steps             int
	idleUpdates       int
	immAccepted       int
	immRejected       int
	retAccepted       int
	retRejected       int
	lifespanSum       int
	lifespanCount     int
}

// NewCollector creates a collector that flushes every windowUpdates updates.
func NewCollector(windowUpdates int) *Collector {
	if windowUpdates < 1 {
		windowUpdates = 1
	}
	return &Collector{windowUpdates: windowUpdates}
}

// RecordUpdate folds one update's counters into the current window.
func (c *Collector) RecordUpdate(r population.UpdateReport) {
	c.births += r.Births
	c.deaths += r.Deaths
	c.evictions += r.Evictions
	c.placementFailures += r.PlacementFailures
	c.injections += r.Injections
	c.roleChanges += r.RoleChanges
	c.cycles += r.Cycles
	c.budget += r.Budget
	c.steps += r.Steps
	c.immAccepted += r.ImmigrationAccepted
	c.immRejected += r.ImmigrationRejected
	c.retAccepted += r.RetentionAccepted
	c.retRejected += r.RetentionRejected
	if r.Idle {
		c.idleUpdates++
	}
}

// RecordDeath records why an organism died and how many updates it lived.
func (c *Collector) RecordDeath(cause population.DeathCause, lifespan int) {
	switch cause {
	case population.CauseAge:
		c.deathsAge++
	case population.CauseCPU:
		c.deathsCPU++
	}
	c.lifespanSum += lifespan
	c.lifespanCount++
}

// ShouldFlush returns true once the current window has run its updates.
func (c *Collector) ShouldFlush(update int) bool {
	return update-c.windowStart >= c.windowUpdates
}

// WindowUpdates returns the number of updates per window.
func (c *Collector) WindowUpdates() int {
	return c.windowUpdates
}

// Flush produces a WindowStats from the window's counters and the
// population sample, then resets the counters for the next window.
func (c *Collector) Flush(update int, s Sample) WindowStats {
	meritMean, meritStd, p10, p50, p90 := ComputeDistribution(s.Merits)

	stats := WindowStats{
		WindowStart: c.windowStart,
		WindowEnd:   update,

		Population:   s.Counts.Population,
		Prey:         s.Counts.Prey,
		Predators:    s.Counts.Predators,
		TopPredators: s.Counts.TopPredators,

		Births:            c.births,
		Deaths:            c.deaths,
		DeathsAge:         c.deathsAge,
		DeathsCPU:         c.deathsCPU,
		Evictions:         c.evictions,
		PlacementFailures: c.placementFailures,
		Injections:        c.injections,
		RoleChanges:       c.roleChanges,

		Cycles:      c.cycles,
		Steps:       c.steps,
		IdleUpdates: c.idleUpdates,

		ImmigrationAccepted: c.immAccepted,
		ImmigrationRejected: c.immRejected,
		RetentionAccepted:   c.retAccepted,
		RetentionRejected:   c.retRejected,

		MeritMean: meritMean,
		MeritStd:  meritStd,
		MeritP10:  p10,
		MeritP50:  p50,
		MeritP90:  p90,

		ActiveLineages: s.ActiveLineages,
		ResourceTotal:  s.ResourceTotal,
	}
	if c.budget > 0 {
		stats.BudgetUsed = float64(c.cycles) / float64(c.budget)
	}
	if c.lifespanCount > 0 {
		stats.LifespanMean = float64(c.lifespanSum) / float64(c.lifespanCount)
	}

	if len(s.Generations) > 0 {
		gens := make([]float64, len(s.Generations))
		for i, g := range s.Generations {
			gens[i] = float64(g)
			stats.GenerationMax = max(stats.GenerationMax, g)
		}
		stats.GenerationMean, _, _, _, _ = ComputeDistribution(gens)
	}

	stats.Groups = len(s.GroupSizes)
	if len(s.GroupSizes) > 0 {
		sizes := make([]float64, len(s.GroupSizes))
		for i, n := range s.GroupSizes {
			sizes[i] = float64(n)
			stats.GroupSizeMax = max(stats.GroupSizeMax, n)
		}
		stats.GroupSizeMean, stats.GroupSizeStd, _, _, _ = ComputeDistribution(sizes)
	}

	*c = Collector{windowUpdates: c.windowUpdates, windowStart: update}
	return stats
}
