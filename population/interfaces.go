package population

import (
	"context"

	"github.com/pthm-cable/digipop/components"
)

// CPU executes an organism's genome for a bounded number of cycles.
// Execute must not block beyond the budget and must not retain org. It
// reports everything it wants changed through the returned Outcome; the
// engine applies the outcome through its lifecycle paths.
type CPU interface {
	Execute(ctx context.Context, org components.OrganismView, budget int) Outcome
}

// Outcome describes the effects of one execution step. Pointer fields are
// nil when unchanged.
type Outcome struct {
	Cycles       int // cycles actually consumed, at most the budget
	CopyProgress int // new copy progress toward the next divide

	ResourceDemand float64 // requested from the resource pool at the organism's slot
	SpentStored    float64 // stored resources used up this step

	Merit       *float64
	Role        *components.Role
	MatingType  *components.MatingType
	Intolerance *components.Intolerance

	// Group requests. MakeGroup moves the organism into a new group of its
	// own; JoinGroup asks to immigrate into an existing group and is
	// subject to the group's admission odds. MakeGroup is applied first.
	MakeGroup bool
	JoinGroup *int

	// Offspring genomes, placed in order through ActivateOffspring.
	Offspring []components.Genome

	Died bool
}

// ResourcePool is the environment the organisms draw from.
type ResourcePool interface {
	Consume(slot int, demand float64) []float64
	CurrentLevels(slot int) []float64
	Update()
	Resize(size int)
}

// StatProvider receives every live organism once per update, after the
// update's steps have run.
type StatProvider interface {
	UpdateStart(update int)
	Observe(org components.OrganismView)
	UpdateEnd(update int)
}

// DeathCause records why an organism left the grid.
type DeathCause uint8

const (
	CauseKilled  DeathCause = iota // explicit kill request
	CauseEvicted                   // replaced by an offspring
	CauseCPU                       // the CPU reported death
	CauseAge                       // exceeded the configured maximum age
	CauseReset                     // grid resize or restore
	CauseMerit                     // merit dropped to zero or below
)

// String returns the cause name.
func (c DeathCause) String() string {
	switch c {
	case CauseKilled:
		return "killed"
	case CauseEvicted:
		return "evicted"
	case CauseCPU:
		return "cpu"
	case CauseAge:
		return "age"
	case CauseReset:
		return "reset"
	case CauseMerit:
		return "merit"
	default:
		return "unknown"
	}
}

// Observer is notified of births and deaths as they happen. Calls are made
// with the engine lock held; implementations must not call back into the
// engine.
type Observer interface {
	OnBirth(org components.OrganismView)
	OnDeath(org components.OrganismView, cause DeathCause)
}

type noopObserver struct{}

func (noopObserver) OnBirth(components.OrganismView)             {}
func (noopObserver) OnDeath(components.OrganismView, DeathCause) {}

// nullPool is used when no resource pool is attached.
type nullPool struct{}

func (nullPool) Consume(int, float64) []float64 { return nil }
func (nullPool) CurrentLevels(int) []float64    { return nil }
func (nullPool) Update()                        {}
func (nullPool) Resize(int)                     {}
