// Package cpu provides a reference virtual CPU: a self-replicator that
// copies its genome site by site and divides when the copy completes.
package cpu

import (
	"context"
	"math/rand/v2"

	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/config"
	"github.com/pthm-cable/digipop/population"
)

// Alphabet is the instruction set a genome is written in.
const Alphabet = "abcdefghijklmnopqrstuvwxyz"

// Replicator copies one genome site per CyclesPerSite cycles. Each copied
// site mutates to a random instruction with probability MutationRate.
// Randomness is derived from the organism and its executed cycles, so
// results do not depend on which goroutine runs the step.
type Replicator struct {
	CyclesPerSite  int
	MutationRate   float64
	ResourceDemand float64
	MeritPerUnit   float64
	RoleSwitchRate float64
	Seed           uint64
}

// New creates a replicator from the cpu config section.
func New(cfg config.CPUConfig, seed uint64) *Replicator {
	return &Replicator{
		CyclesPerSite:  max(cfg.CyclesPerSite, 1),
		MutationRate:   cfg.MutationRate,
		ResourceDemand: cfg.ResourceDemand,
		MeritPerUnit:   cfg.MeritPerUnit,
		RoleSwitchRate: cfg.RoleSwitchRate,
		Seed:           seed,
	}
}

// Ancestor returns the founder genome of the given length.
func Ancestor(length int) components.Genome {
	seq := make([]byte, max(length, 1))
	for i := range seq {
		seq[i] = Alphabet[i%len(Alphabet)]
	}
	return components.Genome{Label: "ancestor", Sequence: seq}
}

// Execute implements population.CPU.
func (r *Replicator) Execute(ctx context.Context, org components.OrganismView, budget int) population.Outcome {
	out := population.Outcome{Cycles: budget}
	if len(org.Genome.Sequence) == 0 {
		out.Died = true
		return out
	}
	if ctx.Err() != nil {
		out.Cycles = 0
		out.CopyProgress = org.Phenotype.CopyProgress
		return out
	}

	rng := rand.New(rand.NewPCG(r.Seed^org.ID, uint64(org.Phenotype.Cycles)))
	need := len(org.Genome.Sequence) * r.CyclesPerSite
	progress := org.Phenotype.CopyProgress + budget
	stored := org.Phenotype.Stored

	for progress >= need {
		progress -= need
		out.Offspring = append(out.Offspring, r.copyGenome(org.Genome, rng))

		// Divide converts stored resources into the parent's merit.
		merit := 1 + r.MeritPerUnit*stored
		out.Merit = &merit
		out.SpentStored += stored
		stored = 0

		if r.RoleSwitchRate > 0 && rng.Float64() < r.RoleSwitchRate {
			role := components.RolePredator
			if org.Traits.Role != components.RolePrey {
				role = components.RolePrey
			}
			out.Role = &role
		}
	}
	out.CopyProgress = progress
	out.ResourceDemand = r.ResourceDemand
	return out
}

func (r *Replicator) copyGenome(g components.Genome, rng *rand.Rand) components.Genome {
	child := g.Clone()
	mutated := false
	for i := range child.Sequence {
		if r.MutationRate > 0 && rng.Float64() < r.MutationRate {
			child.Sequence[i] = Alphabet[rng.IntN(len(Alphabet))]
			mutated = true
		}
	}
	if mutated {
		child.Label = "mutant"
	}
	return child
}
