package components

import "fmt"

// OrganismView is the read-only copy of an organism handed to the virtual CPU.
// It carries no entity handle; the CPU cannot reach back into the engine.
type OrganismView struct {
	ID          uint64
	ParentID    uint64
	Generation  int
	BirthUpdate int
	Slot        int
	Update      int
	Merit       float64
	Traits      Traits
	GroupID     int
	Genome      Genome
	Phenotype   Phenotype
	Resources   []float64 // resource levels at the organism's slot
	Neighbors   int       // occupied neighbour count
	Traced      bool
}

// String returns a compact identifier for logs.
func (v OrganismView) String() string {
	return fmt.Sprintf("org#%d@%d", v.ID, v.Slot)
}
