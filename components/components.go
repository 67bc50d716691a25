// Package components defines the ECS components that make up a live organism.
//
// An organism is an ark entity carrying every component below. The entity
// handle is generation-checked, so a handle held past the organism's death
// reports !world.Alive and can never alias a newer organism.
package components

// Role is an organism's forager classification.
type Role uint8

const (
	RolePrey Role = iota
	RolePredator
	RoleTopPredator
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RolePrey:
		return "prey"
	case RolePredator:
		return "predator"
	case RoleTopPredator:
		return "top_predator"
	default:
		return "unknown"
	}
}

// MatingType is an organism's sex / maturity class.
type MatingType uint8

const (
	MatingUndefined MatingType = iota
	MatingFemale
	MatingMale
	MatingJuvenile
)

// NumMatingTypes is the number of MatingType values.
const NumMatingTypes = 4

// MatingAny is a query filter matching every mating type. It is never
// assigned to an organism.
const MatingAny MatingType = 0xFF

// String returns the mating type name.
func (m MatingType) String() string {
	switch m {
	case MatingFemale:
		return "female"
	case MatingMale:
		return "male"
	case MatingJuvenile:
		return "juvenile"
	case MatingAny:
		return "any"
	default:
		return "undefined"
	}
}

// NoGroup marks an organism that belongs to no group.
const NoGroup = -1

// Organism holds identity and placement.
type Organism struct {
	ID          uint64
	Slot        int
	BirthUpdate int
	ParentID    uint64 // 0 for injected founders
	Generation  int
}

// Merit is the scheduler weight. Organisms with Value <= 0 never run.
type Merit struct {
	Value float64
}

// Intolerance holds the organism's recorded social intolerance samples.
// Each value is the organism's contribution to its group's tolerance
// accumulator for that category.
type Intolerance struct {
	Immigrants     int
	OwnOffspring   int
	OtherOffspring int
}

// Traits bundles the classification fields the engine keeps counters for.
type Traits struct {
	Role        Role
	MatingType  MatingType
	Intolerance Intolerance
}

// Membership is the organism side of the group relation.
type Membership struct {
	GroupID int // NoGroup when groupless
}

// InGroup reports whether the organism belongs to a group.
func (m Membership) InGroup() bool {
	return m.GroupID != NoGroup
}

// Genome is the opaque program the virtual CPU executes.
type Genome struct {
	Label    string
	Sequence []byte
}

// Clone returns a copy that shares no backing array with g.
func (g Genome) Clone() Genome {
	seq := make([]byte, len(g.Sequence))
	copy(seq, g.Sequence)
	return Genome{Label: g.Label, Sequence: seq}
}

// Phenotype holds execution state accumulated while the organism runs.
type Phenotype struct {
	Age          int     // updates survived
	Cycles       int64   // cycles executed over the lifetime
	Offspring    int     // successful divides
	Stored       float64 // resources consumed and not yet spent
	CopyProgress int     // cycles accumulated toward the next divide
}
