package telemetry

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"

	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/config"
)

// numRoles is the number of role halls.
const numRoles = 3

// HallEntry is a successful organism's genome and fitness.
type HallEntry struct {
	Genome     components.Genome `json:"genome"`
	Fitness    float64           `json:"fitness"`
	OrganismID uint64            `json:"organism_id"`
	LineageID  uint64            `json:"lineage_id"`
	Generation int               `json:"generation"`
	Children   int               `json:"children"`
	Lifespan   int               `json:"lifespan"`
	PeakMerit  float64           `json:"peak_merit"`
	Role       components.Role   `json:"role"`
}

// HallOfFame keeps the fittest genomes seen so far, one hall per role, for
// reseeding after an extinction.
type HallOfFame struct {
	halls [numRoles][]HallEntry
	cfg   config.HallOfFameConfig
	rng   *rand.Rand
}

// NewHallOfFame creates an empty hall of fame.
func NewHallOfFame(cfg config.HallOfFameConfig, rng *rand.Rand) *HallOfFame {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	return &HallOfFame{cfg: cfg, rng: rng}
}

// Consider evaluates a dead organism for hall entry. It returns true if the
// organism was added.
func (hof *HallOfFame) Consider(id uint64, genome components.Genome, stats *LifetimeStats, lifespan int) bool {
	if !hof.qualifies(stats.Children, lifespan) {
		return false
	}

	fitness := float64(stats.Children)*hof.cfg.ChildrenWeight +
		float64(lifespan)*hof.cfg.LifespanWeight +
		stats.PeakMerit*hof.cfg.MeritWeight

	entry := HallEntry{
		Genome:     genome.Clone(),
		Fitness:    fitness,
		OrganismID: id,
		LineageID:  stats.LineageID,
		Generation: stats.Generation,
		Children:   stats.Children,
		Lifespan:   lifespan,
		PeakMerit:  stats.PeakMerit,
		Role:       stats.Role,
	}
	hall := hof.getHall(stats.Role)
	var added bool
	*hall, added = hof.insertEntry(*hall, entry)
	return added
}

// qualifies applies the entry criteria: enough children, or a long enough
// life. A lifespan threshold of zero or less disables the lifespan route.
func (hof *HallOfFame) qualifies(children, lifespan int) bool {
	if children >= hof.cfg.MinChildren {
		return true
	}
	return hof.cfg.MinLifespan > 0 && lifespan >= hof.cfg.MinLifespan
}

// insertEntry adds an entry to the hall, maintaining sorted order by fitness.
// If the hall is full, the lowest-fitness entry is removed.
func (hof *HallOfFame) insertEntry(hall []HallEntry, entry HallEntry) ([]HallEntry, bool) {
	idx := sort.Search(len(hall), func(i int) bool {
		return hall[i].Fitness < entry.Fitness
	})

	if len(hall) >= hof.cfg.Size && idx >= hof.cfg.Size {
		return hall, false
	}

	hall = append(hall, HallEntry{})
	copy(hall[idx+1:], hall[idx:])
	hall[idx] = entry

	if len(hall) > hof.cfg.Size {
		hall = hall[:hof.cfg.Size]
	}
	return hall, true
}

// Sample selects a genome from a role's hall using tournament selection.
func (hof *HallOfFame) Sample(role components.Role) (components.Genome, bool) {
	hall := *hof.getHall(role)
	if len(hall) == 0 {
		return components.Genome{}, false
	}

	// Tournament selection with k=3
	const tournamentSize = 3
	best := -1
	for i := 0; i < tournamentSize && i < len(hall); i++ {
		idx := hof.rng.IntN(len(hall))
		if best < 0 || hall[idx].Fitness > hall[best].Fitness {
			best = idx
		}
	}
	return hall[best].Genome.Clone(), true
}

// Size returns the number of entries for a role.
func (hof *HallOfFame) Size(role components.Role) int {
	return len(*hof.getHall(role))
}

// TopFitness returns the highest fitness in a role's hall, or 0.
func (hof *HallOfFame) TopFitness(role components.Role) float64 {
	hall := *hof.getHall(role)
	if len(hall) == 0 {
		return 0
	}
	return hall[0].Fitness
}

func (hof *HallOfFame) getHall(role components.Role) *[]HallEntry {
	if int(role) >= numRoles {
		empty := make([]HallEntry, 0)
		return &empty
	}
	return &hof.halls[role]
}

// MarshalJSON serializes the hall of fame keyed by role name.
func (hof *HallOfFame) MarshalJSON() ([]byte, error) {
	export := make(map[string][]HallEntry, numRoles)
	for role, hall := range hof.halls {
		export[components.Role(role).String()] = hall
	}
	return json.MarshalIndent(export, "", "  ")
}

// LoadHallOfFameFromFile reads a hall of fame written by MarshalJSON.
func LoadHallOfFameFromFile(path string, cfg config.HallOfFameConfig, rng *rand.Rand) (*HallOfFame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading hall of fame: %w", err)
	}

	var raw map[string][]HallEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing hall of fame JSON: %w", err)
	}

	hof := NewHallOfFame(cfg, rng)
	for _, entries := range raw {
		for _, e := range entries {
			hall := hof.getHall(e.Role)
			*hall, _ = hof.insertEntry(*hall, e)
		}
	}
	return hof, nil
}
