package systems

// PhaseInfo describes one timed phase of the update cycle.
type PhaseInfo struct {
	ID          string // used by StartPhase and as the perf column prefix
	Name        string
	Description string
	Category    string
}

// Phase identifiers used by the engine and the perf collector.
const (
	PhaseSchedule  = "schedule"
	PhaseExecute   = "execute"
	PhaseApply     = "apply"
	PhasePlacement = "placement"
	PhaseResources = "resources"
	PhaseStats     = "stats"
	PhaseTrace     = "trace"
	PhaseAging     = "aging"
	PhaseTelemetry = "telemetry"
	PhaseSnapshot  = "snapshot"
)

// Phase categories. Perf output aggregates phases per category.
const (
	CategoryCore        = "core"        // time slicing
	CategoryLifecycle   = "lifecycle"   // births, deaths, aging
	CategoryEnvironment = "environment" // resources
	CategoryIO          = "io"          // stats, tracing, output files
	CategoryOther       = "other"       // phases timed without registration
)

// PhaseRegistry holds the phases of an update in the order they run.
type PhaseRegistry struct {
	phases []PhaseInfo
	byID   map[string]int
}

// NewPhaseRegistry creates a registry with the engine and sim phases.
func NewPhaseRegistry() *PhaseRegistry {
	reg := &PhaseRegistry{byID: make(map[string]int)}
	reg.registerDefaults()
	return reg
}

// registerDefaults adds the built-in phases. Update this when the engine
// or sim gains a StartPhase call.
func (r *PhaseRegistry) registerDefaults() {
	r.Register(PhaseInfo{ID: PhaseSchedule, Name: "Schedule", Description: "Chooses the next organism to run", Category: CategoryCore})
	r.Register(PhaseInfo{ID: PhaseExecute, Name: "Execute", Description: "Runs organism CPUs for their granted cycles", Category: CategoryCore})
	r.Register(PhaseInfo{ID: PhaseApply, Name: "Apply", Description: "Applies step outcomes to the population", Category: CategoryCore})

	r.Register(PhaseInfo{ID: PhasePlacement, Name: "Placement", Description: "Places offspring and evicts occupants", Category: CategoryLifecycle})
	r.Register(PhaseInfo{ID: PhaseAging, Name: "Aging", Description: "Ages organisms and removes the expired", Category: CategoryLifecycle})

	r.Register(PhaseInfo{ID: PhaseResources, Name: "Resources", Description: "Resource inflow, outflow and diffusion", Category: CategoryEnvironment})

	r.Register(PhaseInfo{ID: PhaseStats, Name: "Stats", Description: "Runs attached organism stat providers", Category: CategoryIO})
	r.Register(PhaseInfo{ID: PhaseTrace, Name: "Trace", Description: "Samples the trace queue", Category: CategoryIO})
	r.Register(PhaseInfo{ID: PhaseTelemetry, Name: "Telemetry", Description: "Flushes stats windows, bookmarks and output files", Category: CategoryIO})
	r.Register(PhaseInfo{ID: PhaseSnapshot, Name: "Snapshot", Description: "Persists population snapshots", Category: CategoryIO})
}

// Register adds a phase, or replaces the metadata of a known one in place.
// A phase without a category is filed under CategoryOther.
func (r *PhaseRegistry) Register(info PhaseInfo) {
	if info.Category == "" {
		info.Category = CategoryOther
	}
	if info.Name == "" {
		info.Name = info.ID
	}
	if i, ok := r.byID[info.ID]; ok {
		r.phases[i] = info
		return
	}
	r.byID[info.ID] = len(r.phases)
	r.phases = append(r.phases, info)
}

// Get returns phase info by ID.
func (r *PhaseRegistry) Get(id string) (PhaseInfo, bool) {
	i, ok := r.byID[id]
	if !ok {
		return PhaseInfo{}, false
	}
	return r.phases[i], true
}

// All returns the registered phases in update order.
func (r *PhaseRegistry) All() []PhaseInfo {
	return r.phases
}

// Categories returns the distinct categories in order of first use.
func (r *PhaseRegistry) Categories() []string {
	var cats []string
	seen := make(map[string]bool)
	for _, info := range r.phases {
		if !seen[info.Category] {
			seen[info.Category] = true
			cats = append(cats, info.Category)
		}
	}
	return cats
}

var defaultPhases = NewPhaseRegistry()

// DefaultPhases returns the shared registry of built-in phases. Callers
// that register their own phases should use NewPhaseRegistry instead.
func DefaultPhases() *PhaseRegistry {
	return defaultPhases
}
