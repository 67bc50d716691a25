// Package population implements the population engine: the organism arena,
// its placement on the grid, CPU time scheduling, the birth and death
// lifecycle, and group admission.
//
// All mutation goes through the Engine's lifecycle paths so that the grid,
// scheduler, reaper queue, group registry and role counters always agree.
// Public methods are safe for concurrent use; they serialize on one mutex
// and are applied between execution steps, never during one.
package population

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/mlange-42/ark/ecs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/config"
	"github.com/pthm-cable/digipop/simerr"
	"github.com/pthm-cable/digipop/systems"
)

// Counts is the live population by role.
type Counts struct {
	Population   int `json:"population" csv:"population"`
	Prey         int `json:"prey" csv:"prey"`
	Predators    int `json:"predators" csv:"predators"`
	TopPredators int `json:"top_predators" csv:"top_predators"`
}

func (c *Counts) add(role components.Role, delta int) {
	c.Population += delta
	switch role {
	case components.RolePredator:
		c.Predators += delta
	case components.RoleTopPredator:
		c.TopPredators += delta
	default:
		c.Prey += delta
	}
}

// PhaseRecorder receives phase boundaries for performance accounting.
type PhaseRecorder interface {
	StartPhase(phase string)
}

type noopPhases struct{}

func (noopPhases) StartPhase(string) {}

// Options supplies the engine's external collaborators. Nil fields get
// no-op implementations, except CPU which is required to run updates.
type Options struct {
	Seed      uint64
	CPU       CPU
	Resources ResourcePool
	Observer  Observer
	Perf      PhaseRecorder
	Tracer    trace.Tracer
}

// Engine is the population engine.
type Engine struct {
	mu sync.Mutex

	cfg *config.Config
	rng *rand.Rand

	// Trace sampling draws from its own stream so that tracing never
	// shifts placement, admission or scheduling draws.
	traceRng *rand.Rand

	// Organism arena
	world     *ecs.World
	mapper    *ecs.Map6[components.Organism, components.Merit, components.Traits, components.Membership, components.Genome, components.Phenotype]
	filter    *ecs.Filter6[components.Organism, components.Merit, components.Traits, components.Membership, components.Genome, components.Phenotype]
	orgMap    *ecs.Map1[components.Organism]
	meritMap  *ecs.Map1[components.Merit]
	traitsMap *ecs.Map1[components.Traits]
	memberMap *ecs.Map1[components.Membership]
	genomeMap *ecs.Map1[components.Genome]
	phenoMap  *ecs.Map1[components.Phenotype]
	byID      map[uint64]ecs.Entity

	grid      *systems.Grid
	scheduler systems.Scheduler
	reaper    *systems.ReaperQueue
	selector  systems.Selector
	groups    *systems.GroupRegistry

	cpu       CPU
	resources ResourcePool
	observer  Observer
	perf      PhaseRecorder
	tracer    trace.Tracer
	providers []StatProvider

	update int
	seq    uint64 // next occupation sequence number
	nextID uint64
	counts Counts
	report UpdateReport

	traces      traceQueue
	parallel    *workerPool
	slotBuf     []int
	candBuf     []systems.Candidate
	globalBirth bool
}

// New builds an engine from cfg. The grid starts empty.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	geom, err := systems.ParseGeometry(cfg.World.Geometry)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	grid := systems.NewGrid(cfg.World.Width, cfg.World.Height, geom, cfg.World.Neighborhood)
	sched, err := systems.NewScheduler(cfg.Scheduler.Method, grid.Size(), cfg.Scheduler.Quantum, rng)
	if err != nil {
		return nil, err
	}
	sel, err := systems.NewSelector(cfg.Birth.Method, cfg.Birth.PreferEmpty)
	if err != nil {
		return nil, err
	}

	world := ecs.NewWorld()
	e := &Engine{
		cfg:      cfg,
		rng:      rng,
		traceRng: rand.New(rand.NewPCG(opts.Seed, opts.Seed^0xda942042e4dd58b5)),
		world:    world,
		mapper: ecs.NewMap6[
			components.Organism,
			components.Merit,
			components.Traits,
			components.Membership,
			components.Genome,
			components.Phenotype,
		](world),
		filter: ecs.NewFilter6[
			components.Organism,
			components.Merit,
			components.Traits,
			components.Membership,
			components.Genome,
			components.Phenotype,
		](world),
		orgMap:    ecs.NewMap1[components.Organism](world),
		meritMap:  ecs.NewMap1[components.Merit](world),
		traitsMap: ecs.NewMap1[components.Traits](world),
		memberMap: ecs.NewMap1[components.Membership](world),
		genomeMap: ecs.NewMap1[components.Genome](world),
		phenoMap:  ecs.NewMap1[components.Phenotype](world),
		byID:      make(map[uint64]ecs.Entity),

		grid:      grid,
		scheduler: sched,
		reaper:    systems.NewReaperQueue(),
		selector:  sel,
		groups:    systems.NewGroupRegistry(cfg.Groups.MaxTolerance, cfg.Groups.VarianceWeight),

		cpu:       opts.CPU,
		resources: opts.Resources,
		observer:  opts.Observer,
		perf:      opts.Perf,
		tracer:    opts.Tracer,

		nextID:      1,
		traces:      newTraceQueue(),
		globalBirth: cfg.Birth.Scope == "global",
	}
	if e.resources == nil {
		e.resources = nullPool{}
	}
	if e.observer == nil {
		e.observer = noopObserver{}
	}
	if e.perf == nil {
		e.perf = noopPhases{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/pthm-cable/digipop/population")
	}
	if cfg.Scheduler.Workers > 1 {
		e.parallel = newWorkerPool(cfg.Scheduler.Workers)
	}
	return e, nil
}

// Close stops the worker pool, if any.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.parallel != nil {
		e.parallel.stop()
	}
}

// Rand returns the engine's random source. It must only be used while no
// update is running, for example to seed an external component.
func (e *Engine) Rand() *rand.Rand { return e.rng }

// Grid returns the engine's grid for read access.
func (e *Engine) Grid() *systems.Grid { return e.grid }

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *config.Config { return e.cfg }

// Update returns the number of completed updates.
func (e *Engine) Update() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.update
}

// Counts returns the live population by role.
func (e *Engine) Counts() Counts {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts
}

// ReaperOrder returns the occupied slots, longest-occupied first.
func (e *Engine) ReaperOrder() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reaper.Slots()
}

// SchedulerWeight returns the scheduler weight registered for slot.
func (e *Engine) SchedulerWeight(slot int) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.grid.Valid(slot) || !e.scheduler.Registered(slot) {
		return 0, false
	}
	return e.scheduler.Weight(slot), true
}

// AttachStatProvider registers p to observe every live organism after each
// update.
func (e *Engine) AttachStatProvider(p StatProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.providers = append(e.providers, p)
}

// AttachResources replaces the resource pool. Pools that diffuse between
// neighbours are built over Grid(), which stays the same object across
// resizes; the engine resizes p along with the grid.
func (e *Engine) AttachResources(p ResourcePool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p == nil {
		p = nullPool{}
	}
	e.resources = p
}

// OrganismAt returns a view of the organism in slot.
func (e *Engine) OrganismAt(slot int) (components.OrganismView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.grid.Occupant(slot)
	if !ok {
		return components.OrganismView{}, false
	}
	return e.view(ent), true
}

// SlotOf returns the slot of the live organism with the given ID.
func (e *Engine) SlotOf(id uint64) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.byID[id]
	if !ok {
		return -1, false
	}
	return e.orgMap.Get(ent).Slot, true
}

// LiveOrganisms returns a view of every live organism in slot order.
func (e *Engine) LiveOrganisms() []components.OrganismView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liveViews()
}

func (e *Engine) liveViews() []components.OrganismView {
	slots := e.grid.OccupiedSlots()
	out := make([]components.OrganismView, 0, len(slots))
	for _, slot := range slots {
		ent, _ := e.grid.Occupant(slot)
		out = append(out, e.view(ent))
	}
	return out
}

// view builds the read-only copy of an organism handed to collaborators.
func (e *Engine) view(ent ecs.Entity) components.OrganismView {
	org, merit, traits, member, genome, pheno := e.mapper.Get(ent)
	occupied := 0
	for _, n := range e.grid.Neighbors(org.Slot) {
		if e.grid.IsOccupied(n) {
			occupied++
		}
	}
	return components.OrganismView{
		ID:          org.ID,
		ParentID:    org.ParentID,
		Generation:  org.Generation,
		BirthUpdate: org.BirthUpdate,
		Slot:        org.Slot,
		Update:      e.update,
		Merit:       merit.Value,
		Traits:      *traits,
		GroupID:     member.GroupID,
		Genome:      *genome,
		Phenotype:   *pheno,
		Resources:   e.resources.CurrentLevels(org.Slot),
		Neighbors:   occupied,
		Traced:      e.traces.contains(org.ID),
	}
}

// Check verifies the engine's cross-structure invariants: every occupied
// slot is registered with the scheduler at a positive weight equal to its
// merit and queued in the reaper, every
// organism's recorded slot and group agree with the grid and registry,
// and the role counters match the live population.
func (e *Engine) Check() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var counts Counts
	for slot := 0; slot < e.grid.Size(); slot++ {
		ent, occupied := e.grid.Occupant(slot)
		if occupied != e.scheduler.Registered(slot) {
			return invariantError("occupancy and scheduler disagree", slot)
		}
		if occupied != e.reaper.Contains(slot) {
			return invariantError("occupancy and reaper queue disagree", slot)
		}
		if !occupied {
			continue
		}
		if !e.world.Alive(ent) {
			return invariantError("slot references a dead organism", slot)
		}
		org, merit, traits, member, _, _ := e.mapper.Get(ent)
		if org.Slot != slot {
			return invariantError(fmt.Sprintf("organism records slot %d", org.Slot), slot)
		}
		if w := e.scheduler.Weight(slot); w <= 0 || w != merit.Value {
			return invariantError(fmt.Sprintf("scheduler weight %v, merit %v", w, merit.Value), slot)
		}
		gid, in := e.groups.GroupOf(ent)
		if in != member.InGroup() || (in && gid != member.GroupID) {
			return invariantError("membership and group registry disagree", slot)
		}
		counts.add(traits.Role, 1)
	}
	if counts != e.counts {
		return simerr.New(simerr.CodePrecondition, fmt.Sprintf("counts %+v, want %+v", e.counts, counts))
	}

	alive := 0
	query := e.filter.Query()
	for query.Next() {
		alive++
	}
	if alive != e.grid.NumOccupied() || alive != len(e.byID) {
		return simerr.New(simerr.CodePrecondition,
			fmt.Sprintf("%d organisms alive, %d slots occupied, %d indexed", alive, e.grid.NumOccupied(), len(e.byID)))
	}
	return e.groups.Check()
}

func invariantError(msg string, slot int) error {
	return simerr.WithMetadata(simerr.CodePrecondition,
		fmt.Sprintf("slot %d: %s", slot, msg),
		map[string]string{"slot": fmt.Sprint(slot)})
}
