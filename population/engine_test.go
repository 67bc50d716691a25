package population

import (
	"context"
	"reflect"
	"slices"
	"testing"

	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/config"
	"github.com/pthm-cable/digipop/simerr"
)

func init() {
	config.MustInit("")
}

// stepFunc adapts a function to the CPU interface.
type stepFunc func(org components.OrganismView, budget int) Outcome

func (f stepFunc) Execute(_ context.Context, org components.OrganismView, budget int) Outcome {
	return f(org, budget)
}

// idleCPU consumes its budget and does nothing else.
var idleCPU = stepFunc(func(_ components.OrganismView, budget int) Outcome {
	return Outcome{Cycles: budget}
})

// copier divides every len(genome)*4 cycles and never mutates.
var copier = stepFunc(func(org components.OrganismView, budget int) Outcome {
	need := len(org.Genome.Sequence) * 4
	progress := org.Phenotype.CopyProgress + budget
	out := Outcome{Cycles: budget, ResourceDemand: 0.1}
	for progress >= need {
		progress -= need
		out.Offspring = append(out.Offspring, org.Genome)
	}
	out.CopyProgress = progress
	return out
})

func genome() components.Genome {
	return components.Genome{Label: "g", Sequence: []byte("abcdefgh")}
}

// testConfig returns the defaults on a width x height torus with
// age-based, non-preferring neighbourhood placement.
func testConfig(width, height int) *config.Config {
	cfg := config.Default()
	cfg.World.Width = width
	cfg.World.Height = height
	cfg.Birth.Scope = "neighborhood"
	cfg.Birth.Method = "oldest"
	cfg.Birth.PreferEmpty = false
	cfg.Birth.ParentSurvives = false
	cfg.Scheduler.Workers = 1
	return cfg
}

func newEngine(t *testing.T, cfg *config.Config, cpu CPU) *Engine {
	t.Helper()
	e, err := New(cfg, Options{Seed: 42, CPU: cpu})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func mustCheck(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Check(); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestAgePlacementEvictsOnlyOccupiedNeighbor(t *testing.T) {
	e := newEngine(t, testConfig(3, 3), idleCPU)

	opts := DefaultInjectOptions()
	opts.Slot = 4
	orig, err := e.Inject(genome(), opts)
	if err != nil {
		t.Fatal(err)
	}
	e.ProcessPostUpdate() // age the occupant

	if !e.ActivateOffspring(4, genome()) {
		t.Fatal("ActivateOffspring failed")
	}
	if _, alive := e.SlotOf(orig); alive {
		t.Error("original organism still alive")
	}
	child, ok := e.OrganismAt(4)
	if !ok || child.ID == orig {
		t.Fatalf("slot 4 holds %+v, want the offspring", child)
	}
	if got := e.ReaperOrder(); !slices.Equal(got, []int{4}) {
		t.Errorf("reaper order = %v, want [4]", got)
	}
	if c := e.Counts(); c.Population != 1 {
		t.Errorf("population = %d, want 1", c.Population)
	}
	if r := e.Report(); r.Evictions != 1 || r.Births != 1 {
		t.Errorf("evictions/births = %d/%d, want 1/1", r.Evictions, r.Births)
	}
	mustCheck(t, e)
}

func TestParentSurvivesNeverEvictsParent(t *testing.T) {
	cfg := testConfig(3, 3)
	cfg.Birth.ParentSurvives = true
	e := newEngine(t, cfg, idleCPU)

	opts := DefaultInjectOptions()
	opts.Slot = 4
	parent, _ := e.Inject(genome(), opts)

	if !e.ActivateOffspring(4, genome()) {
		t.Fatal("ActivateOffspring failed")
	}
	if slot, ok := e.SlotOf(parent); !ok || slot != 4 {
		t.Errorf("parent at %d, %v, want 4, true", slot, ok)
	}
	if got := e.Counts().Population; got != 2 {
		t.Errorf("population = %d, want 2", got)
	}
	mustCheck(t, e)
}

func TestEmptyOnlyPlacementFailure(t *testing.T) {
	cfg := testConfig(2, 1)
	cfg.Birth.Method = "empty_only"
	cfg.Birth.ParentSurvives = true
	e := newEngine(t, cfg, idleCPU)

	for slot := range 2 {
		opts := DefaultInjectOptions()
		opts.Slot = slot
		if _, err := e.Inject(genome(), opts); err != nil {
			t.Fatal(err)
		}
	}
	if e.ActivateOffspring(0, genome()) {
		t.Error("placement succeeded on a full grid")
	}
	if r := e.Report(); r.PlacementFailures != 1 {
		t.Errorf("placement failures = %d, want 1", r.PlacementFailures)
	}
	mustCheck(t, e)
}

func TestInjectPreconditions(t *testing.T) {
	e := newEngine(t, testConfig(2, 1), idleCPU)

	opts := DefaultInjectOptions()
	opts.Slot = 0
	first, err := e.Inject(genome(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Inject(genome(), opts); !simerr.IsPrecondition(err) {
		t.Errorf("inject into occupied slot err = %v, want precondition", err)
	}
	opts.Evict = true
	if _, err := e.Inject(genome(), opts); err != nil {
		t.Errorf("inject with evict: %v", err)
	}
	if _, alive := e.SlotOf(first); alive {
		t.Error("evicted organism still alive")
	}

	if _, err := e.Inject(genome(), DefaultInjectOptions()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Inject(genome(), DefaultInjectOptions()); !simerr.IsPrecondition(err) {
		t.Errorf("inject into full grid err = %v, want precondition", err)
	}
	mustCheck(t, e)
}

func TestKillOrganism(t *testing.T) {
	e := newEngine(t, testConfig(3, 3), idleCPU)
	opts := DefaultInjectOptions()
	opts.Slot = 2
	e.Inject(genome(), opts)

	e.KillOrganism(2)
	e.KillOrganism(2) // no-op
	if err := e.KillOrganismChecked(2); !simerr.IsPrecondition(err) {
		t.Errorf("double kill err = %v, want precondition", err)
	}
	if _, ok := e.SchedulerWeight(2); ok {
		t.Error("killed slot still scheduled")
	}
	if e.Counts().Population != 0 {
		t.Errorf("population = %d, want 0", e.Counts().Population)
	}
	mustCheck(t, e)
}

func TestKillLastGroupMember(t *testing.T) {
	e := newEngine(t, testConfig(3, 3), idleCPU)
	gid := e.MakeGroup()

	opts := DefaultInjectOptions()
	opts.Slot = 0
	id, err := e.InjectGroup(genome(), gid, opts)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Groups().NumberOfOrganismsInGroup(gid); got != 1 {
		t.Fatalf("group size = %d, want 1", got)
	}

	e.KillOrganism(0)
	snap := e.GroupSnapshot()
	if len(snap) != 1 || snap[0].ID != gid || snap[0].Size != 0 {
		t.Errorf("GroupSnapshot = %+v, want one empty group %d", snap, gid)
	}
	if e.KillGroupMember(gid, id) {
		t.Error("KillGroupMember on empty group reported a kill")
	}
	if got := e.Groups().CalcGroupOddsImmigrants(gid, components.MatingAny); got != 1 {
		t.Errorf("empty group odds = %v, want 1", got)
	}
	mustCheck(t, e)
}

func TestKillGroupMemberExcludes(t *testing.T) {
	e := newEngine(t, testConfig(3, 3), idleCPU)
	gid := e.MakeGroup()

	var ids []uint64
	for slot := range 2 {
		opts := DefaultInjectOptions()
		opts.Slot = slot
		id, _ := e.InjectGroup(genome(), gid, opts)
		ids = append(ids, id)
	}
	if !e.KillGroupMember(gid, ids[0]) {
		t.Fatal("KillGroupMember failed with two members")
	}
	if _, ok := e.SlotOf(ids[0]); !ok {
		t.Error("excluded organism was killed")
	}
	if e.KillGroupMember(gid, ids[0]) {
		t.Error("KillGroupMember succeeded with one member")
	}
	mustCheck(t, e)
}

func TestOffspringInheritsGroup(t *testing.T) {
	cfg := testConfig(3, 3)
	cfg.Birth.PreferEmpty = true
	e := newEngine(t, cfg, idleCPU)
	gid := e.MakeGroup()

	opts := DefaultInjectOptions()
	opts.Slot = 4
	e.InjectGroup(genome(), gid, opts)

	// Zero intolerance: retention odds are 1.
	if !e.ActivateOffspring(4, genome()) {
		t.Fatal("ActivateOffspring failed")
	}
	if got := e.Groups().NumberOfOrganismsInGroup(gid); got != 2 {
		t.Errorf("group size = %d, want 2", got)
	}

	e.SetIntolerance(4, components.Intolerance{OwnOffspring: cfg.Groups.MaxTolerance})
	if !e.ActivateOffspring(4, genome()) {
		t.Fatal("ActivateOffspring failed")
	}
	if got := e.Groups().NumberOfOrganismsInGroup(gid); got != 2 {
		t.Errorf("group size after saturated retention = %d, want 2", got)
	}
	if r := e.Report(); r.RetentionAccepted != 1 || r.RetentionRejected != 1 {
		t.Errorf("retention accepted/rejected = %d/%d, want 1/1", r.RetentionAccepted, r.RetentionRejected)
	}
	mustCheck(t, e)
}

func TestRoleTransitionsMoveCounters(t *testing.T) {
	e := newEngine(t, testConfig(3, 3), idleCPU)
	for slot := range 3 {
		opts := DefaultInjectOptions()
		opts.Slot = slot
		e.Inject(genome(), opts)
	}
	e.SetRole(1, components.RolePredator)
	e.SetRole(2, components.RoleTopPredator)

	want := Counts{Population: 3, Prey: 1, Predators: 1, TopPredators: 1}
	if got := e.Counts(); got != want {
		t.Errorf("Counts = %+v, want %+v", got, want)
	}
	if n := e.RemovePredators(); n != 2 {
		t.Errorf("RemovePredators = %d, want 2", n)
	}
	if got := e.Counts(); got != (Counts{Population: 1, Prey: 1}) {
		t.Errorf("Counts after removal = %+v", got)
	}
	if e.KillRandPred() {
		t.Error("KillRandPred succeeded with no predators")
	}
	if !e.KillRandPrey() {
		t.Error("KillRandPrey failed")
	}
	mustCheck(t, e)
}

func TestUpdateMeritAdjustsWeight(t *testing.T) {
	e := newEngine(t, testConfig(3, 3), idleCPU)
	opts := DefaultInjectOptions()
	opts.Slot = 3
	e.Inject(genome(), opts)

	if !e.UpdateMerit(3, 7.5) {
		t.Fatal("UpdateMerit failed")
	}
	if w, _ := e.SchedulerWeight(3); w != 7.5 {
		t.Errorf("weight = %v, want 7.5", w)
	}
	if e.UpdateMerit(5, 1) {
		t.Error("UpdateMerit on empty slot succeeded")
	}
	mustCheck(t, e)
}

func TestRunUpdateKeepsInvariants(t *testing.T) {
	cfg := testConfig(6, 6)
	cfg.Birth.PreferEmpty = true
	cfg.CPU.MaxAge = 8
	e := newEngine(t, cfg, copier)

	for slot := range 3 {
		opts := DefaultInjectOptions()
		opts.Slot = slot * 7
		opts.GroupID = 0
		if _, err := e.Inject(genome(), opts); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	births := 0
	for range 30 {
		r, err := e.RunUpdate(ctx)
		if err != nil {
			t.Fatalf("RunUpdate: %v", err)
		}
		births += r.Births
		if r.Counts.Population > 0 && r.Steps == 0 {
			t.Errorf("update %d ran no steps with %d organisms", r.Update, r.Counts.Population)
		}
		mustCheck(t, e)
	}
	if births == 0 {
		t.Error("no births in 30 updates")
	}
	if e.Update() != 30 {
		t.Errorf("Update = %d, want 30", e.Update())
	}
}

func TestRunUpdateIdle(t *testing.T) {
	e := newEngine(t, testConfig(3, 3), idleCPU)

	r, err := e.RunUpdate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !r.Idle || r.Steps != 0 {
		t.Errorf("idle=%v steps=%d, want true/0", r.Idle, r.Steps)
	}
}

func TestRunUpdateCancelled(t *testing.T) {
	e := newEngine(t, testConfig(3, 3), idleCPU)
	e.Inject(genome(), DefaultInjectOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.RunUpdate(ctx); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCPUDeathAndMerit(t *testing.T) {
	merit := 3.0
	cpu := stepFunc(func(org components.OrganismView, budget int) Outcome {
		if org.Slot == 0 {
			return Outcome{Cycles: budget, Died: true}
		}
		return Outcome{Cycles: budget, Merit: &merit}
	})
	e := newEngine(t, testConfig(3, 3), cpu)
	for slot := range 2 {
		opts := DefaultInjectOptions()
		opts.Slot = slot
		e.Inject(genome(), opts)
	}
	if _, err := e.RunUpdate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.OrganismAt(0); ok {
		t.Error("organism reporting death is alive")
	}
	if w, _ := e.SchedulerWeight(1); w != 3 {
		t.Errorf("weight = %v, want 3", w)
	}
	mustCheck(t, e)
}

func runWith(t *testing.T, workers int, seed uint64) Snapshot {
	t.Helper()
	cfg := testConfig(8, 8)
	cfg.Birth.Method = "random"
	cfg.Scheduler.Workers = workers
	cfg.Scheduler.BatchSize = 16
	return runConfig(t, cfg, seed)
}

// runConfig grows one copier organism for 25 updates.
func runConfig(t *testing.T, cfg *config.Config, seed uint64) Snapshot {
	t.Helper()
	e, err := New(cfg, Options{Seed: seed, CPU: copier})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if _, err := e.Inject(genome(), DefaultInjectOptions()); err != nil {
		t.Fatal(err)
	}
	for range 25 {
		if _, err := e.RunUpdate(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	return e.Snapshot()
}

func TestDeterministicReplay(t *testing.T) {
	a := runWith(t, 1, 11)
	b := runWith(t, 1, 11)
	if !reflect.DeepEqual(a, b) {
		t.Error("same seed produced different populations")
	}
	if len(a.Organisms) < 2 {
		t.Errorf("population = %d, want growth", len(a.Organisms))
	}
}

func TestWorkerCountDoesNotChangeResults(t *testing.T) {
	seq := runWith(t, 1, 5)
	par := runWith(t, 4, 5)
	if !reflect.DeepEqual(seq, par) {
		t.Error("parallel run diverged from sequential run")
	}
}

func TestZeroMeritKills(t *testing.T) {
	tests := []struct {
		name  string
		merit float64
	}{
		{"zero", 0},
		{"negative", -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, testConfig(3, 3), idleCPU)
			ids := fill(t, e, 4, 5)

			if !e.UpdateMerit(4, tt.merit) {
				t.Fatal("UpdateMerit on an occupied slot = false")
			}
			if _, ok := e.OrganismAt(4); ok {
				t.Error("organism with non-positive merit still placed")
			}
			if _, alive := e.SlotOf(ids[0]); alive {
				t.Error("organism with non-positive merit still indexed")
			}
			if _, registered := e.SchedulerWeight(4); registered {
				t.Error("slot 4 still registered with the scheduler")
			}
			if w, _ := e.SchedulerWeight(5); w <= 0 {
				t.Errorf("slot 5 weight = %v, want > 0", w)
			}
			if r := e.Report(); r.Deaths != 1 {
				t.Errorf("deaths = %d, want 1", r.Deaths)
			}
			mustCheck(t, e)
		})
	}
}

func TestCPUZeroMeritKills(t *testing.T) {
	zero := 0.0
	cpu := stepFunc(func(org components.OrganismView, budget int) Outcome {
		return Outcome{Cycles: budget, Merit: &zero, Offspring: []components.Genome{org.Genome}}
	})
	e := newEngine(t, testConfig(3, 3), cpu)
	fill(t, e, 4)

	r, err := e.RunUpdate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.Counts.Population != 0 || r.Births != 0 {
		t.Errorf("population/births = %d/%d, want 0/0", r.Counts.Population, r.Births)
	}
	mustCheck(t, e)
}

func TestInjectMerit(t *testing.T) {
	e := newEngine(t, testConfig(3, 3), idleCPU)

	opts := DefaultInjectOptions()
	opts.Slot = 0
	if _, err := e.Inject(genome(), opts); err != nil {
		t.Fatal(err)
	}
	if w, _ := e.SchedulerWeight(0); w != e.Config().Population.InitialMerit {
		t.Errorf("default weight = %v, want %v", w, e.Config().Population.InitialMerit)
	}

	merit := 2.5
	opts.Slot = 1
	opts.Merit = &merit
	if _, err := e.Inject(genome(), opts); err != nil {
		t.Fatal(err)
	}
	if w, _ := e.SchedulerWeight(1); w != 2.5 {
		t.Errorf("explicit weight = %v, want 2.5", w)
	}

	// A rejected zero-merit inject must not evict the occupant.
	zero := 0.0
	opts.Slot = 0
	opts.Evict = true
	opts.Merit = &zero
	if _, err := e.Inject(genome(), opts); simerr.GetCode(err) != simerr.CodePrecondition {
		t.Errorf("zero-merit inject error = %v, want %s", err, simerr.CodePrecondition)
	}
	if c := e.Counts(); c.Population != 2 {
		t.Errorf("population = %d, want 2", c.Population)
	}
	mustCheck(t, e)
}
