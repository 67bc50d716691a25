package sim

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/config"
	"github.com/pthm-cable/digipop/store"
	"github.com/pthm-cable/digipop/telemetry"
)

func init() {
	config.MustInit("")
}

func testConfig() *config.Config {
	cfg := config.Cfg().Clone()
	cfg.World.Width, cfg.World.Height = 10, 10
	cfg.Population.Initial = 4
	cfg.Population.GenomeLength = 8
	cfg.Population.PredatorShare = 0.5
	cfg.Derived.FoundersPred = 2
	cfg.Groups.InitialGroups = 2
	cfg.Scheduler.Workers = 1
	cfg.Telemetry.StatsWindow = 5
	cfg.Storage.SnapshotInterval = 0
	return cfg
}

func newSim(t *testing.T, cfg *config.Config, opts Options) *Sim {
	t.Helper()
	s, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewSpawnsFounders(t *testing.T) {
	s := newSim(t, testConfig(), Options{Seed: 1})

	c := s.Engine().Counts()
	if c.Population != 4 || c.Prey != 2 || c.Predators != 2 {
		t.Errorf("Counts = %+v, want 4 founders, 2 predators", c)
	}
	sizes := map[int]int{}
	for _, g := range s.Engine().GroupSnapshot() {
		sizes[g.ID] = g.Size
	}
	if sizes[0] != 2 || sizes[1] != 2 {
		t.Errorf("group sizes = %v, want 2 in each of groups 0 and 1", sizes)
	}
	if err := s.Engine().Check(); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestNewRejectsOvercrowdedFounders(t *testing.T) {
	cfg := testConfig()
	cfg.World.Width, cfg.World.Height = 1, 2
	if _, err := New(cfg, Options{Seed: 1}); err == nil {
		t.Error("New accepted more founders than slots")
	}
}

func TestRunWritesOutput(t *testing.T) {
	dir := t.TempDir()
	var windows []telemetry.WindowStats
	s := newSim(t, testConfig(), Options{
		Seed:          3,
		OutputDir:     dir,
		StatsCallback: func(w telemetry.WindowStats) { windows = append(windows, w) },
	})

	if err := s.Run(context.Background(), 20); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Update() != 20 {
		t.Errorf("Update = %d, want 20", s.Update())
	}
	if len(windows) != 4 {
		t.Fatalf("windows = %d, want 4", len(windows))
	}
	if windows[3].WindowStart != 15 || windows[3].WindowEnd != 20 {
		t.Errorf("last window = [%d, %d], want [15, 20]", windows[3].WindowStart, windows[3].WindowEnd)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var rows []telemetry.WindowStats
	if err := gocsv.UnmarshalFile(mustOpen(t, filepath.Join(dir, "telemetry.csv")), &rows); err != nil {
		t.Fatalf("reading telemetry.csv: %v", err)
	}
	if len(rows) != 4 {
		t.Errorf("telemetry rows = %d, want 4", len(rows))
	}
	for _, name := range []string{"perf.csv", "groups.csv", "config.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func mustOpen(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestRunIsDeterministic(t *testing.T) {
	run := func() any {
		s := newSim(t, testConfig(), Options{Seed: 11})
		if err := s.Run(context.Background(), 15); err != nil {
			t.Fatalf("Run: %v", err)
		}
		return s.Engine().Snapshot()
	}
	a, b := run(), run()
	if !reflect.DeepEqual(a, b) {
		t.Error("same seed produced different populations")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newSim(t, testConfig(), Options{Seed: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, 0); err != nil {
		t.Errorf("Run = %v, want nil on cancellation", err)
	}
}

func TestReseedFallsBackToAncestor(t *testing.T) {
	cfg := testConfig()
	cfg.HallOfFame.ReseedCount = 3
	s := newSim(t, cfg, Options{Seed: 1})

	for _, slot := range s.Engine().Grid().OccupiedSlots() {
		s.Engine().KillOrganism(slot)
	}
	s.reseedIfExtinct()

	if got := s.Engine().Counts().Population; got != 3 {
		t.Errorf("Population = %d, want 3", got)
	}
}

func TestReseedFromHall(t *testing.T) {
	cfg := testConfig()
	cfg.HallOfFame.ReseedCount = 2
	s := newSim(t, cfg, Options{Seed: 1})

	proven := components.Genome{Label: "proven", Sequence: []byte("abcdefgh")}
	s.HallOfFame().Consider(99, proven, &telemetry.LifetimeStats{Children: 5, Role: components.RolePredator}, 10)

	for _, slot := range s.Engine().Grid().OccupiedSlots() {
		s.Engine().KillOrganism(slot)
	}
	s.reseedIfExtinct()

	c := s.Engine().Counts()
	if c.Population != 2 || c.Predators != 2 {
		t.Errorf("Counts = %+v, want 2 predators from the hall", c)
	}
	for _, org := range s.Engine().LiveOrganisms() {
		if org.Genome.Label != "proven" {
			t.Errorf("genome = %q, want proven", org.Genome.Label)
		}
	}
}

func TestReseedSkipsLivePopulation(t *testing.T) {
	cfg := testConfig()
	cfg.HallOfFame.ReseedCount = 3
	s := newSim(t, cfg, Options{Seed: 1})
	s.reseedIfExtinct()
	if got := s.Engine().Counts().Population; got != 4 {
		t.Errorf("Population = %d, want the 4 founders untouched", got)
	}
}

func TestSnapshotIntervalAndRestore(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.SnapshotInterval = 5
	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	s := newSim(t, cfg, Options{Seed: 5, SnapshotDir: dir, Metrics: metrics})
	if err := s.Run(context.Background(), 10); err != nil {
		t.Fatalf("Run: %v", err)
	}

	keys, err := store.NewDirStore(dir).List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"snapshot_10", "snapshot_5"}) {
		t.Errorf("snapshots = %v, want [snapshot_10 snapshot_5]", keys)
	}
	if got := testutil.ToFloat64(metrics.SnapshotsStored.WithLabelValues("dir")); got != 2 {
		t.Errorf("snapshots stored = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.Update); got != 10 {
		t.Errorf("update gauge = %v, want 10", got)
	}

	want := s.Engine().Snapshot()
	if err := s.Run(context.Background(), 13); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := s.Restore(context.Background(), "snapshot_10"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := s.Engine().Snapshot(); !reflect.DeepEqual(got, want) {
		t.Error("restored population differs from the one saved at update 10")
	}
}

func TestRestoreWithoutStores(t *testing.T) {
	s := newSim(t, testConfig(), Options{Seed: 1})
	if err := s.Restore(context.Background(), "snapshot_1"); err == nil {
		t.Error("Restore succeeded with no stores")
	}
}
