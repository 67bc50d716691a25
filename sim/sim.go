// Package sim runs a population experiment: it wires the engine to the
// reference CPU and resource pool, seeds founders, and drives the
// telemetry, snapshot and metrics hooks between updates.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"go.opentelemetry.io/otel/trace"

	"github.com/pthm-cable/digipop/config"
	"github.com/pthm-cable/digipop/cpu"
	"github.com/pthm-cable/digipop/population"
	"github.com/pthm-cable/digipop/store"
	"github.com/pthm-cable/digipop/systems"
	"github.com/pthm-cable/digipop/telemetry"
)

// Options configures a Sim.
type Options struct {
	Seed        uint64
	LogStats    bool   // log window and perf stats through slog
	OutputDir   string // CSV output; empty disables
	SnapshotDir string // JSON snapshots on bookmarks; empty disables

	// Stores receive snapshots in addition to SnapshotDir. A SQLite store
	// in the list also records every flushed window.
	Stores store.Multi

	Metrics *telemetry.Metrics
	Tracer  trace.Tracer

	// CPU overrides the reference replicator.
	CPU population.CPU

	// StatsCallback is called with each flushed window.
	StatsCallback func(telemetry.WindowStats)
}

// Sim holds the complete experiment state.
type Sim struct {
	cfg    *config.Config
	engine *population.Engine
	pool   *systems.ResourcePool
	seed   uint64
	rng    *rand.Rand

	collector        *telemetry.Collector
	perfCollector    *telemetry.PerfCollector
	lifetimeTracker  *telemetry.LifetimeTracker
	hallOfFame       *telemetry.HallOfFame
	bookmarkDetector *telemetry.BookmarkDetector
	outputManager    *telemetry.OutputManager
	metrics          *telemetry.Metrics

	stores        store.Multi
	windows       *store.SQLiteStore
	snapshotDir   string
	logStats      bool
	statsCallback func(telemetry.WindowStats)

	lastReport population.UpdateReport
}

// New builds the engine from cfg and injects the founders.
func New(cfg *config.Config, opts Options) (*Sim, error) {
	s := &Sim{
		cfg:  cfg,
		seed: opts.Seed,
		// Separate stream so hall sampling never shifts the engine's draws.
		rng: rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x5851f42d4c957f2d)),

		collector:     telemetry.NewCollector(cfg.Telemetry.StatsWindow),
		perfCollector: telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow, nil),
		bookmarkDetector: telemetry.NewBookmarkDetector(
			cfg.Telemetry.BookmarkHistorySize, cfg.Bookmarks),
		metrics:       opts.Metrics,
		stores:        opts.Stores,
		snapshotDir:   opts.SnapshotDir,
		logStats:      opts.LogStats,
		statsCallback: opts.StatsCallback,
	}
	if cfg.HallOfFame.Size > 0 {
		s.hallOfFame = telemetry.NewHallOfFame(cfg.HallOfFame, s.rng)
	}
	s.lifetimeTracker = telemetry.NewLifetimeTracker(s.collector, s.hallOfFame)
	if opts.SnapshotDir != "" {
		s.stores = append(store.Multi{store.NewDirStore(opts.SnapshotDir)}, s.stores...)
	}
	for _, st := range s.stores {
		if sq, ok := st.(*store.SQLiteStore); ok {
			s.windows = sq
		}
	}

	c := opts.CPU
	if c == nil {
		c = cpu.New(cfg.CPU, opts.Seed)
	}
	engine, err := population.New(cfg, population.Options{
		Seed:     opts.Seed,
		CPU:      c,
		Observer: s.lifetimeTracker,
		Perf:     s.perfCollector,
		Tracer:   opts.Tracer,
	})
	if err != nil {
		return nil, err
	}
	s.engine = engine

	if cfg.Resources.Count > 0 {
		s.pool = systems.NewResourcePool(engine.Grid(), cfg.Resources.Count, cfg.Resources.InitialLevel)
		s.pool.SetParams(cfg.Resources.Inflow, cfg.Resources.Outflow, cfg.Resources.Diffusion)
		engine.AttachResources(s.pool)
	}
	engine.AttachStatProvider(s.lifetimeTracker)

	if opts.OutputDir != "" {
		om, err := telemetry.NewOutputManager(opts.OutputDir)
		if err != nil {
			engine.Close()
			return nil, err
		}
		if err := om.WriteConfig(cfg); err != nil {
			slog.Error("failed to write config", "error", err)
		}
		s.outputManager = om
	}

	if err := s.spawnFounders(); err != nil {
		s.engine.Close()
		_ = s.outputManager.Close()
		return nil, fmt.Errorf("seeding founders: %w", err)
	}
	return s, nil
}

// Engine returns the population engine.
func (s *Sim) Engine() *population.Engine { return s.engine }

// Update returns the number of completed updates.
func (s *Sim) Update() int { return s.engine.Update() }

// Seed returns the run seed.
func (s *Sim) Seed() uint64 { return s.seed }

// LastReport returns the report of the most recent update.
func (s *Sim) LastReport() population.UpdateReport { return s.lastReport }

// HallOfFame returns the genome archive, or nil when disabled.
func (s *Sim) HallOfFame() *telemetry.HallOfFame { return s.hallOfFame }

// Lifetimes returns the lifetime tracker.
func (s *Sim) Lifetimes() *telemetry.LifetimeTracker { return s.lifetimeTracker }

// Close writes the hall of fame and releases the engine, output files and
// stores.
func (s *Sim) Close() error {
	var errs []error
	if s.hallOfFame != nil {
		errs = append(errs, s.outputManager.WriteHallOfFame(s.hallOfFame))
	}
	s.engine.Close()
	errs = append(errs, s.outputManager.Close(), s.stores.Close())
	return errors.Join(errs...)
}

// Restore replaces the running state with the snapshot stored under key
// in the first store that has it.
func (s *Sim) Restore(ctx context.Context, key string) error {
	var errs []error
	for _, st := range s.stores {
		snap, err := st.Load(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := snap.Restore(s.engine, s.lifetimeTracker); err != nil {
			return err
		}
		slog.Info("snapshot restored", "store", st.Name(), "key", key, "update", snap.Population.Update)
		return nil
	}
	if len(errs) == 0 {
		return fmt.Errorf("restore %s: no snapshot store configured", key)
	}
	return fmt.Errorf("restore %s: %w", key, errors.Join(errs...))
}
