package main

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pthm-cable/digipop/config"
	"github.com/pthm-cable/digipop/sim"
	"github.com/pthm-cable/digipop/store"
	"github.com/pthm-cable/digipop/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	statsWindow := flag.Int("stats-window", 0, "Stats window size in updates (0 = use config)")
	snapshotDir := flag.String("snapshot-dir", "", "Directory for snapshot files")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	dbPath := flag.String("db", "", "SQLite database for snapshots and stats windows (overrides storage.sqlite_path)")
	restore := flag.String("restore", "", "Snapshot key to restore before running")
	seed := flag.Uint64("seed", 0, "RNG seed (0 = random)")
	maxUpdates := flag.Int("max-updates", 0, "Stop after N updates (0 = unlimited)")
	workers := flag.Int("workers", 0, "Execution workers (0 = use config)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(runOptions{
		configPath:  *configPath,
		logStats:    *logStats,
		statsWindow: *statsWindow,
		snapshotDir: *snapshotDir,
		outputDir:   *outputDir,
		dbPath:      *dbPath,
		restore:     *restore,
		seed:        *seed,
		maxUpdates:  *maxUpdates,
		workers:     *workers,
		metricsAddr: *metricsAddr,
	}); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	configPath  string
	logStats    bool
	statsWindow int
	snapshotDir string
	outputDir   string
	dbPath      string
	restore     string
	seed        uint64
	maxUpdates  int
	workers     int
	metricsAddr string
}

func run(o runOptions) error {
	// Initialize config before anything else
	if err := config.Init(o.configPath); err != nil {
		return err
	}
	cfg := config.Cfg()
	if o.statsWindow > 0 {
		cfg.Telemetry.StatsWindow = o.statsWindow
	}
	if o.workers > 0 {
		cfg.Scheduler.Workers = o.workers
	}
	if o.dbPath != "" {
		cfg.Storage.SQLitePath = o.dbPath
	}

	rngSeed := o.seed
	if rngSeed == 0 {
		var err error
		if rngSeed, err = newSeed(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "digipop")
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	var metrics *telemetry.Metrics
	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		srv := serveMetrics(o.metricsAddr, reg)
		defer func() { _ = srv.Close() }()
	}

	stores, err := store.Open(ctx, cfg.Storage, "")
	if err != nil {
		return err
	}

	s, err := sim.New(cfg, sim.Options{
		Seed:        rngSeed,
		LogStats:    o.logStats,
		OutputDir:   o.outputDir,
		SnapshotDir: o.snapshotDir,
		Stores:      stores,
		Metrics:     metrics,
	})
	if err != nil {
		_ = stores.Close()
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			slog.Error("close", "error", err)
		}
	}()

	if o.restore != "" {
		if err := s.Restore(ctx, o.restore); err != nil {
			return err
		}
	}

	slog.Info("starting simulation",
		"seed", rngSeed,
		"width", cfg.World.Width,
		"height", cfg.World.Height,
		"scheduler", cfg.Scheduler.Method,
		"birth_method", cfg.Birth.Method,
		"workers", cfg.Scheduler.Workers,
		"max_updates", o.maxUpdates,
	)
	return s.Run(ctx, o.maxUpdates)
}

func serveMetrics(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return srv
}

// newSeed draws a run seed from crypto/rand.
func newSeed() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
