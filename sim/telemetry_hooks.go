package sim

import (
	"context"
	"log/slog"

	"github.com/pthm-cable/digipop/systems"
	"github.com/pthm-cable/digipop/telemetry"
)

// flushTelemetry checks if the stats window should be flushed and handles
// bookmarks.
func (s *Sim) flushTelemetry(ctx context.Context) {
	update := s.engine.Update()
	if !s.collector.ShouldFlush(update) {
		return
	}

	groups := s.engine.GroupSnapshot()
	stats := s.collector.Flush(update, s.sample(groups))
	perfStats := s.perfCollector.Stats()

	if s.statsCallback != nil {
		s.statsCallback(stats)
	}

	if s.logStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	if s.outputManager != nil {
		if err := s.outputManager.WriteTelemetry(stats); err != nil {
			slog.Error("failed to write telemetry", "error", err)
		}
		if err := s.outputManager.WritePerf(perfStats, stats.WindowEnd); err != nil {
			slog.Error("failed to write perf", "error", err)
		}
		if err := s.outputManager.WriteGroups(update, groups); err != nil {
			slog.Error("failed to write groups", "error", err)
		}
	}
	if s.windows != nil {
		if err := s.windows.SaveWindows(ctx, stats); err != nil {
			slog.Error("failed to store window", "error", err)
		}
	}

	for _, bm := range s.bookmarkDetector.Check(stats) {
		if s.logStats {
			bm.LogBookmark()
		}
		if s.outputManager != nil {
			if err := s.outputManager.WriteBookmark(bm); err != nil {
				slog.Error("failed to write bookmark", "error", err)
			}
		}
		s.saveSnapshot(ctx, &bm)
	}

	s.reseedIfExtinct()
}

// sample observes the population for a window flush.
func (s *Sim) sample(groups []systems.GroupInfo) telemetry.Sample {
	live := s.engine.LiveOrganisms()
	sm := telemetry.Sample{
		Counts:         s.engine.Counts(),
		Merits:         make([]float64, len(live)),
		Generations:    make([]int, len(live)),
		ActiveLineages: s.lifetimeTracker.ActiveLineageCount(),
	}
	for i, org := range live {
		sm.Merits[i] = org.Merit
		sm.Generations[i] = org.Generation
	}
	for _, g := range groups {
		if g.Size > 0 {
			sm.GroupSizes = append(sm.GroupSizes, g.Size)
		}
	}
	if s.pool != nil {
		for r := range s.pool.Count() {
			sm.ResourceTotal += s.pool.Total(r)
		}
	}
	return sm
}

// saveSnapshot writes the current state to every configured store.
func (s *Sim) saveSnapshot(ctx context.Context, bookmark *telemetry.Bookmark) {
	if len(s.stores) == 0 {
		return
	}
	s.perfCollector.StartPhase(systems.PhaseSnapshot)
	snapshot := telemetry.NewSnapshot(s.seed, s.engine, s.lifetimeTracker, bookmark)

	keys, err := s.stores.Save(ctx, snapshot)
	if err != nil {
		slog.Error("failed to save snapshot", "error", err)
	}
	for backend, key := range keys {
		s.metrics.ObserveSnapshot(backend)
		slog.Info("snapshot saved", "store", backend, "key", key, "update", snapshot.Population.Update)
	}
}
