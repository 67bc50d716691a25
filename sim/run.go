package sim

import (
	"context"
	"log/slog"
	"time"

	"github.com/pthm-cable/digipop/population"
	"github.com/pthm-cable/digipop/systems"
)

// Step runs one update and the hooks that follow it.
func (s *Sim) Step(ctx context.Context) (population.UpdateReport, error) {
	start := time.Now()
	s.perfCollector.StartUpdate()
	defer s.perfCollector.EndUpdate()
	r, err := s.engine.RunUpdate(ctx)
	if err != nil {
		return r, err
	}
	s.perfCollector.StartPhase(systems.PhaseTelemetry)
	s.lastReport = r
	s.collector.RecordUpdate(r)

	if s.metrics != nil {
		s.metrics.ObserveUpdate(r, formedGroups(s.engine), time.Since(start))
	}

	s.flushTelemetry(ctx)

	if interval := s.cfg.Storage.SnapshotInterval; interval > 0 && s.engine.Update()%interval == 0 {
		s.saveSnapshot(ctx, nil)
	}
	return r, nil
}

// Run steps until maxUpdates updates have completed (0 = until ctx is
// done). A cancelled context ends the run without error.
func (s *Sim) Run(ctx context.Context, maxUpdates int) error {
	for maxUpdates <= 0 || s.engine.Update() < maxUpdates {
		if _, err := s.Step(ctx); err != nil {
			if ctx.Err() != nil {
				slog.Info("run cancelled", "update", s.engine.Update())
				return nil
			}
			return err
		}
	}
	slog.Info("max updates reached", "update", s.engine.Update())
	return nil
}

func formedGroups(e *population.Engine) int {
	n := 0
	for _, g := range e.GroupSnapshot() {
		if g.Size > 0 {
			n++
		}
	}
	return n
}
