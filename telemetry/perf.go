package telemetry

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/digipop/systems"
)

// PerfCollector times update phases over a rolling window of updates.
// Phases are kept in registry order; an ID the registry does not know is
// appended under systems.CategoryOther the first time it is started.
type PerfCollector struct {
	phases []systems.PhaseInfo
	index  map[string]int

	windowSize  int
	updates     []time.Duration   // ring of update wall times
	phaseTimes  [][]time.Duration // ring of per-phase times, indexed like phases
	writeIndex  int
	sampleCount int

	current     []time.Duration
	updateStart time.Time
	phaseStart  time.Time
	lastPhase   int // index into phases, -1 between phases
}

// NewPerfCollector creates a collector averaging over the last windowSize
// updates. A nil registry uses systems.DefaultPhases.
func NewPerfCollector(windowSize int, reg *systems.PhaseRegistry) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	if reg == nil {
		reg = systems.DefaultPhases()
	}
	p := &PerfCollector{
		index:      make(map[string]int),
		windowSize: windowSize,
		updates:    make([]time.Duration, windowSize),
		phaseTimes: make([][]time.Duration, windowSize),
		lastPhase:  -1,
	}
	for _, info := range reg.All() {
		p.addPhase(info)
	}
	return p
}

func (p *PerfCollector) addPhase(info systems.PhaseInfo) int {
	i := len(p.phases)
	p.index[info.ID] = i
	p.phases = append(p.phases, info)
	p.current = append(p.current, 0)
	return i
}

func (p *PerfCollector) phaseIndex(id string) int {
	if i, ok := p.index[id]; ok {
		return i
	}
	return p.addPhase(systems.PhaseInfo{ID: id, Name: id, Category: systems.CategoryOther})
}

// StartUpdate begins timing a new update.
func (p *PerfCollector) StartUpdate() {
	p.updateStart = time.Now()
	clear(p.current)
	p.lastPhase = -1
}

// StartPhase ends the running phase, if any, and begins timing phase.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	p.closePhase(now)
	p.lastPhase = p.phaseIndex(phase)
	p.phaseStart = now
}

func (p *PerfCollector) closePhase(now time.Time) {
	if p.lastPhase >= 0 {
		p.current[p.lastPhase] += now.Sub(p.phaseStart)
	}
}

// EndUpdate finishes timing the current update and records the sample.
func (p *PerfCollector) EndUpdate() {
	now := time.Now()
	p.closePhase(now)
	p.lastPhase = -1

	p.updates[p.writeIndex] = now.Sub(p.updateStart)
	p.phaseTimes[p.writeIndex] = append(p.phaseTimes[p.writeIndex][:0], p.current...)
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// PhaseStat is the windowed average of one phase.
type PhaseStat struct {
	ID       string
	Name     string
	Category string
	Avg      time.Duration
	Pct      float64 // of the average update
}

// CategoryStat sums the phases of one category.
type CategoryStat struct {
	Category string
	Avg      time.Duration
	Pct      float64
}

// PerfStats holds aggregated performance statistics.
type PerfStats struct {
	AvgUpdateDuration time.Duration
	MinUpdateDuration time.Duration
	MaxUpdateDuration time.Duration
	P95UpdateDuration time.Duration
	UpdatesPerSecond  float64

	// Phases that took time in the window, in registry order.
	Phases []PhaseStat
	// Categories of those phases, in order of first use.
	Categories []CategoryStat
}

// Stats computes aggregated statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	if p.sampleCount == 0 {
		return PerfStats{}
	}
	n := time.Duration(p.sampleCount)

	secs := make([]float64, p.sampleCount)
	var total time.Duration
	sums := make([]time.Duration, len(p.phases))
	for i := range p.sampleCount {
		total += p.updates[i]
		secs[i] = p.updates[i].Seconds()
		for k, d := range p.phaseTimes[i] {
			sums[k] += d
		}
	}
	slices.Sort(secs)

	s := PerfStats{
		AvgUpdateDuration: total / n,
		MinUpdateDuration: seconds(secs[0]),
		MaxUpdateDuration: seconds(secs[len(secs)-1]),
		P95UpdateDuration: seconds(stat.Quantile(0.95, stat.Empirical, secs, nil)),
	}
	if s.AvgUpdateDuration > 0 {
		s.UpdatesPerSecond = float64(time.Second) / float64(s.AvgUpdateDuration)
	}

	catIndex := make(map[string]int)
	for k, info := range p.phases {
		if sums[k] == 0 {
			continue
		}
		ps := PhaseStat{ID: info.ID, Name: info.Name, Category: info.Category, Avg: sums[k] / n}
		ps.Pct = s.share(ps.Avg)
		s.Phases = append(s.Phases, ps)

		c, ok := catIndex[info.Category]
		if !ok {
			c = len(s.Categories)
			catIndex[info.Category] = c
			s.Categories = append(s.Categories, CategoryStat{Category: info.Category})
		}
		s.Categories[c].Avg += ps.Avg
	}
	for c := range s.Categories {
		s.Categories[c].Pct = s.share(s.Categories[c].Avg)
	}
	return s
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// share is d as a percentage of the average update.
func (s PerfStats) share(d time.Duration) float64 {
	if s.AvgUpdateDuration <= 0 {
		return 0
	}
	return float64(d) / float64(s.AvgUpdateDuration) * 100
}

// PhasePct returns the share of phase id, or 0 if it took no time.
func (s PerfStats) PhasePct(id string) float64 {
	for _, ps := range s.Phases {
		if ps.ID == id {
			return ps.Pct
		}
	}
	return 0
}

// CategoryPct returns the share of category, or 0 if it took no time.
func (s PerfStats) CategoryPct(category string) float64 {
	for _, cs := range s.Categories {
		if cs.Category == category {
			return cs.Pct
		}
	}
	return 0
}

// attrs lists update timings, then category shares, then the phases
// above 0.1%.
func (s PerfStats) attrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.Int64("avg_update_us", s.AvgUpdateDuration.Microseconds()),
		slog.Int64("p95_update_us", s.P95UpdateDuration.Microseconds()),
		slog.Int64("max_update_us", s.MaxUpdateDuration.Microseconds()),
		slog.Int("updates_per_sec", int(s.UpdatesPerSecond)),
	}
	for _, cs := range s.Categories {
		attrs = append(attrs, slog.Float64(cs.Category+"_pct", round1(cs.Pct)))
	}
	for _, ps := range s.Phases {
		if ps.Pct > 0.1 {
			attrs = append(attrs, slog.Float64(ps.ID+"_pct", round1(ps.Pct)))
		}
	}
	return attrs
}

func round1(v float64) float64 { return float64(int(v*10)) / 10 }

// LogStats logs performance statistics.
func (s PerfStats) LogStats() {
	slog.LogAttrs(context.Background(), slog.LevelInfo, "perf", s.attrs()...)
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	return slog.GroupValue(s.attrs()...)
}

// PerfStatsCSV is a flat struct for CSV export of performance stats.
type PerfStatsCSV struct {
	WindowEnd      int     `csv:"window_end"`
	AvgUpdateUS    int64   `csv:"avg_update_us"`
	MinUpdateUS    int64   `csv:"min_update_us"`
	MaxUpdateUS    int64   `csv:"max_update_us"`
	P95UpdateUS    int64   `csv:"p95_update_us"`
	UpdatesPerSec  float64 `csv:"updates_per_sec"`
	CorePct        float64 `csv:"core_pct"`
	LifecyclePct   float64 `csv:"lifecycle_pct"`
	EnvironmentPct float64 `csv:"environment_pct"`
	IOPct          float64 `csv:"io_pct"`
	SchedulePct    float64 `csv:"schedule_pct"`
	ExecutePct     float64 `csv:"execute_pct"`
	ApplyPct       float64 `csv:"apply_pct"`
	PlacementPct   float64 `csv:"placement_pct"`
	AgingPct       float64 `csv:"aging_pct"`
	ResourcesPct   float64 `csv:"resources_pct"`
	StatsPct       float64 `csv:"stats_pct"`
	TracePct       float64 `csv:"trace_pct"`
	TelemetryPct   float64 `csv:"telemetry_pct"`
	SnapshotPct    float64 `csv:"snapshot_pct"`
}

// ToCSV converts PerfStats to a flat CSV-friendly struct.
func (s PerfStats) ToCSV(windowEnd int) PerfStatsCSV {
	return PerfStatsCSV{
		WindowEnd:      windowEnd,
		AvgUpdateUS:    s.AvgUpdateDuration.Microseconds(),
		MinUpdateUS:    s.MinUpdateDuration.Microseconds(),
		MaxUpdateUS:    s.MaxUpdateDuration.Microseconds(),
		P95UpdateUS:    s.P95UpdateDuration.Microseconds(),
		UpdatesPerSec:  s.UpdatesPerSecond,
		CorePct:        s.CategoryPct(systems.CategoryCore),
		LifecyclePct:   s.CategoryPct(systems.CategoryLifecycle),
		EnvironmentPct: s.CategoryPct(systems.CategoryEnvironment),
		IOPct:          s.CategoryPct(systems.CategoryIO),
		SchedulePct:    s.PhasePct(systems.PhaseSchedule),
		ExecutePct:     s.PhasePct(systems.PhaseExecute),
		ApplyPct:       s.PhasePct(systems.PhaseApply),
		PlacementPct:   s.PhasePct(systems.PhasePlacement),
		AgingPct:       s.PhasePct(systems.PhaseAging),
		ResourcesPct:   s.PhasePct(systems.PhaseResources),
		StatsPct:       s.PhasePct(systems.PhaseStats),
		TracePct:       s.PhasePct(systems.PhaseTrace),
		TelemetryPct:   s.PhasePct(systems.PhaseTelemetry),
		SnapshotPct:    s.PhasePct(systems.PhaseSnapshot),
	}
}
