package telemetry

import (
	"log/slog"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a window of updates.
type WindowStats struct {
	WindowStart int `csv:"-"`
	WindowEnd   int `csv:"window_end"`

	// Population counts at window end
	Population   int `csv:"population"`
	Prey         int `csv:"prey"`
	Predators    int `csv:"pred"`
	TopPredators int `csv:"top_pred"`

	// Lifecycle events during window
	Births            int `csv:"births"`
	Deaths            int `csv:"deaths"`
	DeathsAge         int `csv:"deaths_age"`
	DeathsCPU         int `csv:"deaths_cpu"`
	Evictions         int `csv:"evictions"`
	PlacementFailures int `csv:"placement_failures"`
	Injections        int `csv:"injections"`
	RoleChanges       int `csv:"role_changes"`

	// Scheduling
	Cycles      int64   `csv:"cycles"`
	Steps       int     `csv:"steps"`
	IdleUpdates int     `csv:"idle_updates"`
	BudgetUsed  float64 `csv:"budget_used"` // cycles / budget over the window

	// Group admission
	ImmigrationAccepted int `csv:"immigration_accepted"`
	ImmigrationRejected int `csv:"immigration_rejected"`
	RetentionAccepted   int `csv:"retention_accepted"`
	RetentionRejected   int `csv:"retention_rejected"`

	// Merit distribution (sampled at window end)
	MeritMean float64 `csv:"merit_mean"`
	MeritStd  float64 `csv:"merit_std"`
	MeritP10  float64 `csv:"merit_p10"`
	MeritP50  float64 `csv:"merit_p50"`
	MeritP90  float64 `csv:"merit_p90"`

	// Lineage
	GenerationMean float64 `csv:"generation_mean"`
	GenerationMax  int     `csv:"generation_max"`
	ActiveLineages int     `csv:"active_lineages"`
	LifespanMean   float64 `csv:"lifespan_mean"` // updates lived by organisms that died in the window

	// Groups
	Groups        int     `csv:"groups"`
	GroupSizeMean float64 `csv:"group_size_mean"`
	GroupSizeStd  float64 `csv:"group_size_std"`
	GroupSizeMax  int     `csv:"group_size_max"`

	ResourceTotal float64 `csv:"resource_total"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeDistribution returns the population mean and standard deviation
// of values together with its 10th, 50th and 90th percentiles.
func ComputeDistribution(values []float64) (mean, std, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0, 0
	}
	mean, std = stat.PopMeanStdDev(values, nil)

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, std, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", s.WindowStart),
		slog.Int("window_end", s.WindowEnd),
		slog.Int("population", s.Population),
		slog.Int("prey", s.Prey),
		slog.Int("pred", s.Predators),
		slog.Int("top_pred", s.TopPredators),
		slog.Int("births", s.Births),
		slog.Int("deaths", s.Deaths),
		slog.Int("evictions", s.Evictions),
		slog.Int("placement_failures", s.PlacementFailures),
		slog.Int64("cycles", s.Cycles),
		slog.Int("steps", s.Steps),
		slog.Float64("budget_used", s.BudgetUsed),
		slog.Float64("merit_mean", s.MeritMean),
		slog.Float64("merit_p50", s.MeritP50),
		slog.Float64("generation_mean", s.GenerationMean),
		slog.Int("active_lineages", s.ActiveLineages),
		slog.Int("groups", s.Groups),
		slog.Float64("group_size_mean", s.GroupSizeMean),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEnd,
		"population", s.Population,
		"prey", s.Prey,
		"pred", s.Predators,
		"top_pred", s.TopPredators,
		"births", s.Births,
		"deaths", s.Deaths,
		"deaths_age", s.DeathsAge,
		"deaths_cpu", s.DeathsCPU,
		"evictions", s.Evictions,
		"placement_failures", s.PlacementFailures,
		"role_changes", s.RoleChanges,
		"cycles", s.Cycles,
		"steps", s.Steps,
		"idle_updates", s.IdleUpdates,
		"budget_used", s.BudgetUsed,
		"immigration_accepted", s.ImmigrationAccepted,
		"immigration_rejected", s.ImmigrationRejected,
		"retention_accepted", s.RetentionAccepted,
		"retention_rejected", s.RetentionRejected,
		"merit_mean", s.MeritMean,
		"merit_std", s.MeritStd,
		"merit_p10", s.MeritP10,
		"merit_p50", s.MeritP50,
		"merit_p90", s.MeritP90,
		"generation_mean", s.GenerationMean,
		"generation_max", s.GenerationMax,
		"active_lineages", s.ActiveLineages,
		"lifespan_mean", s.LifespanMean,
		"groups", s.Groups,
		"group_size_mean", s.GroupSizeMean,
		"group_size_std", s.GroupSizeStd,
		"group_size_max", s.GroupSizeMax,
		"resource_total", s.ResourceTotal,
	)
}
