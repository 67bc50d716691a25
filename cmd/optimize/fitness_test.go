package main

import (
	"testing"

	"github.com/pthm-cable/digipop/telemetry"
)

func steadyWindows(n int) []telemetry.WindowStats {
	out := make([]telemetry.WindowStats, n)
	for i := range out {
		out[i] = telemetry.WindowStats{
			Population:        50,
			Prey:              40,
			Predators:         10,
			Births:            100,
			RetentionAccepted: 3,
			RetentionRejected: 1,
		}
	}
	return out
}

func TestComputeQuality(t *testing.T) {
	collapsed := steadyWindows(6)
	for i := range collapsed {
		collapsed[i].Predators = 0
	}

	tests := []struct {
		name    string
		windows []telemetry.WindowStats
		min     float64
		max     float64
	}{
		{"warmup only", steadyWindows(3), 0, 0},
		{"no predators", collapsed, 0, 0},
		{"steady at target ratio", steadyWindows(8), 0.8, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := computeQuality(tt.windows)
			if q < tt.min || q > tt.max {
				t.Errorf("computeQuality = %v, want in [%v, %v]", q, tt.min, tt.max)
			}
		})
	}
}

func TestComputeFitnessPrefersSurvival(t *testing.T) {
	short := computeFitness(&runResult{survivalUpdates: 100, windowStats: steadyWindows(8)})
	long := computeFitness(&runResult{survivalUpdates: 1000})
	if long >= short {
		t.Errorf("fitness(long) = %v, want < fitness(short) = %v", long, short)
	}
}

func TestCV(t *testing.T) {
	if got := cv([]float64{5, 5, 5}); got != 0 {
		t.Errorf("cv(constant) = %v, want 0", got)
	}
	if got := cv([]float64{0, 0}); got != 0 {
		t.Errorf("cv(zeros) = %v, want 0", got)
	}
	// mean 2, population std 1
	if got := cv([]float64{1, 3}); got != 0.5 {
		t.Errorf("cv = %v, want 0.5", got)
	}
}

func TestRunSimulationCapsAtMaxUpdates(t *testing.T) {
	base := testBaseConfig()
	pv := NewParamVector()
	fe := NewFitnessEvaluator(pv, 20, []uint64{1}, base)

	r := fe.runSimulation(pv.ExtractFromConfig(base), 1)
	if r.survivalUpdates != 20 {
		t.Errorf("survivalUpdates = %d, want 20", r.survivalUpdates)
	}
	if len(r.windowStats) != 4 {
		t.Errorf("windows = %d, want 4", len(r.windowStats))
	}
}
