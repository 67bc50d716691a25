package main

import (
	"math"
	"testing"

	"github.com/pthm-cable/digipop/config"
)

func init() {
	config.MustInit("")
}

func TestNormalizeRoundTrip(t *testing.T) {
	pv := NewParamVector()
	def := pv.DefaultVector()
	back := pv.Denormalize(pv.Normalize(def))
	for i, spec := range pv.Specs {
		if math.Abs(back[i]-def[i]) > 1e-9 {
			t.Errorf("%s = %v, want %v", spec.Name, back[i], def[i])
		}
	}
}

func TestDefaultsWithinBounds(t *testing.T) {
	pv := NewParamVector()
	for _, spec := range pv.Specs {
		if spec.Default < spec.Min || spec.Default > spec.Max {
			t.Errorf("%s default %v outside [%v, %v]", spec.Name, spec.Default, spec.Min, spec.Max)
		}
	}
}

func TestClamp(t *testing.T) {
	pv := NewParamVector()
	low := make([]float64, pv.Dim())
	high := make([]float64, pv.Dim())
	for i := range low {
		low[i] = -1e9
		high[i] = 1e9
	}
	for i, v := range pv.Clamp(low) {
		if v != pv.Specs[i].Min {
			t.Errorf("Clamp(low)[%s] = %v, want %v", pv.Specs[i].Name, v, pv.Specs[i].Min)
		}
	}
	for i, v := range pv.Clamp(high) {
		if v != pv.Specs[i].Max {
			t.Errorf("Clamp(high)[%s] = %v, want %v", pv.Specs[i].Name, v, pv.Specs[i].Max)
		}
	}
}

func TestApplyExtractRoundTrip(t *testing.T) {
	pv := NewParamVector()
	cfg := config.Cfg().Clone()
	cfg.Population.Initial = 10

	values := []float64{0.01, 0.2, 1.0, 0.02, 250, 0.1, 0.05, 0.2, 40, 1.5, 0.3}
	if len(values) != pv.Dim() {
		t.Fatalf("test vector has %d values, want %d", len(values), pv.Dim())
	}
	pv.ApplyToConfig(cfg, values)

	got := pv.ExtractFromConfig(cfg)
	for i, spec := range pv.Specs {
		if math.Abs(got[i]-values[i]) > 1e-9 {
			t.Errorf("%s = %v, want %v", spec.Name, got[i], values[i])
		}
	}
	if cfg.Derived.FoundersPred != 3 {
		t.Errorf("FoundersPred = %d, want 3", cfg.Derived.FoundersPred)
	}
}

func testBaseConfig() *config.Config {
	cfg := config.Cfg().Clone()
	cfg.World.Width, cfg.World.Height = 10, 10
	cfg.Population.Initial = 4
	cfg.Population.GenomeLength = 8
	cfg.Population.PredatorShare = 0.5
	cfg.Groups.InitialGroups = 2
	cfg.Scheduler.Workers = 1
	cfg.Telemetry.StatsWindow = 5
	cfg.Storage.SnapshotInterval = 0
	return cfg
}

func TestPopulationSize(t *testing.T) {
	tests := []struct {
		requested, dim, want int
	}{
		{0, 11, 20},
		{0, 2, 7},
		{12, 11, 12},
	}
	for _, tt := range tests {
		if got := populationSize(tt.requested, tt.dim); got != tt.want {
			t.Errorf("populationSize(%d, %d) = %d, want %d", tt.requested, tt.dim, got, tt.want)
		}
	}
}
