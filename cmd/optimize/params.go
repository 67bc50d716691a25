package main

import (
	"github.com/pthm-cable/digipop/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of optimizable parameters.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			// CPU
			{Name: "mutation_rate", Path: "cpu.mutation_rate", Min: 0.0005, Max: 0.05, Default: 0.0075},
			{Name: "resource_demand", Path: "cpu.resource_demand", Min: 0.01, Max: 0.5, Default: 0.1},
			{Name: "merit_per_unit", Path: "cpu.merit_per_unit", Min: 0.0, Max: 2.0, Default: 0.5},
			{Name: "role_switch_rate", Path: "cpu.role_switch_rate", Min: 0.0, Max: 0.05, Default: 0.01},
			{Name: "max_age", Path: "cpu.max_age", Min: 20, Max: 500, Default: 100},
			// Resources
			{Name: "inflow", Path: "resources.inflow", Min: 0.005, Max: 0.2, Default: 0.05},
			{Name: "outflow", Path: "resources.outflow", Min: 0.0, Max: 0.1, Default: 0.01},
			{Name: "diffusion", Path: "resources.diffusion", Min: 0.0, Max: 0.25, Default: 0.1},
			// Scheduling
			{Name: "ave_time_slice", Path: "scheduler.ave_time_slice", Min: 10, Max: 100, Default: 30},
			// Groups
			{Name: "variance_weight", Path: "groups.variance_weight", Min: 0.0, Max: 2.0, Default: 0.0},
			// Founders
			{Name: "predator_share", Path: "population.predator_share", Min: 0.0, Max: 0.5, Default: 0.2},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config struct.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)

	// Order must match Specs order
	i := 0
	next := func() float64 {
		v := clamped[i]
		i++
		return v
	}

	cfg.CPU.MutationRate = next()
	cfg.CPU.ResourceDemand = next()
	cfg.CPU.MeritPerUnit = next()
	cfg.CPU.RoleSwitchRate = next()
	cfg.CPU.MaxAge = int(next())

	cfg.Resources.Inflow = next()
	cfg.Resources.Outflow = next()
	cfg.Resources.Diffusion = next()

	cfg.Scheduler.AveTimeSlice = int(next())

	cfg.Groups.VarianceWeight = next()

	cfg.Population.PredatorShare = next()
	cfg.Derived.FoundersPred = int(float64(cfg.Population.Initial) * cfg.Population.PredatorShare)
}

// ExtractFromConfig extracts current parameter values from a Config struct.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	return []float64{
		cfg.CPU.MutationRate,
		cfg.CPU.ResourceDemand,
		cfg.CPU.MeritPerUnit,
		cfg.CPU.RoleSwitchRate,
		float64(cfg.CPU.MaxAge),
		cfg.Resources.Inflow,
		cfg.Resources.Outflow,
		cfg.Resources.Diffusion,
		float64(cfg.Scheduler.AveTimeSlice),
		cfg.Groups.VarianceWeight,
		cfg.Population.PredatorShare,
	}
}
