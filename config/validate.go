package config

import (
	"fmt"

	"github.com/pthm-cable/digipop/simerr"
)

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.World.Width < 1 || c.World.Height < 1 {
		add("world dimensions must be positive, got %dx%d", c.World.Width, c.World.Height)
	}
	switch c.World.Geometry {
	case "torus", "bounded", "clique":
	default:
		add("unknown world.geometry %q", c.World.Geometry)
	}
	if c.World.Neighborhood != 4 && c.World.Neighborhood != 8 {
		add("world.neighborhood must be 4 or 8, got %d", c.World.Neighborhood)
	}

	switch c.Scheduler.Method {
	case "integrated", "probabilistic":
	default:
		add("unknown scheduler.method %q", c.Scheduler.Method)
	}
	if c.Scheduler.AveTimeSlice < 1 {
		add("scheduler.ave_time_slice must be positive, got %d", c.Scheduler.AveTimeSlice)
	}

	switch c.Birth.Scope {
	case "neighborhood", "global":
	default:
		add("unknown birth.scope %q", c.Birth.Scope)
	}
	switch c.Birth.Method {
	case "oldest", "lowest_merit", "random", "empty_only":
	default:
		add("unknown birth.method %q", c.Birth.Method)
	}

	if c.Groups.MaxTolerance < 1 {
		add("groups.max_tolerance must be positive, got %d", c.Groups.MaxTolerance)
	}
	if c.Groups.VarianceWeight < 0 {
		add("groups.variance_weight must be non-negative, got %v", c.Groups.VarianceWeight)
	}

	if c.Population.Initial > c.Derived.Size {
		add("population.initial %d exceeds grid size %d", c.Population.Initial, c.Derived.Size)
	}
	if c.Population.InitialMerit <= 0 {
		add("population.initial_merit must be positive, got %v", c.Population.InitialMerit)
	}
	if c.Population.PredatorShare < 0 || c.Population.PredatorShare > 1 {
		add("population.predator_share must be in [0,1], got %v", c.Population.PredatorShare)
	}

	switch c.Trace.Mode {
	case "random", "prey", "predator":
	default:
		add("unknown trace.mode %q", c.Trace.Mode)
	}

	if len(problems) == 0 {
		return nil
	}
	meta := make(map[string]string, len(problems))
	for i, p := range problems {
		meta[fmt.Sprintf("problem_%d", i)] = p
	}
	return simerr.WithMetadata(simerr.CodeInvalidConfig,
		fmt.Sprintf("config: %d invalid value(s): %s", len(problems), problems[0]), meta)
}
