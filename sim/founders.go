package sim

import (
	"log/slog"

	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/cpu"
	"github.com/pthm-cable/digipop/population"
)

// spawnFounders injects population.initial ancestors. The first
// Derived.FoundersPred are predators; with groups enabled founders are
// dealt round-robin into groups.initial_groups groups.
func (s *Sim) spawnFounders() error {
	cfg := s.cfg
	ancestor := cpu.Ancestor(cfg.Population.GenomeLength)

	groups := 0
	if cfg.Groups.Enabled {
		groups = cfg.Groups.InitialGroups
	}
	for i := range cfg.Population.Initial {
		opts := population.DefaultInjectOptions()
		if i < cfg.Derived.FoundersPred {
			opts.Role = components.RolePredator
		}
		if groups > 0 {
			opts.GroupID = i % groups
		}
		if _, err := s.engine.Inject(ancestor, opts); err != nil {
			return err
		}
	}
	return nil
}

// reseedIfExtinct refills an empty grid from the hall of fame. Roles are
// taken in order from whichever halls hold genomes; with every hall empty
// the ancestor is injected instead.
func (s *Sim) reseedIfExtinct() {
	count := s.cfg.HallOfFame.ReseedCount
	if count <= 0 || s.engine.Counts().Population > 0 {
		return
	}

	roles := []components.Role{components.RolePrey, components.RolePredator, components.RoleTopPredator}
	reseeded := 0
	for i := 0; reseeded < count && i < count*len(roles); i++ {
		role := roles[i%len(roles)]
		if s.spawnFromHall(role) {
			reseeded++
		}
	}

	if reseeded == 0 {
		slog.Warn("hall_of_fame_empty_fallback",
			"update", s.engine.Update(),
			"message", "no proven lineages yet, injecting the ancestor",
		)
		opts := population.DefaultInjectOptions()
		for range count {
			if _, err := s.engine.Inject(cpu.Ancestor(s.cfg.Population.GenomeLength), opts); err != nil {
				slog.Error("reseed failed", "error", err)
				return
			}
			reseeded++
		}
	}

	slog.Info("hall_of_fame_reseed",
		"update", s.engine.Update(),
		"reseeded_count", reseeded,
	)
}

// spawnFromHall injects a genome sampled from role's hall. Returns false
// when that hall is empty.
func (s *Sim) spawnFromHall(role components.Role) bool {
	if s.hallOfFame == nil {
		return false
	}
	genome, ok := s.hallOfFame.Sample(role)
	if !ok {
		return false
	}
	opts := population.DefaultInjectOptions()
	opts.Role = role
	if _, err := s.engine.Inject(genome, opts); err != nil {
		slog.Error("reseed failed", "role", role.String(), "error", err)
		return false
	}
	return true
}
