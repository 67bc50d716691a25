package main

import (
	"context"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/digipop/config"
	"github.com/pthm-cable/digipop/sim"
	"github.com/pthm-cable/digipop/telemetry"
)

// Functional extinction: a role below minViablePop for extinctionGrace
// consecutive updates after warmup ends the run.
const (
	minViablePop    = 3
	extinctionGrace = 200
	warmupUpdates   = 50
)

// FitnessEvaluator scores a parameter vector by running the engine headless
// once per seed. Lower scores are better.
type FitnessEvaluator struct {
	params     *ParamVector
	maxUpdates int
	seeds      []uint64
	base       *config.Config

	mu       sync.Mutex
	best     float64
	bestHall *telemetry.HallOfFame
	quality  float64
}

func NewFitnessEvaluator(params *ParamVector, maxUpdates int, seeds []uint64, base *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:     params,
		maxUpdates: maxUpdates,
		seeds:      seeds,
		base:       base,
		best:       math.Inf(1),
	}
}

// BestHallOfFame returns the genome archive of the best-scoring seed of the
// best-scoring vector seen so far.
func (fe *FitnessEvaluator) BestHallOfFame() *telemetry.HallOfFame {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.bestHall
}

// LastQuality is the mean quality of the latest Evaluate call.
func (fe *FitnessEvaluator) LastQuality() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.quality
}

// runResult is the outcome of one seeded run.
type runResult struct {
	survivalUpdates int
	windowStats     []telemetry.WindowStats
	hallOfFame      *telemetry.HallOfFame
}

func (r *runResult) fitness() float64 { return computeFitness(r) }

// Evaluate runs every seed in parallel and returns the mean fitness.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	runs := make([]*runResult, len(fe.seeds))
	var wg sync.WaitGroup
	for i, seed := range fe.seeds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runs[i] = fe.runSimulation(x, seed)
		}()
	}
	wg.Wait()

	mean, quality, bestRun := aggregate(runs)

	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.quality = quality
	if mean < fe.best {
		fe.best = mean
		fe.bestHall = bestRun.hallOfFame
	}
	return mean
}

// aggregate averages fitness and quality over runs and picks the best run.
func aggregate(runs []*runResult) (meanFitness, meanQuality float64, best *runResult) {
	bestFitness := math.Inf(1)
	for _, r := range runs {
		f := r.fitness()
		meanFitness += f
		meanQuality += computeQuality(r.windowStats)
		if f < bestFitness {
			bestFitness, best = f, r
		}
	}
	n := float64(len(runs))
	return meanFitness / n, meanQuality / n, best
}

// runSimulation executes one headless run until functional extinction or
// maxUpdates. Hall-of-fame reseeding is disabled so extinctions count.
func (fe *FitnessEvaluator) runSimulation(x []float64, seed uint64) *runResult {
	cfg := fe.base.Clone()
	fe.params.ApplyToConfig(cfg, x)
	cfg.HallOfFame.ReseedCount = 0

	result := &runResult{}
	s, err := sim.New(cfg, sim.Options{
		Seed: seed,
		StatsCallback: func(stats telemetry.WindowStats) {
			result.windowStats = append(result.windowStats, stats)
		},
	})
	if err != nil {
		return result
	}
	defer func() { _ = s.Close() }()
	result.hallOfFame = s.HallOfFame()

	ctx := context.Background()
	var preyLow, predLow int
	for s.Update() < fe.maxUpdates {
		if _, err := s.Step(ctx); err != nil {
			break
		}
		if s.Update() < warmupUpdates {
			continue
		}

		c := s.Engine().Counts()
		predators := c.Predators + c.TopPredators
		if c.Prey == 0 || predators == 0 {
			break
		}
		preyLow = lowStreak(c.Prey, preyLow)
		predLow = lowStreak(predators, predLow)
		if preyLow >= extinctionGrace || predLow >= extinctionGrace {
			break
		}
	}
	result.survivalUpdates = s.Update()
	return result
}

func lowStreak(pop, streak int) int {
	if pop < minViablePop {
		return streak + 1
	}
	return 0
}

// computeFitness is -(survival × (1 + 0.2 × quality)). Quality only
// separates runs of similar length.
func computeFitness(r *runResult) float64 {
	return -(float64(r.survivalUpdates) * (1.0 + 0.2*computeQuality(r.windowStats)))
}

const (
	weightRatio     = 0.30
	weightStability = 0.25
	weightTurnover  = 0.25
	weightGroups    = 0.20

	skipWindows       = 3
	minRolePop        = 3
	targetPreyPerPred = 4.0
)

// computeQuality scores the ecosystem in [0, 1]: closeness to the target
// prey/predator ratio, low population variation, birth turnover and the
// rate at which offspring stay in their parent's group.
func computeQuality(windows []telemetry.WindowStats) float64 {
	if len(windows) <= skipWindows {
		return 0
	}

	var ratio, turnover, retention float64
	var counted, retained int
	var prey, pred []float64
	for _, w := range windows[skipWindows:] {
		predators := w.Predators + w.TopPredators
		if w.Prey < minRolePop || predators < minRolePop {
			continue
		}
		prey = append(prey, float64(w.Prey))
		pred = append(pred, float64(predators))

		logErr := math.Log(float64(w.Prey) / float64(predators) / targetPreyPerPred)
		ratio += math.Exp(-logErr * logErr)
		turnover += 1.0 - math.Exp(-float64(w.Births)/float64(w.Population))
		if total := w.RetentionAccepted + w.RetentionRejected; total > 0 {
			retention += float64(w.RetentionAccepted) / float64(total)
			retained++
		}
		counted++
	}
	if counted == 0 {
		return 0
	}

	stability := 0.0
	if counted >= 2 {
		a, b := cv(prey), cv(pred)
		stability = math.Exp(-(a*a + b*b))
	}
	groups := 0.0
	if retained > 0 {
		groups = retention / float64(retained)
	}

	n := float64(counted)
	q := weightRatio*ratio/n +
		weightStability*stability +
		weightTurnover*turnover/n +
		weightGroups*groups
	return min(max(q, 0), 1)
}

// cv is the population coefficient of variation of values.
func cv(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	if mean == 0 {
		return 0
	}
	return std / mean
}
