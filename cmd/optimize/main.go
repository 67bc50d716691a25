// Command optimize searches engine parameters with CMA-ES for runs that
// keep both prey and predators alive.
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/digipop/config"
)

type options struct {
	configPath string
	maxUpdates int
	seeds      int
	maxEvals   int
	population int
	outputDir  string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Base config YAML file (empty = use defaults)")
	flag.IntVar(&o.maxUpdates, "max-updates", 5000, "Maximum run length in updates (cap)")
	flag.IntVar(&o.seeds, "seeds", 3, "Number of seeds per evaluation")
	flag.IntVar(&o.maxEvals, "max-evals", 200, "Maximum number of evaluations")
	flag.IntVar(&o.population, "population", 0, "CMA-ES population size (0 = auto)")
	flag.StringVar(&o.outputDir, "output", "", "Output directory for results")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := run(o); err != nil {
		slog.Error("optimize failed", "error", err)
		os.Exit(1)
	}
}

func run(o options) error {
	if o.outputDir == "" {
		return errors.New("-output is required")
	}
	if err := os.MkdirAll(o.outputDir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := config.Init(o.configPath); err != nil {
		return err
	}
	baseCfg := config.Cfg()

	params := NewParamVector()
	evaluator := NewFitnessEvaluator(params, o.maxUpdates, evalSeeds(o.seeds), baseCfg)

	tracker, err := newTracker(filepath.Join(o.outputDir, "optimize_log.csv"), params, evaluator, o.maxEvals)
	if err != nil {
		return err
	}
	defer tracker.close()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			raw := params.Denormalize(x)
			fitness := evaluator.Evaluate(raw)
			tracker.record(fitness, params.Clamp(raw))
			return fitness
		},
	}

	method := &optimize.CmaEsChol{
		InitStepSize: 0.3,
		Population:   populationSize(o.population, params.Dim()),
	}
	settings := &optimize.Settings{FuncEvaluations: o.maxEvals}

	slog.Info("starting CMA-ES",
		"params", params.Dim(),
		"population", method.Population,
		"max_evals", o.maxEvals,
		"seeds", o.seeds,
		"max_updates", o.maxUpdates,
	)

	result, err := optimize.Minimize(problem, params.Normalize(params.DefaultVector()), settings, method)
	if err != nil {
		// Budget exhaustion ends the search with an error; the best point is still valid.
		slog.Warn("optimization ended", "error", err)
	}

	best := tracker.bestParams
	if best == nil && result != nil {
		best = params.Clamp(params.Denormalize(result.X))
	}
	if best == nil {
		return errors.New("no evaluations completed")
	}

	slog.Info("optimization complete",
		"evals", tracker.evals,
		"elapsed", time.Since(tracker.start).Round(time.Second),
		"best_fitness", tracker.bestFitness,
	)
	for i, spec := range params.Specs {
		fmt.Printf("  %-18s %.6f\n", spec.Name, best[i])
	}

	return writeResults(o.outputDir, baseCfg, params, best, evaluator)
}

// evalSeeds returns n fixed seeds so every parameter vector sees the same runs.
func evalSeeds(n int) []uint64 {
	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = uint64(i*1000 + 42)
	}
	return seeds
}

// populationSize picks the CMA-ES population, defaulting to 4 + 3n/2.
func populationSize(requested, dim int) int {
	if requested > 0 {
		return requested
	}
	return 4 + 3*dim/2
}

// tracker logs every evaluation to CSV and remembers the best vector.
type tracker struct {
	file      *os.File
	w         *csv.Writer
	evaluator *FitnessEvaluator
	maxEvals  int

	start       time.Time
	evals       int
	bestFitness float64
	bestParams  []float64
}

func newTracker(path string, params *ParamVector, evaluator *FitnessEvaluator, maxEvals int) (*tracker, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}
	w := csv.NewWriter(f)
	header := []string{"eval", "fitness", "quality"}
	for _, spec := range params.Specs {
		header = append(header, spec.Name)
	}
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing log header: %w", err)
	}
	return &tracker{
		file:        f,
		w:           w,
		evaluator:   evaluator,
		maxEvals:    maxEvals,
		start:       time.Now(),
		bestFitness: 1e9,
	}, nil
}

func (t *tracker) record(fitness float64, clamped []float64) {
	t.evals++
	quality := t.evaluator.LastQuality()
	if fitness < t.bestFitness {
		t.bestFitness = fitness
		t.bestParams = append([]float64(nil), clamped...)
	}

	row := []string{
		strconv.Itoa(t.evals),
		strconv.FormatFloat(fitness, 'f', 6, 64),
		strconv.FormatFloat(quality, 'f', 4, 64),
	}
	for _, v := range clamped {
		row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
	}
	if err := t.w.Write(row); err != nil {
		slog.Warn("log row", "error", err)
	}
	t.w.Flush()

	elapsed := time.Since(t.start)
	eta := time.Duration(t.maxEvals-t.evals) * (elapsed / time.Duration(t.evals))
	slog.Info("eval",
		"n", t.evals,
		"survived", int(-fitness/(1.0+0.2*quality)),
		"quality", quality,
		"best", t.bestFitness,
		"elapsed", elapsed.Round(time.Second),
		"eta", eta.Round(time.Second),
	)
}

func (t *tracker) close() {
	t.w.Flush()
	t.file.Close()
}

// writeResults saves the best config and the best run's hall of fame.
func writeResults(dir string, base *config.Config, params *ParamVector, best []float64, evaluator *FitnessEvaluator) error {
	bestCfg := base.Clone()
	params.ApplyToConfig(bestCfg, best)
	cfgPath := filepath.Join(dir, "best_config.yaml")
	if err := bestCfg.WriteYAML(cfgPath); err != nil {
		return err
	}
	slog.Info("best config saved", "path", cfgPath)

	hof := evaluator.BestHallOfFame()
	if hof == nil {
		return nil
	}
	data, err := json.MarshalIndent(hof, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling hall of fame: %w", err)
	}
	hofPath := filepath.Join(dir, "hall_of_fame.json")
	if err := os.WriteFile(hofPath, data, 0644); err != nil {
		return fmt.Errorf("writing hall of fame: %w", err)
	}
	slog.Info("hall of fame saved", "path", hofPath)
	return nil
}
