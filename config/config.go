// Package config provides configuration loading and access for the population engine.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all engine configuration parameters.
type Config struct {
	World      WorldConfig      `yaml:"world" envPrefix:"WORLD_"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Birth      BirthConfig      `yaml:"birth" envPrefix:"BIRTH_"`
	Groups     GroupsConfig     `yaml:"groups" envPrefix:"GROUPS_"`
	Population PopulationConfig `yaml:"population" envPrefix:"POPULATION_"`
	CPU        CPUConfig        `yaml:"cpu" envPrefix:"CPU_"`
	Resources  ResourcesConfig  `yaml:"resources" envPrefix:"RESOURCES_"`
	Trace      TraceConfig      `yaml:"trace" envPrefix:"TRACE_"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Bookmarks  BookmarksConfig  `yaml:"bookmarks"`
	HallOfFame HallOfFameConfig `yaml:"hall_of_fame" envPrefix:"HALL_OF_FAME_"`
	Storage    StorageConfig    `yaml:"storage" envPrefix:"STORAGE_"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// WorldConfig holds grid dimensions and topology.
type WorldConfig struct {
	Width        int    `yaml:"width" env:"WIDTH"`
	Height       int    `yaml:"height" env:"HEIGHT"`
	Geometry     string `yaml:"geometry" env:"GEOMETRY"`         // torus, bounded, clique
	Neighborhood int    `yaml:"neighborhood" env:"NEIGHBORHOOD"` // 4 or 8
}

// SchedulerConfig holds CPU-time allocation parameters.
type SchedulerConfig struct {
	Method       string `yaml:"method" env:"METHOD"`                 // integrated, probabilistic
	AveTimeSlice int    `yaml:"ave_time_slice" env:"AVE_TIME_SLICE"` // cycles per live organism per update
	Quantum      int    `yaml:"quantum" env:"QUANTUM"`               // cycles granted per scheduling decision
	Workers      int    `yaml:"workers" env:"WORKERS"`               // >1 enables batched parallel execution
	BatchSize    int    `yaml:"batch_size" env:"BATCH_SIZE"`         // grants per parallel batch
}

// BirthConfig selects the offspring placement policy.
type BirthConfig struct {
	Scope          string `yaml:"scope" env:"SCOPE"`   // neighborhood, global
	Method         string `yaml:"method" env:"METHOD"` // oldest, lowest_merit, random, empty_only
	PreferEmpty    bool   `yaml:"prefer_empty" env:"PREFER_EMPTY"`
	ParentSurvives bool   `yaml:"parent_survives" env:"PARENT_SURVIVES"`
}

// GroupsConfig holds group registry and tolerance admission parameters.
type GroupsConfig struct {
	Enabled        bool    `yaml:"enabled" env:"ENABLED"`
	MaxTolerance   int     `yaml:"max_tolerance" env:"MAX_TOLERANCE"`
	VarianceWeight float64 `yaml:"variance_weight" env:"VARIANCE_WEIGHT"` // stddev multiplier in the capacity estimate
	InitialGroups  int     `yaml:"initial_groups" env:"INITIAL_GROUPS"`   // founders are spread across this many groups
	InheritGroup   bool    `yaml:"inherit_group" env:"INHERIT_GROUP"`     // offspring attempt to join the parent's group
}

// PopulationConfig holds founder parameters.
type PopulationConfig struct {
	Initial       int     `yaml:"initial" env:"INITIAL"`
	InitialMerit  float64 `yaml:"initial_merit" env:"INITIAL_MERIT"`
	GenomeLength  int     `yaml:"genome_length" env:"GENOME_LENGTH"`
	PredatorShare float64 `yaml:"predator_share" env:"PREDATOR_SHARE"` // fraction of founders injected as predators
}

// CPUConfig holds parameters for the reference replicator CPU.
type CPUConfig struct {
	CyclesPerSite  int     `yaml:"cycles_per_site" env:"CYCLES_PER_SITE"` // cycles to copy one genome site
	MutationRate   float64 `yaml:"mutation_rate" env:"MUTATION_RATE"`     // per-site copy error probability
	ResourceDemand float64 `yaml:"resource_demand" env:"RESOURCE_DEMAND"` // resource requested per completed copy
	MeritPerUnit   float64 `yaml:"merit_per_unit" env:"MERIT_PER_UNIT"`   // merit bonus per unit of resource consumed
	MaxAge         int     `yaml:"max_age" env:"MAX_AGE"`                 // updates before death (0 = immortal)
	RoleSwitchRate float64 `yaml:"role_switch_rate" env:"ROLE_SWITCH_RATE"`
}

// ResourcesConfig holds the reference resource pool parameters.
type ResourcesConfig struct {
	Count        int     `yaml:"count" env:"COUNT"`
	InitialLevel float64 `yaml:"initial_level" env:"INITIAL_LEVEL"`
	Inflow       float64 `yaml:"inflow" env:"INFLOW"`   // added to every slot per update
	Outflow      float64 `yaml:"outflow" env:"OUTFLOW"` // fraction removed per update
	Diffusion    float64 `yaml:"diffusion" env:"DIFFUSION"`
}

// TraceConfig controls trace-queue sampling.
type TraceConfig struct {
	Enabled        bool   `yaml:"enabled" env:"ENABLED"`
	SampleInterval int    `yaml:"sample_interval" env:"SAMPLE_INTERVAL"` // updates between samples
	SampleSize     int    `yaml:"sample_size" env:"SAMPLE_SIZE"`
	Mode           string `yaml:"mode" env:"MODE"` // random, prey, predator
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         int `yaml:"stats_window" env:"STATS_WINDOW"` // updates per window
	BookmarkHistorySize int `yaml:"bookmark_history_size" env:"BOOKMARK_HISTORY_SIZE"`
	PerfCollectorWindow int `yaml:"perf_collector_window" env:"PERF_COLLECTOR_WINDOW"`
}

// BookmarksConfig holds bookmark detection thresholds.
type BookmarksConfig struct {
	PopulationCrash  PopulationCrashConfig  `yaml:"population_crash"`
	GroupBoom        GroupBoomConfig        `yaml:"group_boom"`
	StablePopulation StablePopulationConfig `yaml:"stable_population"`
}

// PopulationCrashConfig holds population crash detection parameters.
type PopulationCrashConfig struct {
	DropPercent float64 `yaml:"drop_percent"`
	MinDrop     int     `yaml:"min_drop"`
}

// GroupBoomConfig holds group formation burst detection parameters.
type GroupBoomConfig struct {
	Multiplier float64 `yaml:"multiplier"`
	MinGroups  int     `yaml:"min_groups"`
}

// StablePopulationConfig holds stable population detection parameters.
type StablePopulationConfig struct {
	MinPopulation int     `yaml:"min_population"`
	CVThreshold   float64 `yaml:"cv_threshold"`
	StableWindows int     `yaml:"stable_windows"`
}

// HallOfFameConfig holds genome archive parameters.
type HallOfFameConfig struct {
	Size           int     `yaml:"size" env:"SIZE"` // entries kept per role
	MinChildren    int     `yaml:"min_children" env:"MIN_CHILDREN"`
	MinLifespan    int     `yaml:"min_lifespan" env:"MIN_LIFESPAN"` // updates
	ChildrenWeight float64 `yaml:"children_weight" env:"CHILDREN_WEIGHT"`
	LifespanWeight float64 `yaml:"lifespan_weight" env:"LIFESPAN_WEIGHT"`
	MeritWeight    float64 `yaml:"merit_weight" env:"MERIT_WEIGHT"`
	ReseedCount    int     `yaml:"reseed_count" env:"RESEED_COUNT"` // organisms injected on extinction (0 = off)
}

// StorageConfig selects snapshot backends.
type StorageConfig struct {
	SnapshotInterval int    `yaml:"snapshot_interval" env:"SNAPSHOT_INTERVAL"` // updates between snapshots (0 = bookmarks only)
	SQLitePath       string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	S3Bucket         string `yaml:"s3_bucket" env:"S3_BUCKET"`
	S3Region         string `yaml:"s3_region" env:"S3_REGION"`
	S3Endpoint       string `yaml:"s3_endpoint" env:"S3_ENDPOINT"`
	S3Prefix         string `yaml:"s3_prefix" env:"S3_PREFIX"`
	S3PathStyle      bool   `yaml:"s3_path_style" env:"S3_PATH_STYLE"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Size         int // World.Width * World.Height
	FoundersPred int // number of founders injected as predators
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Environment overrides are applied on top of the file.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()

	return cfg, nil
}

// Default returns a fresh copy of the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults invalid: %v", err))
	}
	return cfg
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.Size = c.World.Width * c.World.Height
	c.Derived.FoundersPred = int(float64(c.Population.Initial) * c.Population.PredatorShare)
	if c.Scheduler.Quantum <= 0 {
		c.Scheduler.Quantum = 1
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 1
	}
}

// Clone returns a copy of the configuration. Config holds only value fields.
func (c *Config) Clone() *Config {
	out := *c
	return &out
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
