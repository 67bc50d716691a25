package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/digipop/config"
	"github.com/pthm-cable/digipop/systems"
)

// GroupRecord is one group's row in groups.csv.
type GroupRecord struct {
	Update         int     `csv:"update"`
	ID             int     `csv:"group"`
	Size           int     `csv:"size"`
	Females        int     `csv:"females"`
	Males          int     `csv:"males"`
	Juveniles      int     `csv:"juveniles"`
	ImmigrantMean  float64 `csv:"immigrant_mean"`
	ImmigrantSDev  float64 `csv:"immigrant_sdev"`
	ImmigrantOdds  float64 `csv:"immigrant_odds"`
	OwnOffspring   float64 `csv:"own_offspring_mean"`
	OtherOffspring float64 `csv:"other_offspring_mean"`
}

// csvFile is an output file that writes its header once.
type csvFile struct {
	f             *os.File
	headerWritten bool
}

// OutputManager handles structured experiment output with CSV logging.
type OutputManager struct {
	dir       string
	telemetry csvFile
	perf      csvFile
	groups    csvFile
	bookmarks csvFile
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	files := []struct {
		name string
		dst  *csvFile
	}{
		{"telemetry.csv", &om.telemetry},
		{"perf.csv", &om.perf},
		{"groups.csv", &om.groups},
		{"bookmarks.csv", &om.bookmarks},
	}
	for _, file := range files {
		f, err := os.Create(filepath.Join(dir, file.name))
		if err != nil {
			om.Close()
			return nil, fmt.Errorf("creating %s: %w", file.name, err)
		}
		file.dst.f = f
	}

	return om, nil
}

// writeRecords appends records to out, with headers on the first write.
func writeRecords[T any](out *csvFile, records []T) error {
	if !out.headerWritten {
		if err := gocsv.Marshal(records, out.f); err != nil {
			return err
		}
		out.headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, out.f)
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteTelemetry writes a window stats record to telemetry.csv.
func (om *OutputManager) WriteTelemetry(stats WindowStats) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(&om.telemetry, []WindowStats{stats}); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, windowEnd int) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(&om.perf, []PerfStatsCSV{stats.ToCSV(windowEnd)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteGroups writes one row per group to groups.csv.
func (om *OutputManager) WriteGroups(update int, groups []systems.GroupInfo) error {
	if om == nil || len(groups) == 0 {
		return nil
	}
	records := make([]GroupRecord, len(groups))
	for i, g := range groups {
		records[i] = GroupRecord{
			Update:         update,
			ID:             g.ID,
			Size:           g.Size,
			Females:        g.Females,
			Males:          g.Males,
			Juveniles:      g.Juveniles,
			ImmigrantMean:  g.ImmigrantMean,
			ImmigrantSDev:  g.ImmigrantSDev,
			ImmigrantOdds:  g.ImmigrantOdds,
			OwnOffspring:   g.OwnOffspring,
			OtherOffspring: g.OtherOffspring,
		}
	}
	if err := writeRecords(&om.groups, records); err != nil {
		return fmt.Errorf("writing groups: %w", err)
	}
	return nil
}

// WriteBookmark writes a bookmark record to bookmarks.csv.
func (om *OutputManager) WriteBookmark(b Bookmark) error {
	if om == nil {
		return nil
	}
	if err := writeRecords(&om.bookmarks, []Bookmark{b}); err != nil {
		return fmt.Errorf("writing bookmark: %w", err)
	}
	return nil
}

// WriteHallOfFame saves the hall of fame as JSON.
func (om *OutputManager) WriteHallOfFame(hof *HallOfFame) error {
	if om == nil || hof == nil {
		return nil
	}

	data, err := hof.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling hall of fame: %w", err)
	}
	if err := os.WriteFile(filepath.Join(om.dir, "hall_of_fame.json"), data, 0644); err != nil {
		return fmt.Errorf("writing hall_of_fame.json: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, out := range []*csvFile{&om.telemetry, &om.perf, &om.groups, &om.bookmarks} {
		if out.f == nil {
			continue
		}
		if err := out.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		out.f = nil
	}
	return firstErr
}
