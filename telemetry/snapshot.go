package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/population"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds the complete run state for replay.
type Snapshot struct {
	Version int    `json:"version"`
	Seed    uint64 `json:"seed"`

	Population population.Snapshot `json:"population"`

	// Lifetime stats of the live organisms, keyed by organism id.
	Lifetimes map[uint64]*LifetimeStatsJSON `json:"lifetimes,omitempty"`

	Bookmark *Bookmark `json:"bookmark,omitempty"`
}

// Name is the snapshot's file stem, also used as its key by the stores.
func (s *Snapshot) Name() string {
	name := fmt.Sprintf("snapshot_%d", s.Population.Update)
	if s.Bookmark != nil {
		sanitized := strings.ReplaceAll(string(s.Bookmark.Type), " ", "_")
		name = fmt.Sprintf("snapshot_%d_%s", s.Population.Update, sanitized)
	}
	return name
}

// LifetimeStatsJSON is the JSON-serializable form of LifetimeStats.
type LifetimeStatsJSON struct {
	BirthUpdate int             `json:"birth_update"`
	ParentID    uint64          `json:"parent_id"`
	LineageID   uint64          `json:"lineage_id"`
	Generation  int             `json:"generation"`
	Role        components.Role `json:"role"`
	Children    int             `json:"children"`
	Cycles      int64           `json:"cycles"`
	PeakMerit   float64         `json:"peak_merit"`
}

// ToJSON converts LifetimeStats to its JSON form.
func (ls *LifetimeStats) ToJSON() *LifetimeStatsJSON {
	if ls == nil {
		return nil
	}
	return &LifetimeStatsJSON{
		BirthUpdate: ls.BirthUpdate,
		ParentID:    ls.ParentID,
		LineageID:   ls.LineageID,
		Generation:  ls.Generation,
		Role:        ls.Role,
		Children:    ls.Children,
		Cycles:      ls.Cycles,
		PeakMerit:   ls.PeakMerit,
	}
}

// FromJSON converts the JSON form back to LifetimeStats.
func (lsj *LifetimeStatsJSON) FromJSON() *LifetimeStats {
	if lsj == nil {
		return nil
	}
	return &LifetimeStats{
		BirthUpdate: lsj.BirthUpdate,
		ParentID:    lsj.ParentID,
		LineageID:   lsj.LineageID,
		Generation:  lsj.Generation,
		Role:        lsj.Role,
		Children:    lsj.Children,
		Cycles:      lsj.Cycles,
		PeakMerit:   lsj.PeakMerit,
	}
}

// NewSnapshot captures the engine and, when lt is non-nil, the lifetime
// stats of every live organism.
func NewSnapshot(seed uint64, e *population.Engine, lt *LifetimeTracker, bm *Bookmark) *Snapshot {
	s := &Snapshot{
		Version:    SnapshotVersion,
		Seed:       seed,
		Population: e.Snapshot(),
		Bookmark:   bm,
	}
	if lt != nil {
		s.Lifetimes = lt.Export()
	}
	return s
}

// Restore loads the snapshot into e and replaces lt's stats with the
// recorded ones.
func (s *Snapshot) Restore(e *population.Engine, lt *LifetimeTracker) error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("snapshot version %d, want %d", s.Version, SnapshotVersion)
	}
	if err := e.Restore(s.Population); err != nil {
		return fmt.Errorf("restore population: %w", err)
	}
	if lt != nil {
		lt.Import(s.Lifetimes)
	}
	return nil
}

// EncodeSnapshot returns the indented JSON form of a snapshot.
func EncodeSnapshot(snapshot *Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a snapshot produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, snapshot.Name()+".json")

	data, err := EncodeSnapshot(snapshot)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return DecodeSnapshot(data)
}
