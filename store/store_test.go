package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/config"
	"github.com/pthm-cable/digipop/population"
	"github.com/pthm-cable/digipop/telemetry"
)

func testSnapshot(update int, bm *telemetry.Bookmark) *telemetry.Snapshot {
	return &telemetry.Snapshot{
		Version: telemetry.SnapshotVersion,
		Seed:    9,
		Population: population.Snapshot{
			Update: update, Width: 3, Height: 3, NextID: 3, NextSeq: 2,
			Groups: []int{0},
			Organisms: []population.OrganismRecord{
				{Slot: 0, ID: 1, Seq: 0, Merit: 1, GroupID: 0, Genome: components.Genome{Label: "a", Sequence: []byte{1, 2}}},
				{Slot: 4, ID: 2, ParentID: 1, Generation: 1, Seq: 1, Merit: 2, GroupID: components.NoGroup,
					Genome: components.Genome{Label: "a", Sequence: []byte{1, 3}}},
			},
		},
		Lifetimes: map[uint64]*telemetry.LifetimeStatsJSON{
			1: {LineageID: 1, Children: 1},
			2: {ParentID: 1, LineageID: 1, Generation: 1},
		},
		Bookmark: bm,
	}
}

// roundTrip saves, lists and loads through st.
func roundTrip(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	want := testSnapshot(40, &telemetry.Bookmark{Type: telemetry.BookmarkExtinction, Update: 40})
	key, err := st.Save(ctx, want)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := st.Save(ctx, testSnapshot(10, nil)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := st.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load(%q): %v", key, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}

	keys, err := st.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("List = %v, want 2 keys", keys)
	}

	if _, err := st.Load(ctx, "snapshot_999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDirStore(t *testing.T) {
	st := NewDirStore(t.TempDir())
	roundTrip(t, st)

	// Bare names resolve inside the directory.
	if _, err := st.Load(context.Background(), "snapshot_10"); err != nil {
		t.Errorf("Load by name: %v", err)
	}
	keys, _ := st.List(context.Background())
	want := []string{"snapshot_10", "snapshot_40_extinction"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("List = %v, want %v", keys, want)
	}
}

type failingStore struct{ *DirStore }

func (failingStore) Name() string { return "failing" }
func (failingStore) Save(context.Context, *telemetry.Snapshot) (string, error) {
	return "", errors.New("disk full")
}

func TestMultiSave(t *testing.T) {
	dir := NewDirStore(t.TempDir())
	m := Multi{dir, failingStore{dir}}

	keys, err := m.Save(context.Background(), testSnapshot(5, nil))
	if err == nil {
		t.Error("Save error = nil, want the failing backend's error")
	}
	if _, ok := keys["dir"]; !ok {
		t.Errorf("keys = %v, want the dir backend to succeed", keys)
	}
	if _, ok := keys["failing"]; ok {
		t.Error("failing backend reported a key")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestOpen(t *testing.T) {
	cfg := config.StorageConfig{}
	m, err := Open(context.Background(), cfg, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("len = %d, want 0 with nothing configured", len(m))
	}

	cfg.SQLitePath = t.TempDir() + "/runs.db"
	m, err = Open(context.Background(), cfg, t.TempDir())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer m.Close()
	var names []string
	for _, st := range m {
		names = append(names, st.Name())
	}
	if !reflect.DeepEqual(names, []string{"dir", "sqlite"}) {
		t.Errorf("backends = %v, want [dir sqlite]", names)
	}
}
