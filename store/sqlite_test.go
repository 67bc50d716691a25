package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/digipop/telemetry"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	roundTrip(t, newSQLite(t))
}

func TestSQLiteStoreUpsert(t *testing.T) {
	st := newSQLite(t)
	ctx := context.Background()

	s := testSnapshot(7, nil)
	if _, err := st.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Seed = 11
	if _, err := st.Save(ctx, s); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	var n int
	if err := st.DB().QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
	got, err := st.Load(ctx, s.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Seed != 11 {
		t.Errorf("Seed = %d, want 11", got.Seed)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	st, err := NewSQLiteStore(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := st.Save(context.Background(), testSnapshot(3, nil)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = st.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	names, err := reopened.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 || names[0] != "snapshot_3" {
		t.Errorf("List = %v, want [snapshot_3]", names)
	}
}

func TestSQLiteStoreWindows(t *testing.T) {
	st := newSQLite(t)
	ctx := context.Background()

	windows := []telemetry.WindowStats{
		{WindowStart: 0, WindowEnd: 100, Population: 40, Births: 12, Deaths: 3},
		{WindowStart: 100, WindowEnd: 200, Population: 55, Births: 20, Deaths: 5},
	}
	if err := st.SaveWindows(ctx, windows...); err != nil {
		t.Fatalf("SaveWindows: %v", err)
	}
	// Re-saving a window replaces it.
	windows[1].Population = 60
	if err := st.SaveWindows(ctx, windows[1]); err != nil {
		t.Fatalf("SaveWindows: %v", err)
	}

	got, err := st.Windows(ctx)
	if err != nil {
		t.Fatalf("Windows: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].WindowEnd != 100 || got[1].Population != 60 {
		t.Errorf("Windows = %+v", got)
	}
}
