package telemetry

import (
	"testing"

	"github.com/pthm-cable/digipop/config"
)

func init() {
	config.MustInit("")
}

func newDetector() *BookmarkDetector {
	return NewBookmarkDetector(10, config.Cfg().Bookmarks)
}

func hasBookmark(bookmarks []Bookmark, typ BookmarkType) bool {
	for _, bm := range bookmarks {
		if bm.Type == typ {
			return true
		}
	}
	return false
}

func TestBookmarkDetector_PopulationCrash(t *testing.T) {
	bd := newDetector()

	for i := 0; i < 5; i++ {
		bd.Check(WindowStats{WindowEnd: i * 100, Population: 100})
	}

	bookmarks := bd.Check(WindowStats{WindowEnd: 500, Population: 50})
	if !hasBookmark(bookmarks, BookmarkPopulationCrash) {
		t.Error("expected population_crash bookmark")
	}

	// The peak resets after a crash; a further small dip is not a crash.
	bookmarks = bd.Check(WindowStats{WindowEnd: 600, Population: 45})
	if hasBookmark(bookmarks, BookmarkPopulationCrash) {
		t.Error("unexpected second population_crash bookmark")
	}
}

func TestBookmarkDetector_SmallPopulationNoCrash(t *testing.T) {
	bd := newDetector()

	for i := 0; i < 5; i++ {
		bd.Check(WindowStats{WindowEnd: i * 100, Population: 12})
	}
	// 50% drop but fewer than min_drop organisms
	if hasBookmark(bd.Check(WindowStats{WindowEnd: 500, Population: 6}), BookmarkPopulationCrash) {
		t.Error("crash below min_drop should not bookmark")
	}
}

func TestBookmarkDetector_Extinction(t *testing.T) {
	bd := newDetector()

	if hasBookmark(bd.Check(WindowStats{WindowEnd: 0}), BookmarkExtinction) {
		t.Error("empty start should not count as extinction")
	}
	bd.Check(WindowStats{WindowEnd: 100, Population: 30})

	bookmarks := bd.Check(WindowStats{WindowEnd: 200, Deaths: 30})
	if !hasBookmark(bookmarks, BookmarkExtinction) {
		t.Error("expected extinction bookmark")
	}
	if hasBookmark(bookmarks, BookmarkPopulationCrash) {
		t.Error("extinction should not also report a crash")
	}
	if hasBookmark(bd.Check(WindowStats{WindowEnd: 300}), BookmarkExtinction) {
		t.Error("extinction reported twice")
	}
}

func TestBookmarkDetector_GroupBoom(t *testing.T) {
	bd := newDetector()

	for i := 0; i < 4; i++ {
		bd.Check(WindowStats{WindowEnd: i * 100, Population: 100, Groups: 3})
	}
	bookmarks := bd.Check(WindowStats{WindowEnd: 400, Population: 100, Groups: 9})
	if !hasBookmark(bookmarks, BookmarkGroupBoom) {
		t.Error("expected group_boom bookmark")
	}
}

func TestBookmarkDetector_StablePopulation(t *testing.T) {
	bd := newDetector()

	triggered := -1
	for i := 0; i < 12; i++ {
		bookmarks := bd.Check(WindowStats{WindowEnd: i * 100, Population: 100})
		if hasBookmark(bookmarks, BookmarkStablePopulation) {
			if triggered >= 0 {
				t.Fatalf("stable_population triggered twice (windows %d and %d)", triggered, i)
			}
			triggered = i
		}
	}
	// Stability is measured from the fourth recorded window onward.
	if triggered != 8 {
		t.Errorf("stable_population triggered at window %d, want 8", triggered)
	}
}
