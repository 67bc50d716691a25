package systems

import (
	"slices"
	"testing"
)

func TestPhaseRegistryOrder(t *testing.T) {
	reg := NewPhaseRegistry()
	var ids []string
	for _, info := range reg.All() {
		ids = append(ids, info.ID)
	}
	want := []string{
		PhaseSchedule, PhaseExecute, PhaseApply,
		PhasePlacement, PhaseAging,
		PhaseResources,
		PhaseStats, PhaseTrace, PhaseTelemetry, PhaseSnapshot,
	}
	if !slices.Equal(ids, want) {
		t.Errorf("phases = %v, want %v", ids, want)
	}
	wantCats := []string{CategoryCore, CategoryLifecycle, CategoryEnvironment, CategoryIO}
	if got := reg.Categories(); !slices.Equal(got, wantCats) {
		t.Errorf("categories = %v, want %v", got, wantCats)
	}
}

func TestPhaseRegistryRegister(t *testing.T) {
	reg := NewPhaseRegistry()
	n := len(reg.All())

	reg.Register(PhaseInfo{ID: "replay"})
	info, ok := reg.Get("replay")
	if !ok {
		t.Fatal("registered phase not found")
	}
	if info.Category != CategoryOther || info.Name != "replay" {
		t.Errorf("defaults = %q/%q, want %q/%q", info.Category, info.Name, CategoryOther, "replay")
	}

	reg.Register(PhaseInfo{ID: PhaseApply, Name: "Outcome", Category: CategoryLifecycle})
	if got := len(reg.All()); got != n+1 {
		t.Errorf("len = %d, want %d", got, n+1)
	}
	if reg.All()[2].Name != "Outcome" {
		t.Errorf("re-registered phase moved or kept old name: %+v", reg.All()[2])
	}
	if _, ok := DefaultPhases().Get("replay"); ok {
		t.Error("registering on a new registry changed the default one")
	}
}
