package population

import (
	"context"
	"testing"

	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/systems"
)

// joiner asks to join group *gid from slot 0 and otherwise idles.
func joiner(gid *int) CPU {
	return stepFunc(func(org components.OrganismView, budget int) Outcome {
		out := Outcome{Cycles: budget}
		if org.Slot == 0 {
			out.JoinGroup = gid
		}
		return out
	})
}

// groupWithMember registers a group holding one organism in slot 4 with
// the given immigrant intolerance.
func groupWithMember(t *testing.T, e *Engine, immigrants int) int {
	t.Helper()
	gid := e.MakeGroup()
	opts := DefaultInjectOptions()
	opts.Slot = 4
	opts.Intolerance = components.Intolerance{Immigrants: immigrants}
	if _, err := e.InjectGroup(genome(), gid, opts); err != nil {
		t.Fatal(err)
	}
	return gid
}

func TestCPUJoinGroup(t *testing.T) {
	tests := []struct {
		name       string
		immigrants int // of the resident member, against max_tolerance 10
		wantJoined bool
	}{
		{"tolerant group admits", 0, true},
		{"saturated group refuses", 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(3, 3)
			cfg.Groups.Enabled = true
			cfg.Groups.MaxTolerance = 10
			cfg.Groups.VarianceWeight = 0
			var gid int
			e := newEngine(t, cfg, joiner(&gid))
			gid = groupWithMember(t, e, tt.immigrants)
			fill(t, e, 0)

			if err := e.ProcessStep(context.Background(), systems.Grant{Slot: 0, Cycles: 5}); err != nil {
				t.Fatal(err)
			}

			org, _ := e.OrganismAt(0)
			wantSize, wantGroup := 1, components.NoGroup
			if tt.wantJoined {
				wantSize, wantGroup = 2, gid
			}
			if org.GroupID != wantGroup {
				t.Errorf("GroupID = %d, want %d", org.GroupID, wantGroup)
			}
			if got := e.Groups().NumberOfOrganismsInGroup(gid); got != wantSize {
				t.Errorf("group size = %d, want %d", got, wantSize)
			}
			r := e.Report()
			if tt.wantJoined && r.ImmigrationAccepted != 1 {
				t.Errorf("ImmigrationAccepted = %d, want 1", r.ImmigrationAccepted)
			}
			if !tt.wantJoined && r.ImmigrationRejected != 1 {
				t.Errorf("ImmigrationRejected = %d, want 1", r.ImmigrationRejected)
			}
			mustCheck(t, e)
		})
	}
}

func TestCPUJoinUnknownGroup(t *testing.T) {
	cfg := testConfig(3, 3)
	cfg.Groups.Enabled = true
	unknown := 99
	e := newEngine(t, cfg, joiner(&unknown))
	fill(t, e, 0)

	if err := e.ProcessStep(context.Background(), systems.Grant{Slot: 0, Cycles: 5}); err != nil {
		t.Fatalf("ProcessStep = %v, want unknown group refused quietly", err)
	}
	if r := e.Report(); r.ImmigrationRejected != 1 {
		t.Errorf("ImmigrationRejected = %d, want 1", r.ImmigrationRejected)
	}
	if org, _ := e.OrganismAt(0); org.GroupID != components.NoGroup {
		t.Errorf("GroupID = %d, want none", org.GroupID)
	}
	mustCheck(t, e)
}

func TestCPUMakeGroup(t *testing.T) {
	founder := stepFunc(func(org components.OrganismView, budget int) Outcome {
		return Outcome{Cycles: budget, MakeGroup: org.GroupID == components.NoGroup}
	})
	cfg := testConfig(3, 3)
	cfg.Groups.Enabled = true
	e := newEngine(t, cfg, founder)
	fill(t, e, 0, 1)
	old := e.MakeGroup()
	if err := e.JoinGroup(1, old); err != nil {
		t.Fatal(err)
	}

	for _, slot := range []int{0, 1} {
		if err := e.ProcessStep(context.Background(), systems.Grant{Slot: slot, Cycles: 5}); err != nil {
			t.Fatal(err)
		}
	}

	org, _ := e.OrganismAt(0)
	if org.GroupID == components.NoGroup || org.GroupID == old {
		t.Fatalf("GroupID = %d, want a fresh group", org.GroupID)
	}
	if got := e.Groups().NumberOfOrganismsInGroup(org.GroupID); got != 1 {
		t.Errorf("founded group size = %d, want 1", got)
	}
	if got := e.Groups().NumberOfOrganismsInGroup(old); got != 1 {
		t.Errorf("existing member's group size = %d, want 1", got)
	}
	if r := e.Report(); r.ImmigrationAccepted != 0 || r.ImmigrationRejected != 0 {
		t.Errorf("founding drew admission odds: %+v", r)
	}
	mustCheck(t, e)
}

func TestCPUGroupRequestsIgnoredWhenDisabled(t *testing.T) {
	cfg := testConfig(3, 3)
	cfg.Groups.Enabled = false
	var gid int
	e := newEngine(t, cfg, stepFunc(func(_ components.OrganismView, budget int) Outcome {
		return Outcome{Cycles: budget, MakeGroup: true, JoinGroup: &gid}
	}))
	fill(t, e, 0)
	gid = e.MakeGroup()

	if err := e.ProcessStep(context.Background(), systems.Grant{Slot: 0, Cycles: 5}); err != nil {
		t.Fatal(err)
	}
	if org, _ := e.OrganismAt(0); org.GroupID != components.NoGroup {
		t.Errorf("GroupID = %d, want none", org.GroupID)
	}
	if got := len(e.GroupSnapshot()); got != 1 {
		t.Errorf("groups = %d, want 1", got)
	}
}

func TestAttemptImmigrateGroup(t *testing.T) {
	cfg := testConfig(3, 3)
	cfg.Groups.MaxTolerance = 10
	e := newEngine(t, cfg, idleCPU)
	open := groupWithMember(t, e, 0)
	fill(t, e, 0)

	if _, err := e.AttemptImmigrateGroup(8, open); err == nil {
		t.Error("AttemptImmigrateGroup on empty slot succeeded")
	}
	if _, err := e.AttemptImmigrateGroup(0, open+100); err == nil {
		t.Error("AttemptImmigrateGroup into unknown group succeeded")
	}

	ok, err := e.AttemptImmigrateGroup(0, open)
	if err != nil || !ok {
		t.Fatalf("AttemptImmigrateGroup = %v, %v, want true, nil", ok, err)
	}
	if org, _ := e.OrganismAt(0); org.GroupID != open {
		t.Errorf("GroupID = %d, want %d", org.GroupID, open)
	}

	// A member of another group keeps its membership when refused.
	closed := e.MakeGroup()
	opts := DefaultInjectOptions()
	opts.Slot = 2
	opts.Intolerance = components.Intolerance{Immigrants: 10}
	if _, err := e.InjectGroup(genome(), closed, opts); err != nil {
		t.Fatal(err)
	}
	ok, err = e.AttemptImmigrateGroup(0, closed)
	if err != nil || ok {
		t.Fatalf("AttemptImmigrateGroup = %v, %v, want false, nil", ok, err)
	}
	if org, _ := e.OrganismAt(0); org.GroupID != open {
		t.Errorf("GroupID after refusal = %d, want %d", org.GroupID, open)
	}
	if r := e.Report(); r.ImmigrationAccepted != 1 || r.ImmigrationRejected != 1 {
		t.Errorf("immigration accepted/rejected = %d/%d, want 1/1", r.ImmigrationAccepted, r.ImmigrationRejected)
	}
	mustCheck(t, e)
}
