package systems

import (
	"math"
	"testing"
)

func TestResourcePoolConsume(t *testing.T) {
	g := NewGrid(3, 3, GeometryTorus, 8)
	p := NewResourcePool(g, 2, 1)

	got := p.Consume(4, 0.4)
	if len(got) != 2 || got[0] != 0.4 || got[1] != 0.4 {
		t.Errorf("Consume = %v, want [0.4 0.4]", got)
	}
	got = p.Consume(4, 5)
	if math.Abs(got[0]-0.6) > 1e-12 {
		t.Errorf("Consume beyond level = %v, want 0.6", got[0])
	}
	if lv := p.CurrentLevels(4); lv[0] != 0 || lv[1] != 0 {
		t.Errorf("CurrentLevels = %v, want zeros", lv)
	}
	if got := p.Consume(99, 1); got[0] != 0 {
		t.Errorf("Consume out of range = %v, want zeros", got)
	}
}

func TestResourcePoolDiffusionConservesMass(t *testing.T) {
	for _, geom := range []Geometry{GeometryTorus, GeometryClique} {
		t.Run(geom.String(), func(t *testing.T) {
			g := NewGrid(4, 4, geom, 8)
			p := NewResourcePool(g, 1, 0)
			p.Level[5] = 16
			p.SetParams(0, 0, 0.3)

			for range 10 {
				p.Update()
			}
			if total := p.Total(0); math.Abs(total-16) > 1e-9 {
				t.Errorf("Total = %v, want 16", total)
			}
			if p.Level[5] >= 16 || p.Level[0] <= 0 {
				t.Errorf("no spread: centre %v corner %v", p.Level[5], p.Level[0])
			}
		})
	}
}

func TestResourcePoolFlow(t *testing.T) {
	g := NewGrid(2, 2, GeometryBounded, 4)
	p := NewResourcePool(g, 1, 1)
	p.SetParams(0.5, 0.5, 0)
	p.Update()
	for slot := range g.Size() {
		if lv := p.CurrentLevels(slot)[0]; lv != 1 {
			t.Errorf("slot %d level = %v, want 1", slot, lv)
		}
	}
}

func TestResourcePoolResize(t *testing.T) {
	g := NewGrid(2, 2, GeometryTorus, 8)
	p := NewResourcePool(g, 1, 2)
	g.Rebuild(3, 3)
	p.Resize(g.Size())
	if len(p.Level) != 9 || p.Level[8] != 2 {
		t.Errorf("after Resize len=%d level=%v, want 9 slots at 2", len(p.Level), p.Level[8])
	}
}
