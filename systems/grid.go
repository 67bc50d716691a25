// Package systems provides the leaf machinery of the population engine:
// grid topology, reaper queue, schedulers, placement selectors, the group
// registry, and the reference resource pool.
package systems

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/digipop/simerr"
)

// Geometry selects how slots connect to their neighbours.
type Geometry uint8

const (
	GeometryTorus   Geometry = iota // edges wrap
	GeometryBounded                 // edges clipped
	GeometryClique                  // every other slot is a neighbour
)

// ParseGeometry maps a config string to a Geometry.
func ParseGeometry(s string) (Geometry, error) {
	switch s {
	case "torus":
		return GeometryTorus, nil
	case "bounded":
		return GeometryBounded, nil
	case "clique":
		return GeometryClique, nil
	}
	return 0, simerr.New(simerr.CodeInvalidConfig, fmt.Sprintf("unknown geometry %q", s))
}

// String returns the config name of the geometry.
func (g Geometry) String() string {
	switch g {
	case GeometryTorus:
		return "torus"
	case GeometryBounded:
		return "bounded"
	case GeometryClique:
		return "clique"
	}
	return "unknown"
}

// Offsets in fixed neighbour order: N, NE, E, SE, S, SW, W, NW.
var moore = [8][2]int{{0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}}

// Offsets in fixed neighbour order: N, E, S, W.
var vonNeumann = [4][2]int{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}

// Grid is a fixed-size array of occupancy slots with a neighbour topology.
// Slots are indexed row-major: slot = y*width + x.
type Grid struct {
	width, height int
	geometry      Geometry
	neighborhood  int

	occupants []ecs.Entity
	occupied  []bool
	neighbors [][]int // nil for clique, computed on demand

	// Empty-slot index: empty holds the empty slots, emptyPos maps a slot
	// to its position in empty (-1 when occupied).
	empty    []int
	emptyPos []int
}

// NewGrid creates an empty grid. neighborhood must be 4 or 8.
func NewGrid(width, height int, geometry Geometry, neighborhood int) *Grid {
	g := &Grid{geometry: geometry, neighborhood: neighborhood}
	g.build(width, height)
	return g
}

func (g *Grid) build(width, height int) {
	g.width = width
	g.height = height
	n := width * height

	g.occupants = make([]ecs.Entity, n)
	g.occupied = make([]bool, n)
	g.empty = make([]int, n)
	g.emptyPos = make([]int, n)
	for i := 0; i < n; i++ {
		g.empty[i] = i
		g.emptyPos[i] = i
	}

	g.neighbors = nil
	if g.geometry == GeometryClique {
		return
	}
	g.neighbors = make([][]int, n)
	for slot := 0; slot < n; slot++ {
		g.neighbors[slot] = g.computeNeighbors(slot)
	}
}

func (g *Grid) computeNeighbors(slot int) []int {
	x, y := slot%g.width, slot/g.width

	var offsets [][2]int
	if g.neighborhood == 4 {
		offsets = vonNeumann[:]
	} else {
		offsets = moore[:]
	}

	out := make([]int, 0, len(offsets))
	seen := make(map[int]struct{}, len(offsets))
	for _, o := range offsets {
		nx, ny := x+o[0], y+o[1]
		if g.geometry == GeometryTorus {
			// Toroidal wrap
			nx = (nx + g.width) % g.width
			ny = (ny + g.height) % g.height
		} else if nx < 0 || nx >= g.width || ny < 0 || ny >= g.height {
			continue
		}
		n := ny*g.width + nx
		// Tiny tori wrap onto themselves; keep each neighbour once.
		if n == slot {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Size returns the number of slots.
func (g *Grid) Size() int { return len(g.occupants) }

// Width returns the grid width.
func (g *Grid) Width() int { return g.width }

// Height returns the grid height.
func (g *Grid) Height() int { return g.height }

// Geometry returns the grid geometry.
func (g *Grid) Geometry() Geometry { return g.geometry }

// Valid reports whether slot is inside the grid.
func (g *Grid) Valid(slot int) bool { return slot >= 0 && slot < len(g.occupants) }

// Occupant returns the entity in slot, if any.
func (g *Grid) Occupant(slot int) (ecs.Entity, bool) {
	if !g.Valid(slot) || !g.occupied[slot] {
		return ecs.Entity{}, false
	}
	return g.occupants[slot], true
}

// IsOccupied reports whether slot holds an organism.
func (g *Grid) IsOccupied(slot int) bool {
	return g.Valid(slot) && g.occupied[slot]
}

// Neighbors returns the slot's neighbours in fixed order.
// The returned slice is shared; callers must not modify it.
func (g *Grid) Neighbors(slot int) []int {
	if g.geometry == GeometryClique {
		out := make([]int, 0, len(g.occupants)-1)
		for i := range g.occupants {
			if i != slot {
				out = append(out, i)
			}
		}
		return out
	}
	return g.neighbors[slot]
}

// Place puts e into an empty slot.
func (g *Grid) Place(slot int, e ecs.Entity) error {
	if !g.Valid(slot) {
		return slotError("slot out of range", slot)
	}
	if g.occupied[slot] {
		return slotError("slot already occupied", slot)
	}
	g.occupants[slot] = e
	g.occupied[slot] = true
	g.removeEmpty(slot)
	return nil
}

// Vacate empties slot and returns its former occupant.
func (g *Grid) Vacate(slot int) (ecs.Entity, error) {
	if !g.Valid(slot) {
		return ecs.Entity{}, slotError("slot out of range", slot)
	}
	if !g.occupied[slot] {
		return ecs.Entity{}, slotError("slot already empty", slot)
	}
	e := g.occupants[slot]
	g.occupants[slot] = ecs.Entity{}
	g.occupied[slot] = false
	g.addEmpty(slot)
	return e, nil
}

// Swap exchanges the contents of two slots. Either may be empty.
func (g *Grid) Swap(a, b int) error {
	if !g.Valid(a) {
		return slotError("slot out of range", a)
	}
	if !g.Valid(b) {
		return slotError("slot out of range", b)
	}
	if a == b {
		return nil
	}
	ea, oa := g.occupants[a], g.occupied[a]
	eb, ob := g.occupants[b], g.occupied[b]
	if oa {
		g.Vacate(a)
	}
	if ob {
		g.Vacate(b)
	}
	if oa {
		g.Place(b, ea)
	}
	if ob {
		g.Place(a, eb)
	}
	return nil
}

// NumOccupied returns the number of occupied slots.
func (g *Grid) NumOccupied() int { return len(g.occupants) - len(g.empty) }

// NumEmpty returns the number of empty slots.
func (g *Grid) NumEmpty() int { return len(g.empty) }

// RandomEmpty returns a uniformly random empty slot.
func (g *Grid) RandomEmpty(rng *rand.Rand) (int, bool) {
	if len(g.empty) == 0 {
		return -1, false
	}
	return g.empty[rng.IntN(len(g.empty))], true
}

// OccupiedSlots returns the occupied slots in index order.
func (g *Grid) OccupiedSlots() []int {
	out := make([]int, 0, g.NumOccupied())
	for slot, occ := range g.occupied {
		if occ {
			out = append(out, slot)
		}
	}
	return out
}

// Rebuild discards the topology and resizes the grid. The grid must be
// empty; callers kill every occupant first.
func (g *Grid) Rebuild(width, height int) error {
	if err := ValidateDimensions(width, height); err != nil {
		return err
	}
	if occ := g.NumOccupied(); occ > 0 {
		return simerr.WithMetadata(simerr.CodePrecondition,
			fmt.Sprintf("rebuild requires an empty grid, %d slots occupied", occ),
			map[string]string{"occupied": strconv.Itoa(occ)})
	}
	g.build(width, height)
	return nil
}

// ValidateDimensions reports a CodeInvalidConfig error unless both
// dimensions are positive.
func ValidateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return simerr.New(simerr.CodeInvalidConfig, fmt.Sprintf("grid dimensions %dx%d must be positive", width, height))
	}
	return nil
}

// Coords returns the (x, y) position of slot.
func (g *Grid) Coords(slot int) (x, y int) {
	return slot % g.width, slot / g.width
}

// SlotAt returns the slot at (x, y), wrapping on a torus. ok is false
// when a bounded grid clips the position.
func (g *Grid) SlotAt(x, y int) (slot int, ok bool) {
	if g.geometry == GeometryTorus {
		x = ((x % g.width) + g.width) % g.width
		y = ((y % g.height) + g.height) % g.height
	} else if x < 0 || x >= g.width || y < 0 || y >= g.height {
		return -1, false
	}
	return y*g.width + x, true
}

// Distance returns the Chebyshev distance between two slots, taking the
// short way around on a torus. Every pair in a clique is at distance 1.
func (g *Grid) Distance(a, b int) int {
	if a == b {
		return 0
	}
	if g.geometry == GeometryClique {
		return 1
	}
	ax, ay := g.Coords(a)
	bx, by := g.Coords(b)
	dx, dy := absInt(ax-bx), absInt(ay-by)
	if g.geometry == GeometryTorus {
		dx = min(dx, g.width-dx)
		dy = min(dy, g.height-dy)
	}
	return max(dx, dy)
}

// CandidateSlots appends the birth candidates for a parent in slot to dst.
// Neighbourhood scope yields the parent's neighbours plus the parent slot
// itself unless parentSurvives; global scope yields every slot, again
// excluding the parent when parentSurvives.
func (g *Grid) CandidateSlots(dst []int, parent int, global, parentSurvives bool) []int {
	if global {
		for slot := range g.occupants {
			if parentSurvives && slot == parent {
				continue
			}
			dst = append(dst, slot)
		}
		return dst
	}
	dst = append(dst, g.Neighbors(parent)...)
	if !parentSurvives {
		dst = append(dst, parent)
	}
	return dst
}

func (g *Grid) removeEmpty(slot int) {
	pos := g.emptyPos[slot]
	last := g.empty[len(g.empty)-1]
	g.empty[pos] = last
	g.emptyPos[last] = pos
	g.empty = g.empty[:len(g.empty)-1]
	g.emptyPos[slot] = -1
}

func (g *Grid) addEmpty(slot int) {
	g.emptyPos[slot] = len(g.empty)
	g.empty = append(g.empty, slot)
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func slotError(msg string, slot int) error {
	return simerr.WithMetadata(simerr.CodePrecondition,
		fmt.Sprintf("%s: %d", msg, slot),
		map[string]string{"slot": strconv.Itoa(slot)})
}
