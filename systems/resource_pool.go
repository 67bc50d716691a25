package systems

// ResourcePool is a per-slot, multi-resource store with inflow, outflow and
// diffusion between grid neighbours. Levels are indexed [slot*count+res].
type ResourcePool struct {
	grid  *Grid
	count int

	Level []float64

	Inflow    float64 // added to every slot per update
	Outflow   float64 // fraction removed per update
	Diffusion float64 // exchange rate with neighbours per update

	// Scratch buffer for diffusion
	tmp []float64
}

// NewResourcePool creates a pool sized to g with every level at initial.
func NewResourcePool(g *Grid, count int, initial float64) *ResourcePool {
	count = max(count, 0)
	p := &ResourcePool{grid: g, count: count}
	p.alloc(g.Size(), initial)
	return p
}

// SetParams configures per-update flow.
func (p *ResourcePool) SetParams(inflow, outflow, diffusion float64) {
	p.Inflow = inflow
	p.Outflow = outflow
	p.Diffusion = diffusion
}

func (p *ResourcePool) alloc(size int, initial float64) {
	p.Level = make([]float64, size*p.count)
	p.tmp = make([]float64, size*p.count)
	for i := range p.Level {
		p.Level[i] = initial
	}
}

// Count returns the number of resources per slot.
func (p *ResourcePool) Count() int { return p.count }

// CurrentLevels returns a copy of the levels at slot.
func (p *ResourcePool) CurrentLevels(slot int) []float64 {
	if !p.valid(slot) {
		return nil
	}
	out := make([]float64, p.count)
	copy(out, p.Level[slot*p.count:(slot+1)*p.count])
	return out
}

// Consume removes up to demand of every resource at slot and returns the
// amounts actually removed.
func (p *ResourcePool) Consume(slot int, demand float64) []float64 {
	got := make([]float64, p.count)
	if !p.valid(slot) || demand <= 0 {
		return got
	}
	base := slot * p.count
	for r := 0; r < p.count; r++ {
		take := min(demand, p.Level[base+r])
		p.Level[base+r] -= take
		got[r] = take
	}
	return got
}

// Update applies outflow, inflow and one diffusion step.
func (p *ResourcePool) Update() {
	keep := 1 - clamp01(p.Outflow)
	for i := range p.Level {
		p.Level[i] = p.Level[i]*keep + p.Inflow
	}
	if p.Diffusion > 0 {
		p.diffuse()
	}
}

// diffuse relaxes every slot toward the mean of its neighbours. Clique
// grids relax toward the global mean instead of enumerating neighbours.
func (p *ResourcePool) diffuse() {
	// Stability clamp for explicit diffusion
	a := min(p.Diffusion, 0.5)
	size := p.grid.Size()
	if size == 0 || p.count == 0 {
		return
	}

	if p.grid.Geometry() == GeometryClique {
		for r := 0; r < p.count; r++ {
			var sum float64
			for s := 0; s < size; s++ {
				sum += p.Level[s*p.count+r]
			}
			mean := sum / float64(size)
			for s := 0; s < size; s++ {
				i := s*p.count + r
				p.Level[i] += a * (mean - p.Level[i])
			}
		}
		return
	}

	for s := 0; s < size; s++ {
		nb := p.grid.Neighbors(s)
		for r := 0; r < p.count; r++ {
			i := s*p.count + r
			c := p.Level[i]
			if len(nb) == 0 {
				p.tmp[i] = c
				continue
			}
			var sum float64
			for _, n := range nb {
				sum += p.Level[n*p.count+r]
			}
			p.tmp[i] = c + a*(sum/float64(len(nb))-c)
		}
	}
	copy(p.Level, p.tmp)
}

// Resize reallocates the pool for a grid of the given size. Existing
// levels are discarded and every slot starts at the mean of the old levels.
func (p *ResourcePool) Resize(size int) {
	var mean float64
	if len(p.Level) > 0 {
		for _, v := range p.Level {
			mean += v
		}
		mean /= float64(len(p.Level))
	}
	p.alloc(size, mean)
}

// Total returns the sum of resource r across all slots.
func (p *ResourcePool) Total(r int) float64 {
	var sum float64
	for i := r; i < len(p.Level); i += max(p.count, 1) {
		sum += p.Level[i]
	}
	return sum
}

func (p *ResourcePool) valid(slot int) bool {
	return slot >= 0 && (slot+1)*p.count <= len(p.Level)
}
