package systems

import "math"

// Accumulator is a running integer distribution of intolerance samples.
// Sums are exact, so adding and removing the same sample always restores
// the previous state.
type Accumulator struct {
	N     int
	Sum   int64
	SumSq int64
}

// Add records a sample.
func (a *Accumulator) Add(v int) {
	a.N++
	a.Sum += int64(v)
	a.SumSq += int64(v) * int64(v)
}

// Remove retracts a previously recorded sample.
func (a *Accumulator) Remove(v int) {
	a.N--
	a.Sum -= int64(v)
	a.SumSq -= int64(v) * int64(v)
}

// Mean returns the sample mean, 0 when empty.
func (a Accumulator) Mean() float64 {
	if a.N == 0 {
		return 0
	}
	return float64(a.Sum) / float64(a.N)
}

// Variance returns the population variance, 0 when empty.
func (a Accumulator) Variance() float64 {
	if a.N == 0 {
		return 0
	}
	n := float64(a.N)
	mean := float64(a.Sum) / n
	v := float64(a.SumSq)/n - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

// StdDev returns the population standard deviation.
func (a Accumulator) StdDev() float64 {
	return math.Sqrt(a.Variance())
}

// admissionOdds turns a group's intolerance distribution into an admission
// probability. The group's capacity is maxTolerance divided by the
// per-member intolerance estimate mean + k*stddev; odds fall linearly from
// 1 (no members) to 0 (at capacity). With k = 0 this is
// (maxTolerance - sum) / maxTolerance.
func admissionOdds(acc Accumulator, maxTolerance int, k float64) float64 {
	if acc.N == 0 {
		return 1
	}
	perMember := acc.Mean() + k*acc.StdDev()
	if perMember <= 0 {
		return 1
	}
	return clamp01(1 - float64(acc.N)*perMember/float64(maxTolerance))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
