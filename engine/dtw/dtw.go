// Package dtw implements dynamic time warping with a Sakoe-Chiba band,
// weighted/masked frame cost, and the LB_Keogh lower bound.
//
// Distances are normalized by max(TA, TB) so sequences of different lengths
// stay comparable. Unreachable alignments and dimension mismatches return the
// Sentinel value instead of an error; every function is total.
package dtw

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Sentinel is returned on dimension mismatch or unreachable alignment. It is
// also the "no distance yet" value used by the online recognizer.
const Sentinel = 999999.0

// costFn computes the weighted/masked Euclidean distance between two frames.
type costFn func(a, b []float64) float64

// newCostFn builds the frame cost. weights (shape F, non-negative) are
// L1-normalized and applied as sqrt(w) per dimension; mask (shape F, in [0,1])
// scales individual dimensions before weighting. Either may be nil.
func newCostFn(dim int, weights, mask []float64) costFn {
	var wsqrt []float64
	if len(weights) == dim {
		wsqrt = make([]float64, dim)
		sum := 0.0
		for _, w := range weights {
			if w > 0 {
				sum += w
			}
		}
		for f, w := range weights {
			if w < 0 {
				w = 0
			}
			if sum > 0 {
				w /= sum
			}
			wsqrt[f] = math.Sqrt(w)
		}
	}
	useMask := len(mask) == dim
	diff := make([]float64, dim)
	return func(a, b []float64) float64 {
		for f := 0; f < dim; f++ {
			d := a[f] - b[f]
			if useMask {
				d *= mask[f]
			}
			if wsqrt != nil {
				d *= wsqrt[f]
			}
			diff[f] = d
		}
		return floats.Norm(diff, 2)
	}
}

// Distance computes banded DTW between sequences a [TA][F] and b [TB][F],
// returning accumulated cost normalized by max(TA, TB). The band is widened to
// max(band, |TA-TB|+1, 3) so the end cell stays reachable; if the banded pass
// still cannot reach it, a full unbanded pass runs as a fallback.
func Distance(a, b [][]float64, band int, weights, mask []float64) float64 {
	ta, tb := len(a), len(b)
	if ta == 0 || tb == 0 {
		return Sentinel
	}
	dim := len(a[0])
	if dim != len(b[0]) {
		return Sentinel
	}

	if band < 3 {
		band = 3
	}
	if w := abs(ta-tb) + 1; band < w {
		band = w
	}

	cost := newCostFn(dim, weights, mask)
	if d, ok := run(a, b, band, cost); ok {
		return d
	}
	// Banded pass left the end cell unreachable; retry without the band.
	if d, ok := run(a, b, maxInt(ta, tb), cost); ok {
		return d
	}
	return Sentinel
}

// run fills the banded DP matrix and returns the normalized final cost.
func run(a, b [][]float64, band int, cost costFn) (float64, bool) {
	ta, tb := len(a), len(b)
	inf := math.Inf(1)

	dp := make([][]float64, ta+1)
	for i := range dp {
		dp[i] = make([]float64, tb+1)
		for j := range dp[i] {
			dp[i][j] = inf
		}
	}
	dp[0][0] = 0

	for i := 1; i <= ta; i++ {
		jStart := maxInt(1, i-band)
		jEnd := minInt(tb, i+band)
		for j := jStart; j <= jEnd; j++ {
			best := math.Min(dp[i-1][j], math.Min(dp[i][j-1], dp[i-1][j-1]))
			if math.IsInf(best, 1) {
				continue
			}
			dp[i][j] = cost(a[i-1], b[j-1]) + best
		}
	}

	final := dp[ta][tb]
	if math.IsInf(final, 1) {
		return 0, false
	}
	return final / float64(maxInt(ta, tb)), true
}

// LBKeogh computes the LB_Keogh lower bound on the banded DTW distance between
// a and b, normalized by max(TA, TB). It is admissible: LBKeogh(a,b,band) <=
// Distance(a,b,band,nil,nil). Callers may use it to skip DTW against templates
// that are clearly too far; the bound is advisory only.
func LBKeogh(a, b [][]float64, band int) float64 {
	ta, tb := len(a), len(b)
	if ta == 0 || tb == 0 {
		return 0
	}
	dim := len(a[0])
	if dim != len(b[0]) {
		return 0
	}

	// Mirror Distance's band widening, plus the index drift introduced by the
	// proportional timeline mapping below. Both are needed to keep the bound
	// admissible for unequal lengths.
	if band < 3 {
		band = 3
	}
	if w := abs(ta-tb) + 1; band < w {
		band = w
	}
	band += abs(ta - tb)

	// Envelopes of b over the band window.
	lower := make([][]float64, tb)
	upper := make([][]float64, tb)
	for t := 0; t < tb; t++ {
		j0 := maxInt(0, t-band)
		j1 := minInt(tb, t+band+1)
		lo := make([]float64, dim)
		hi := make([]float64, dim)
		copy(lo, b[j0])
		copy(hi, b[j0])
		for j := j0 + 1; j < j1; j++ {
			for f := 0; f < dim; f++ {
				lo[f] = math.Min(lo[f], b[j][f])
				hi[f] = math.Max(hi[f], b[j][f])
			}
		}
		lower[t] = lo
		upper[t] = hi
	}

	diff := make([]float64, dim)
	bound := 0.0
	for i := 0; i < ta; i++ {
		t := int(math.Round(float64(i) * float64(tb-1) / float64(maxInt(1, ta-1))))
		for f := 0; f < dim; f++ {
			switch {
			case a[i][f] < lower[t][f]:
				diff[f] = lower[t][f] - a[i][f]
			case a[i][f] > upper[t][f]:
				diff[f] = a[i][f] - upper[t][f]
			default:
				diff[f] = 0
			}
		}
		bound += floats.Norm(diff, 2)
	}
	return bound / float64(maxInt(ta, tb))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
