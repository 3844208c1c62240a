package pose

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Sequence-level operations shared by the learning pipeline and the online
// recognizer: velocity appending, per-column z-scoring, and motion energy.

// AddVelocity doubles the feature dimension of a [T][F] sequence by appending
// first differences. The first row's velocity is zero (the row acts as its own
// predecessor), matching the per-frame velocity a live session computes.
func AddVelocity(seq [][]float64) [][]float64 {
	out := make([][]float64, len(seq))
	for t, row := range seq {
		prev := row
		if t > 0 {
			prev = seq[t-1]
		}
		combined := make([]float64, 0, 2*len(row))
		combined = append(combined, row...)
		for f := range row {
			combined = append(combined, row[f]-prev[f])
		}
		out[t] = combined
	}
	return out
}

// ZScoreColumns z-scores every feature dimension across time, flooring the
// standard deviation at 1e-6 so constant columns stay finite.
func ZScoreColumns(seq [][]float64) [][]float64 {
	if len(seq) == 0 {
		return nil
	}
	dim := len(seq[0])
	mean := make([]float64, dim)
	std := make([]float64, dim)
	for f := 0; f < dim; f++ {
		col := column(seq, f)
		mean[f], std[f] = MeanStd(col)
		if std[f] < 1e-6 {
			std[f] = 1e-6
		}
	}
	out := make([][]float64, len(seq))
	for t, row := range seq {
		out[t] = make([]float64, dim)
		for f := 0; f < dim; f++ {
			out[t][f] = (row[f] - mean[f]) / std[f]
		}
	}
	return out
}

// MotionEnergy is the mean L2 norm of temporal differences of a [T][F]
// sequence; zero for sequences shorter than two frames.
func MotionEnergy(seq [][]float64) float64 {
	if len(seq) < 2 {
		return 0.0
	}
	diff := make([]float64, len(seq[0]))
	total := 0.0
	for t := 1; t < len(seq); t++ {
		floats.SubTo(diff, seq[t], seq[t-1])
		total += floats.Norm(diff, 2)
	}
	return total / float64(len(seq)-1)
}

// MeanStd returns the mean and population standard deviation of xs.
func MeanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	mean = floats.Sum(xs) / float64(len(xs))
	// Correct the rounding error of the first pass so a constant column gets
	// its value back exactly and z-scores to exactly zero.
	var corr float64
	for _, x := range xs {
		corr += x - mean
	}
	mean += corr / float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}

func column(seq [][]float64, f int) []float64 {
	col := make([]float64, len(seq))
	for t := range seq {
		col[t] = seq[t][f]
	}
	return col
}
