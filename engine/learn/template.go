package learn

import (
	"sort"

	"gonum.org/v1/gonum/interp"

	"github.com/repsense/repsense/engine"
	"github.com/repsense/repsense/engine/pose"
)

// BuildTemplates resamples each segment of the feature sequence to a common
// target length by per-dimension linear interpolation and z-scores the result
// per dimension, so all templates are scale-comparable at the frame level.
// targetLength 0 derives the median segment length (50 when there are no
// segments). Segments shorter than 3 frames are skipped.
func BuildTemplates(segments []Segment, seq [][]float64, targetLength int) []engine.Template {
	if targetLength <= 0 {
		lengths := make([]int, 0, len(segments))
		for _, s := range segments {
			lengths = append(lengths, s.Len())
		}
		targetLength = medianLength(lengths, 50)
	}

	var templates []engine.Template
	for _, s := range segments {
		start := maxInt(0, s.Start)
		end := minInt(len(seq), s.End)
		if end-start < 3 {
			continue
		}
		segment := seq[start:end]
		resampled := resample(segment, targetLength)
		data := pose.ZScoreColumns(resampled)
		templates = append(templates, engine.Template{
			T:              targetLength,
			F:              len(data[0]),
			Data:           data,
			OriginalLength: end - start,
			StartFrame:     start,
			EndFrame:       end,
		})
	}
	return templates
}

// resample maps a [T][F] segment onto targetLength evenly spaced points using
// per-dimension piecewise-linear interpolation over the original frame grid.
func resample(segment [][]float64, targetLength int) [][]float64 {
	t := len(segment)
	dim := len(segment[0])
	if targetLength < 2 {
		return [][]float64{append([]float64(nil), segment[0]...)}
	}
	if t == targetLength {
		out := make([][]float64, t)
		for i, row := range segment {
			out[i] = append([]float64(nil), row...)
		}
		return out
	}

	xs := make([]float64, t)
	for i := range xs {
		xs[i] = float64(i)
	}
	out := make([][]float64, targetLength)
	for i := range out {
		out[i] = make([]float64, dim)
	}
	step := float64(t-1) / float64(targetLength-1)

	col := make([]float64, t)
	for f := 0; f < dim; f++ {
		for i := range segment {
			col[i] = segment[i][f]
		}
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, col); err != nil {
			// Degenerate grid; hold the first value.
			for i := 0; i < targetLength; i++ {
				out[i][f] = col[0]
			}
			continue
		}
		for i := 0; i < targetLength; i++ {
			x := float64(i) * step
			if x > xs[t-1] {
				x = xs[t-1]
			}
			out[i][f] = pl.Predict(x)
		}
	}
	return out
}

// MedianTemplateLength is the median of the templates' time dimension,
// falling back to the given default when there are none.
func MedianTemplateLength(templates []engine.Template, fallback int) int {
	lengths := make([]int, 0, len(templates))
	for _, t := range templates {
		lengths = append(lengths, t.T)
	}
	return medianLength(lengths, fallback)
}

func medianLength(lengths []int, fallback int) int {
	if len(lengths) == 0 {
		return fallback
	}
	sorted := append([]int(nil), lengths...)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
