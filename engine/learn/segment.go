// Package learn turns demonstration keypoint streams into calibrated action
// artifacts: segmentation into repetitions, template construction, and
// threshold/weight calibration.
package learn

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/repsense/repsense/engine/pose"
)

// Segment is a half-open frame interval [Start, End) over a feature sequence.
type Segment struct {
	Start int
	End   int
}

// Len returns the segment length in frames.
func (s Segment) Len() int { return s.End - s.Start }

// SegmentConfig tunes repetition splitting.
type SegmentConfig struct {
	MinLen            int     // minimum frames per repetition (default 15)
	MaxLen            int     // maximum frames per repetition (default 180)
	VelocityThreshold float64 // z-score below -threshold marks a boundary (default 0.5)
	EnergyThreshold   float64 // z-scored energy peak height (default 0.3)
	SmoothingWindow   int     // Savitzky-Golay window (default 5)
}

// DefaultSegmentConfig returns the segmentation defaults.
func DefaultSegmentConfig() SegmentConfig {
	return SegmentConfig{
		MinLen:            15,
		MaxLen:            180,
		VelocityThreshold: 0.5,
		EnergyThreshold:   0.3,
		SmoothingWindow:   5,
	}
}

func (c SegmentConfig) withDefaults() SegmentConfig {
	d := DefaultSegmentConfig()
	if c.MinLen <= 0 {
		c.MinLen = d.MinLen
	}
	if c.MaxLen <= 0 {
		c.MaxLen = d.MaxLen
	}
	if c.VelocityThreshold <= 0 {
		c.VelocityThreshold = d.VelocityThreshold
	}
	if c.EnergyThreshold <= 0 {
		c.EnergyThreshold = d.EnergyThreshold
	}
	if c.SmoothingWindow <= 0 {
		c.SmoothingWindow = d.SmoothingWindow
	}
	return c
}

// AutoSegment splits a [T][F] feature sequence into repetition intervals by
// combining a velocity detector (low-velocity valleys as boundaries) with an
// energy detector (activity peaks with valley boundaries between them) and
// merging the two. Sequences shorter than twice the minimum length yield the
// trivial whole-sequence segment.
func AutoSegment(seq [][]float64, cfg SegmentConfig) []Segment {
	cfg = cfg.withDefaults()
	t := len(seq)
	if t < 2*cfg.MinLen {
		return []Segment{{Start: 0, End: t}}
	}

	velocity := segmentByVelocity(seq, cfg)
	energy := segmentByEnergy(seq, cfg)
	return combineSegments(velocity, energy, t, cfg.MinLen)
}

// segmentByVelocity places boundaries where the smoothed, z-scored frame
// velocity dips below -threshold.
func segmentByVelocity(seq [][]float64, cfg SegmentConfig) []Segment {
	n := len(seq) - 1
	vel := make([]float64, n)
	diff := make([]float64, len(seq[0]))
	for i := 0; i < n; i++ {
		floats.SubTo(diff, seq[i+1], seq[i])
		vel[i] = floats.Norm(diff, 2)
	}
	vel = savgolFilter(vel, cfg.SmoothingWindow, 2)
	zScoreInPlace(vel)

	var segments []Segment
	inLow := false
	start := 0
	for i, v := range vel {
		isLow := v < -cfg.VelocityThreshold
		if isLow && !inLow {
			if i-start >= cfg.MinLen {
				segments = append(segments, Segment{Start: start, End: i})
			}
			start = i
			inLow = true
		} else if !isLow && inLow {
			start = i
			inLow = false
		}
	}
	if len(vel)-start >= cfg.MinLen {
		segments = append(segments, Segment{Start: start, End: len(vel)})
	}

	kept := segments[:0]
	for _, s := range segments {
		if s.Len() >= cfg.MinLen && s.Len() <= cfg.MaxLen {
			kept = append(kept, s)
		}
	}
	return kept
}

// segmentByEnergy finds activity peaks in the windowed feature variance and
// places boundaries at the valleys between consecutive peaks.
func segmentByEnergy(seq [][]float64, cfg SegmentConfig) []Segment {
	t := len(seq)
	window := cfg.SmoothingWindow
	if window < 3 {
		window = 3
	}
	energy := make([]float64, t)
	for i := 0; i < t; i++ {
		lo := maxInt(0, i-window/2)
		hi := minInt(t, i+window/2+1)
		energy[i] = blockVariance(seq[lo:hi])
	}
	energy = savgolFilter(energy, cfg.SmoothingWindow, 2)
	zScoreInPlace(energy)

	peaks := findPeaks(energy, cfg.EnergyThreshold, cfg.MinLen/2)
	if len(peaks) < 2 {
		return []Segment{{Start: 0, End: t - 1}}
	}

	var segments []Segment
	for i := range peaks {
		start := 0
		if i > 0 {
			start = valleyBetween(energy, peaks[i-1], peaks[i])
		}
		end := t - 1
		if i < len(peaks)-1 {
			end = valleyBetween(energy, peaks[i], peaks[i+1])
		}
		if end-start >= cfg.MinLen {
			segments = append(segments, Segment{Start: start, End: end})
		}
	}
	return segments
}

// combineSegments merges the sorted union of both detectors' intervals,
// tolerating gaps up to minLen/2, drops merged intervals shorter than minLen,
// and fills a leading gap from frame 0 and a trailing gap up to End = total-1.
// The trailing fill and the no-detection fallback {0, total-1} both end at
// total-1, so the final frame is not inside any returned segment.
func combineSegments(velocity, energy []Segment, total, minLen int) []Segment {
	all := append(append([]Segment(nil), velocity...), energy...)
	if len(all) == 0 {
		return []Segment{{Start: 0, End: total - 1}}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Start < all[j].Start })

	var merged []Segment
	cur := all[0]
	for _, s := range all[1:] {
		if s.Start <= cur.End+minLen/2 {
			if s.End > cur.End {
				cur.End = s.End
			}
		} else {
			if cur.Len() >= minLen {
				merged = append(merged, cur)
			}
			cur = s
		}
	}
	if cur.Len() >= minLen {
		merged = append(merged, cur)
	}
	if len(merged) == 0 {
		return []Segment{{Start: 0, End: total - 1}}
	}

	var final []Segment
	if merged[0].Start > 0 {
		final = append(final, Segment{Start: 0, End: merged[0].Start})
	}
	final = append(final, merged...)
	if merged[len(merged)-1].End < total-1 {
		final = append(final, Segment{Start: merged[len(merged)-1].End, End: total - 1})
	}
	return final
}

// findPeaks returns indices of strict local maxima with at least the given
// height, thinned so no two peaks are closer than minDistance (higher peaks
// win).
func findPeaks(xs []float64, height float64, minDistance int) []int {
	var candidates []int
	for i := 1; i < len(xs)-1; i++ {
		if xs[i] > xs[i-1] && xs[i] > xs[i+1] && xs[i] >= height {
			candidates = append(candidates, i)
		}
	}
	if minDistance <= 1 || len(candidates) < 2 {
		return candidates
	}
	// Keep peaks in descending height order, suppressing close neighbors.
	order := append([]int(nil), candidates...)
	sort.Slice(order, func(i, j int) bool { return xs[order[i]] > xs[order[j]] })
	kept := make([]bool, len(xs))
	for _, p := range order {
		ok := true
		for d := maxInt(0, p-minDistance+1); d < minInt(len(xs), p+minDistance); d++ {
			if kept[d] {
				ok = false
				break
			}
		}
		if ok {
			kept[p] = true
		}
	}
	var peaks []int
	for _, p := range candidates {
		if kept[p] {
			peaks = append(peaks, p)
		}
	}
	return peaks
}

// valleyBetween returns the index of the minimum of xs on [lo, hi).
func valleyBetween(xs []float64, lo, hi int) int {
	idx := lo
	for i := lo; i < hi; i++ {
		if xs[i] < xs[idx] {
			idx = i
		}
	}
	return idx
}

// blockVariance is the population variance over every value in the rows.
func blockVariance(rows [][]float64) float64 {
	n := 0
	sum := 0.0
	for _, row := range rows {
		for _, v := range row {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	ss := 0.0
	for _, row := range rows {
		for _, v := range row {
			d := v - mean
			ss += d * d
		}
	}
	return ss / float64(n)
}

func zScoreInPlace(xs []float64) {
	mean, std := pose.MeanStd(xs)
	for i := range xs {
		xs[i] = (xs[i] - mean) / (std + 1e-6)
	}
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
