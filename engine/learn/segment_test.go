package learn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// oscillation builds a [T][F] sequence of reps frames-long sine cycles with
// near-still valleys between them, the shape of a repeated exercise.
func oscillation(reps, period, dim int) [][]float64 {
	t := reps * period
	out := make([][]float64, t)
	for i := 0; i < t; i++ {
		out[i] = make([]float64, dim)
		phase := 2 * math.Pi * float64(i%period) / float64(period)
		amp := (1 - math.Cos(phase)) / 2 // 0 at rep boundaries, 1 mid-rep
		for f := 0; f < dim; f++ {
			out[i][f] = amp * float64(f+1)
		}
	}
	return out
}

func TestAutoSegment_TooShort_TrivialSegment(t *testing.T) {
	// GIVEN a sequence shorter than twice the minimum segment length
	seq := oscillation(1, 20, 4)

	// WHEN segmented with the defaults (min length 15)
	segments := AutoSegment(seq, SegmentConfig{})

	// THEN the trivial whole-sequence segment is returned
	assert.Equal(t, []Segment{{Start: 0, End: 20}}, segments)
}

func TestAutoSegment_CoversSequence(t *testing.T) {
	// GIVEN three clean repetition cycles
	seq := oscillation(3, 30, 6)

	// WHEN segmented
	segments := AutoSegment(seq, SegmentConfig{})

	// THEN segments exist, are non-empty, are ordered, and the first starts
	// at 0
	assert.NotEmpty(t, segments)
	assert.Equal(t, 0, segments[0].Start)
	for i, s := range segments {
		assert.GreaterOrEqualf(t, s.Len(), 1, "segment %d is empty", i)
		if i > 0 {
			assert.GreaterOrEqualf(t, s.Start, segments[i-1].Start, "segment %d out of order", i)
		}
	}
}

func TestCombineSegments_MergesCloseIntervals(t *testing.T) {
	// GIVEN two detections separated by less than minLen/2
	velocity := []Segment{{Start: 0, End: 30}}
	energy := []Segment{{Start: 35, End: 70}}

	// WHEN combined with minLen 15 (gap tolerance 7)
	merged := combineSegments(velocity, energy, 100, 15)

	// THEN they merge into one interval and the trailing gap is filled
	assert.Equal(t, []Segment{{Start: 0, End: 70}, {Start: 70, End: 99}}, merged)
}

func TestCombineSegments_DropsShortMerged(t *testing.T) {
	// GIVEN only a too-short detection
	velocity := []Segment{{Start: 10, End: 20}}

	// WHEN combined with minLen 15
	merged := combineSegments(velocity, nil, 60, 15)

	// THEN the fallback whole-sequence segment is returned
	assert.Equal(t, []Segment{{Start: 0, End: 59}}, merged)
}

func TestCombineSegments_Empty(t *testing.T) {
	merged := combineSegments(nil, nil, 40, 15)
	assert.Equal(t, []Segment{{Start: 0, End: 39}}, merged)
}

func TestSavgolFilter_PreservesQuadratic(t *testing.T) {
	// A window-5 order-2 Savitzky-Golay filter reproduces any quadratic
	// exactly, including at the edges.
	xs := make([]float64, 25)
	for i := range xs {
		x := float64(i)
		xs[i] = 2*x*x - 3*x + 1
	}
	smoothed := savgolFilter(xs, 5, 2)
	for i := range xs {
		assert.InDeltaf(t, xs[i], smoothed[i], 1e-6, "index %d", i)
	}
}

func TestSavgolFilter_ShortSignalUnchanged(t *testing.T) {
	xs := []float64{1, 2, 3}
	assert.Equal(t, xs, savgolFilter(xs, 5, 2))
}

func TestFindPeaks_HeightAndSpacing(t *testing.T) {
	// GIVEN a signal with three local maxima, two of them close together
	xs := []float64{0, 1, 0, 0.9, 0, 0, 0, 0, 2, 0}

	// WHEN peaks are found with height 0.5 and spacing 4
	peaks := findPeaks(xs, 0.5, 4)

	// THEN the higher of the close pair survives along with the distant peak
	assert.Equal(t, []int{1, 8}, peaks)
}
