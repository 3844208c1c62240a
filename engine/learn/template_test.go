package learn

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/repsense/repsense/engine/pose"
)

func ramp(t, dim int) [][]float64 {
	out := make([][]float64, t)
	for i := 0; i < t; i++ {
		out[i] = make([]float64, dim)
		for f := 0; f < dim; f++ {
			out[i][f] = float64(i * (f + 1))
		}
	}
	return out
}

func TestBuildTemplates_TargetLengthFromMedian(t *testing.T) {
	// GIVEN segments of lengths 10, 20, and 30
	seq := ramp(60, 4)
	segments := []Segment{{0, 10}, {10, 30}, {30, 60}}

	// WHEN templates are built without an explicit target length
	templates := BuildTemplates(segments, seq, 0)

	// THEN all templates are resampled to the median length 20
	assert.Len(t, templates, 3)
	for i, tpl := range templates {
		assert.Equalf(t, 20, tpl.T, "template %d target length", i)
		assert.Lenf(t, tpl.Data, 20, "template %d rows", i)
		assert.Equalf(t, 4, tpl.F, "template %d feature dim", i)
	}
	assert.Equal(t, 10, templates[0].OriginalLength)
	assert.Equal(t, 20, templates[1].OriginalLength)
	assert.Equal(t, 30, templates[2].OriginalLength)
}

func TestBuildTemplates_ZScoredPerDimension(t *testing.T) {
	seq := ramp(40, 3)
	templates := BuildTemplates([]Segment{{0, 40}}, seq, 25)

	assert.Len(t, templates, 1)
	for f := 0; f < 3; f++ {
		col := make([]float64, len(templates[0].Data))
		for i, row := range templates[0].Data {
			col[i] = row[f]
		}
		mean, std := pose.MeanStd(col)
		assert.InDeltaf(t, 0.0, mean, 1e-6, "dimension %d mean", f)
		assert.InDeltaf(t, 1.0, std, 1e-6, "dimension %d std", f)
	}
}

func TestBuildTemplates_SkipsTinySegments(t *testing.T) {
	seq := ramp(30, 2)
	templates := BuildTemplates([]Segment{{0, 2}, {2, 30}}, seq, 0)

	// The 2-frame segment is dropped; only the long one survives.
	assert.Len(t, templates, 1)
	assert.Equal(t, 2, templates[0].StartFrame)
}

func TestResample_EndpointsPreserved(t *testing.T) {
	segment := ramp(11, 2)
	out := resample(segment, 31)

	assert.Len(t, out, 31)
	assert.Equal(t, segment[0], out[0])
	assert.InDelta(t, segment[10][0], out[30][0], 1e-9)
	assert.InDelta(t, segment[10][1], out[30][1], 1e-9)
}

func TestMedianTemplateLength_Fallback(t *testing.T) {
	assert.Equal(t, 40, MedianTemplateLength(nil, 40))
}
