package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/repsense/repsense/engine/dtw"
)

// sineTemplate builds one repetition template of length t over dim features.
func sineTemplate(t, dim int, phase float64) Template {
	data := make([][]float64, t)
	for i := 0; i < t; i++ {
		data[i] = make([]float64, dim)
		for f := 0; f < dim; f++ {
			data[i][f] = math.Sin(phase + 2*math.Pi*float64(i)/float64(t) + float64(f))
		}
	}
	return Template{T: t, F: dim, Data: data, OriginalLength: t}
}

// testRecognizer builds a recognizer with small, fully specified parameters
// so the state machine can be driven directly.
func testRecognizer(countOnEntry bool) *Recognizer {
	return NewRecognizer(
		[]Template{sineTemplate(30, 4, 0), sineTemplate(30, 4, 0.2)},
		RecognizerConfig{
			Windows:      []int{10, 16},
			MedianLen:    30,
			EnergyP30:    0.2,
			EnergyP50:    0.5,
			EnergyP70:    1.0,
			CountOnEntry: countOnEntry,
			ThrIn:        0.5,
			ThrOut:       1.0,
			MinFramesIn:  3,
			MinFramesOut: 2,
		})
}

func TestNewRecognizer_DerivedFrameCounts(t *testing.T) {
	// GIVEN a recognizer with derived (unset) frame counts and median_len 30
	r := NewRecognizer([]Template{sineTemplate(30, 4, 0)}, RecognizerConfig{
		Windows: []int{16}, MedianLen: 30, ThrIn: 0.5, ThrOut: 1.0,
	})

	// THEN the clamps from the median length apply
	assert.Equal(t, 3, r.minFramesIn)   // round(0.10*30)
	assert.Equal(t, 2, r.minFramesOut)  // round(0.05*30) clamped to >= 1
	assert.Equal(t, 15, r.cooldownAfter) // round(0.40*30) clamped to [15, 20]
	assert.Equal(t, 15, r.outRearmFrames)
	assert.Equal(t, 16, r.WindowSize())
}

func TestNewRecognizer_TemplatesStandardized(t *testing.T) {
	// GIVEN templates with a large constant offset
	tpl := sineTemplate(30, 4, 0)
	for _, row := range tpl.Data {
		for f := range row {
			row[f] += 100
		}
	}
	r := NewRecognizer([]Template{tpl}, RecognizerConfig{Windows: []int{16}, ThrIn: 0.5, ThrOut: 1.0})

	// THEN the stacked template frames have zero mean per dimension
	for f := 0; f < 4; f++ {
		sum := 0.0
		n := 0
		for _, row := range r.templates[0] {
			sum += row[f]
			n++
		}
		assert.InDeltaf(t, 0.0, sum/float64(n), 1e-9, "dimension %d mean", f)
	}
}

func TestUpdate_WarmupReturnsSentinel(t *testing.T) {
	// GIVEN a fresh recognizer with buffer capacity 16
	r := testRecognizer(true)

	// WHEN fewer than half the buffer has been fed
	res := r.Update(make([]float64, 4))

	// THEN the result is a zeroed placeholder with sentinel distance
	assert.Equal(t, StateOut, res.State)
	assert.Equal(t, 0, res.Reps)
	assert.Equal(t, dtw.Sentinel, res.Distance)
	assert.Equal(t, 1, res.Debug.BufferSize)
}

func TestStepState_EntryCountsAndCoolsDown(t *testing.T) {
	// GIVEN a recognizer counting on entry with min_frames_in 3
	r := testRecognizer(true)

	// WHEN the entry condition holds for three frames
	for i := 0; i < 2; i++ {
		reason := r.stepState(0.3, 0.3, 0.8, 0)
		assert.Equal(t, ReasonOK, reason)
		assert.Equal(t, StateOut, r.state)
	}
	reason := r.stepState(0.3, 0.3, 0.8, 0)

	// THEN the third frame transitions to IN, counts, and starts cooldown
	assert.Equal(t, ReasonCounted, reason)
	assert.Equal(t, StateIn, r.state)
	assert.Equal(t, 1, r.reps)
	assert.Equal(t, r.cooldownAfter, r.cooldown)
	assert.False(t, r.rearmedReady)
}

func TestStepState_EnergyGateBlocksStaticEntry(t *testing.T) {
	// GIVEN a matching distance but motion energy below the p50 gate
	r := testRecognizer(true)

	// WHEN many frames arrive
	for i := 0; i < 50; i++ {
		reason := r.stepState(0.3, 0.3, 0.1, 0)
		assert.Equal(t, ReasonLowEnergy, reason)
	}

	// THEN no entry and no count ever happens
	assert.Equal(t, StateOut, r.state)
	assert.Equal(t, 0, r.reps)
}

func TestStepState_ThresholdBlocksEntry(t *testing.T) {
	r := testRecognizer(true)
	reason := r.stepState(0.9, 0.9, 0.8, 0)
	assert.Equal(t, ReasonNoEnterThreshold, reason)
	assert.Equal(t, StateOut, r.state)
}

func TestStepState_CooldownAndRearmSpacing(t *testing.T) {
	// GIVEN a recognizer that just counted a rep on entry
	r := testRecognizer(true)
	for i := 0; i < 3; i++ {
		r.stepState(0.3, 0.3, 0.8, 0)
	}
	assert.Equal(t, 1, r.reps)

	// WHEN it exits via low energy and immediately sees matching frames again
	for r.state == StateIn {
		r.stepState(0.3, 0.3, 0.05, 0)
	}
	framesUntilSecond := 0
	for r.reps < 2 && framesUntilSecond < 100 {
		r.stepState(0.3, 0.3, 0.8, 0)
		framesUntilSecond++
	}

	// THEN the second count respects the cooldown: at least cooldown frames
	// plus the minimum entry frames pass first
	assert.Equal(t, 2, r.reps)
	assert.GreaterOrEqual(t, framesUntilSecond, r.cooldownAfter)
}

func TestStepState_CountedExitWhenNotCountingOnEntry(t *testing.T) {
	// GIVEN a recognizer counting on exit with min_frames_out 2
	r := testRecognizer(false)

	// WHEN it enters without counting
	for i := 0; i < 3; i++ {
		r.stepState(0.3, 0.3, 0.8, 0)
	}
	assert.Equal(t, StateIn, r.state)
	assert.Equal(t, 0, r.reps)

	// AND the raw distance rises above thr_out for two frames
	r.stepState(1.2, 0.6, 0.8, 0)
	reason := r.stepState(1.2, 0.6, 0.8, 0)

	// THEN the exit counts the rep
	assert.Equal(t, ReasonCounted, reason)
	assert.Equal(t, StateOut, r.state)
	assert.Equal(t, 1, r.reps)
}

func TestStepState_FastRiseExitsViaZScore(t *testing.T) {
	// GIVEN a recognizer counting on exit, in the IN state
	r := testRecognizer(false)
	for i := 0; i < 3; i++ {
		r.stepState(0.3, 0.3, 0.8, 0)
	}
	assert.Equal(t, StateIn, r.state)

	// WHEN the z-score spikes above 1.9 while the raw distance stays low
	r.stepState(0.4, 0.4, 0.8, 2.5)
	r.stepState(0.4, 0.4, 0.8, 2.5)

	// THEN the counted exit fires
	assert.Equal(t, StateOut, r.state)
	assert.Equal(t, 1, r.reps)
}

func TestStepState_UncountedExitOnLowEnergy(t *testing.T) {
	// GIVEN a recognizer counting on entry, in the IN state
	r := testRecognizer(true)
	for i := 0; i < 3; i++ {
		r.stepState(0.3, 0.3, 0.8, 0)
	}
	assert.Equal(t, StateIn, r.state)
	assert.Equal(t, 1, r.reps)

	// WHEN motion energy drops below p30 for min_frames_out frames
	r.stepState(0.3, 0.3, 0.05, 0)
	reason := r.stepState(0.3, 0.3, 0.05, 0)

	// THEN the exit is uncounted
	assert.Equal(t, ReasonLowEnergy, reason)
	assert.Equal(t, StateOut, r.state)
	assert.Equal(t, 1, r.reps)
}

func TestStepState_RearmByTimeOrEnergy(t *testing.T) {
	// GIVEN a recognizer that consumed its rearm by entering once
	r := testRecognizer(true)
	for i := 0; i < 3; i++ {
		r.stepState(0.3, 0.3, 0.8, 0)
	}
	for r.state == StateIn {
		r.stepState(0.3, 0.3, 0.05, 0)
	}
	assert.False(t, r.rearmedReady)

	// WHEN a high-energy frame arrives (>= p70)
	r.stepState(0.9, 0.9, 1.5, 0)

	// THEN the recognizer rearms immediately without waiting out the window
	assert.True(t, r.rearmedReady)
}

func TestStepState_PhantomFrameCannotToggle(t *testing.T) {
	// A single matching frame must not flip the state: min_frames_in is 3.
	r := testRecognizer(true)
	r.stepState(0.3, 0.3, 0.8, 0)
	assert.Equal(t, StateOut, r.state)
	r.stepState(0.9, 0.9, 0.8, 0) // breaks the streak
	r.stepState(0.3, 0.3, 0.8, 0)
	r.stepState(0.3, 0.3, 0.8, 0)
	assert.Equal(t, StateOut, r.state)
}

func TestUpdate_RepsMonotoneAtMostOnePerFrame(t *testing.T) {
	// GIVEN a recognizer fed a long synthetic feature stream
	r := testRecognizer(true)
	prev := 0
	for i := 0; i < 400; i++ {
		features := make([]float64, 4)
		for f := range features {
			features[f] = math.Sin(2*math.Pi*float64(i)/30 + float64(f))
		}
		res := r.Update(features)

		// THEN reps never decrease and grow by at most one per frame
		assert.GreaterOrEqual(t, res.Reps, prev)
		assert.LessOrEqual(t, res.Reps, prev+1)
		prev = res.Reps
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	// GIVEN a recognizer with accumulated state
	r := testRecognizer(true)
	for i := 0; i < 3; i++ {
		r.stepState(0.3, 0.3, 0.8, 0)
	}
	r.Update(make([]float64, 4))
	assert.Equal(t, 1, r.reps)

	// WHEN reset
	r.Reset()

	// THEN the recognizer is back at its initial state
	assert.Equal(t, StateOut, r.State())
	assert.Equal(t, 0, r.Reps())
	assert.Empty(t, r.buffer)
	assert.Empty(t, r.rollValues)
	assert.Equal(t, dtw.Sentinel, r.smoothed)
	assert.True(t, r.rearmedReady)
}

func TestUpdateThresholds_KeepsOrdering(t *testing.T) {
	r := testRecognizer(true)
	r.UpdateThresholds(0.8, 0.7)
	thr := r.Thresholds()
	assert.Equal(t, 0.8, thr.ThrIn)
	assert.InDelta(t, 0.9, thr.ThrOut, 1e-9)
}
