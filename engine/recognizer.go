package engine

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/repsense/repsense/engine/dtw"
	"github.com/repsense/repsense/engine/pose"
)

// State is the recognizer's hysteresis state.
type State string

const (
	StateOut State = "OUT"
	StateIn  State = "IN"
)

// ReasonCode explains the state machine's decision for one frame.
type ReasonCode string

const (
	ReasonOK               ReasonCode = "OK"
	ReasonCooling          ReasonCode = "COOLING"
	ReasonNoRearm          ReasonCode = "NO_REARM"
	ReasonNoEnterThreshold ReasonCode = "NO_ENTER(THR)"
	ReasonCounted          ReasonCode = "COUNTED"
	ReasonLowEnergy        ReasonCode = "LOW_ENERGY"
)

// RecognizerConfig carries the per-action parameters the calibrator derived.
// Zero values fall back to the documented defaults.
type RecognizerConfig struct {
	Windows        []int     // ascending multi-window sizes; buffer = max
	BandRatio      float64   // Sakoe-Chiba band fraction (default 0.15)
	FeatureWeights []float64 // L1-normalized per-dimension weights
	MedianLen      int       // median template length in frames (default 40)
	EnergyP30      float64   // exit gate (default 0.2)
	EnergyP50      float64   // entry gate (default 0.5)
	EnergyP70      float64   // rearm gate (default 1.0)
	SmoothingAlpha float64   // EMA weight on the prior smoothed distance (default 0.12)
	CountOnEntry   bool      // count at IN transition rather than counted exit
	ThrIn          float64   // entry threshold on the smoothed distance
	ThrOut         float64   // exit threshold on the raw distance
	MinFramesIn    int       // 0 = derive clamp(round(0.10*L), 2, 10)
	MinFramesOut   int       // 0 = derive clamp(round(0.05*L), 1, 6)
}

// Debug is the per-frame diagnostic block attached to every Result.
type Debug struct {
	BufferSize          int        `json:"buffer_size"`
	MinDistanceRaw      float64    `json:"min_distance_raw"`
	MinDistanceSmoothed float64    `json:"min_distance_smoothed"`
	AllDistances        []float64  `json:"all_distances"`
	FramesInState       int        `json:"frames_in_state"`
	MotionEnergy        float64    `json:"motion_energy"`
	DistDelta           float64    `json:"dist_delta"`
	AvgDistance         float64    `json:"avg_distance"`
	CooldownFrames      int        `json:"cooldown_frames"`
	RearmedReady        bool       `json:"rearmed_ready"`
	Z                   float64    `json:"z"`
	Reason              ReasonCode `json:"reason_code"`
}

// Result is the recognizer's per-frame output.
type Result struct {
	State      State      `json:"state"`
	Reps       int        `json:"reps"`
	Distance   float64    `json:"distance"`
	Thresholds Thresholds `json:"thresholds"`
	Debug      Debug      `json:"debug"`
}

// Recognizer runs multi-window banded DTW against all templates every frame
// and feeds the minimum distance into an OUT/IN hysteresis state machine with
// energy gating, cooldown, and rearm.
//
// Entry uses the EMA-smoothed distance (conservative against jitter); exit
// uses the raw distance and a rolling z-score spike (responsive). Per-window
// z-scoring makes the match robust to drift the offline template z-score
// cannot compensate for.
//
// Not safe for concurrent use; one Session owns one Recognizer.
type Recognizer struct {
	templates      [][][]float64
	windows        []int
	bandRatio      float64
	weights        []float64
	thrIn          float64
	thrOut         float64
	minFramesIn    int
	minFramesOut   int
	cooldownAfter  int
	outRearmFrames int
	medianLen      int
	energyP30      float64
	energyP50      float64
	energyP70      float64
	alpha          float64
	countOnEntry   bool

	featureMean        []float64
	featureStd         []float64
	motionEnergyMedian float64
	maxTemplateLen     int
	bufferSize         int

	buffer         [][]float64
	state          State
	reps           int
	framesInState  int
	smoothed       float64
	rollValues     []float64
	rollMax        int
	cooldown       int
	outConsecutive int
	rearmedReady   bool
	prevRaw        float64
	prevRawSet     bool
	lastDistances  []float64
	lastReason     ReasonCode
}

// NewRecognizer builds a recognizer from templates and calibrated parameters.
// Templates are standardized in place against the global feature mean/std of
// all stacked template frames (std floored at 1e-6).
func NewRecognizer(templates []Template, cfg RecognizerConfig) *Recognizer {
	r := &Recognizer{
		bandRatio:    cfg.BandRatio,
		weights:      cfg.FeatureWeights,
		thrIn:        cfg.ThrIn,
		thrOut:       cfg.ThrOut,
		medianLen:    cfg.MedianLen,
		energyP30:    cfg.EnergyP30,
		energyP50:    cfg.EnergyP50,
		energyP70:    cfg.EnergyP70,
		alpha:        cfg.SmoothingAlpha,
		countOnEntry: cfg.CountOnEntry,
	}
	if r.bandRatio <= 0 {
		r.bandRatio = DefaultBandRatio
	}
	if r.medianLen <= 0 {
		r.medianLen = 40
	}
	if r.alpha <= 0 {
		r.alpha = 0.12
	}
	if r.energyP30 == 0 && r.energyP50 == 0 && r.energyP70 == 0 {
		r.energyP30, r.energyP50, r.energyP70 = 0.2, 0.5, 1.0
	}

	l := float64(r.medianLen)
	r.minFramesIn = cfg.MinFramesIn
	if r.minFramesIn <= 1 {
		r.minFramesIn = clampInt(int(math.Round(0.10*l)), 2, 10)
	}
	r.minFramesOut = cfg.MinFramesOut
	if r.minFramesOut < 1 {
		r.minFramesOut = clampInt(int(math.Round(0.05*l)), 1, 6)
	}
	r.cooldownAfter = clampInt(int(math.Round(0.40*l)), 15, 20)
	r.outRearmFrames = clampInt(int(math.Round(0.40*l)), 15, 20)

	r.windows = dedupSortedWindows(cfg.Windows)
	if len(r.windows) == 0 {
		r.windows = []int{60}
	}
	r.bufferSize = r.windows[len(r.windows)-1]
	r.rollMax = maxInt(60, r.medianLen)

	r.templates = make([][][]float64, 0, len(templates))
	for _, t := range templates {
		r.templates = append(r.templates, copyMatrix(t.Data))
	}
	r.standardizeTemplates()
	logrus.Debugf("recognizer ready: %d templates, windows=%v, median template energy %.4f",
		len(r.templates), r.windows, r.motionEnergyMedian)

	r.resetState()
	return r
}

// standardizeTemplates normalizes all templates by the global mean/std of
// their stacked frames and records the median template motion energy.
func (r *Recognizer) standardizeTemplates() {
	if len(r.templates) == 0 {
		r.motionEnergyMedian = 1.0
		return
	}
	dim := len(r.templates[0][0])
	var stacked [][]float64
	for _, t := range r.templates {
		stacked = append(stacked, t...)
		if len(t) > r.maxTemplateLen {
			r.maxTemplateLen = len(t)
		}
	}
	r.featureMean = make([]float64, dim)
	r.featureStd = make([]float64, dim)
	for f := 0; f < dim; f++ {
		col := make([]float64, len(stacked))
		for i, row := range stacked {
			col[i] = row[f]
		}
		mean, std := pose.MeanStd(col)
		if std < 1e-6 {
			std = 1e-6
		}
		r.featureMean[f] = mean
		r.featureStd[f] = std
	}
	for _, t := range r.templates {
		for _, row := range t {
			for f := range row {
				row[f] = (row[f] - r.featureMean[f]) / r.featureStd[f]
			}
		}
	}

	var energies []float64
	for _, t := range r.templates {
		if len(t) >= 3 {
			energies = append(energies, pose.MotionEnergy(t))
		}
	}
	if len(energies) > 0 {
		sort.Float64s(energies)
		r.motionEnergyMedian = median(energies)
	} else {
		r.motionEnergyMedian = 1.0
	}
}

// Update consumes one feature frame and returns the running recognition state.
// Reps are monotone and increase by at most one per call.
func (r *Recognizer) Update(features []float64) Result {
	frame := make([]float64, len(features))
	copy(frame, features)
	r.buffer = append(r.buffer, frame)
	if len(r.buffer) > r.bufferSize {
		r.buffer = r.buffer[len(r.buffer)-r.bufferSize:]
	}

	if len(r.buffer) < r.bufferSize/2 {
		return r.result(dtw.Sentinel, Debug{
			BufferSize:          len(r.buffer),
			MinDistanceRaw:      dtw.Sentinel,
			MinDistanceSmoothed: dtw.Sentinel,
			CooldownFrames:      r.cooldown,
			RearmedReady:        r.rearmedReady,
			Reason:              r.lastReason,
		})
	}

	window := pose.ZScoreColumns(r.buffer)

	// Short-term motion energy over the tail of the window.
	energy := 0.0
	if len(window) >= 4 {
		recent := window
		if len(window) > 6 {
			recent = window[len(window)-6:]
		}
		energy = pose.MotionEnergy(recent)
	}

	// Multi-window DTW against every template; keep the global minimum.
	var allDists []float64
	for _, w := range r.windows {
		if len(window) < maxInt(8, w/2) {
			continue
		}
		seq := window
		if len(window) > w {
			seq = window[len(window)-w:]
		}
		band := maxInt(3, int(math.Round(r.bandRatio*float64(maxInt(w, r.maxTemplateLen)))))
		for _, t := range r.templates {
			allDists = append(allDists, dtw.Distance(seq, t, band, r.weights, nil))
		}
	}
	minDist := dtw.Sentinel
	for _, d := range allDists {
		if d < minDist {
			minDist = d
		}
	}

	// EMA smoothing, seeded with the first observed value.
	if r.smoothed >= dtw.Sentinel {
		r.smoothed = minDist
	} else {
		r.smoothed = r.alpha*r.smoothed + (1-r.alpha)*minDist
	}

	// Rolling z-score over raw distances.
	r.rollValues = append(r.rollValues, minDist)
	if len(r.rollValues) > r.rollMax {
		r.rollValues = r.rollValues[len(r.rollValues)-r.rollMax:]
	}
	mu, sigma := pose.MeanStd(r.rollValues)
	z := 0.0
	if sigma >= 1e-6 {
		z = (minDist - mu) / sigma
	}

	distDelta := 0.0
	if r.prevRawSet {
		distDelta = minDist - r.prevRaw
	}
	r.prevRaw = minDist
	r.prevRawSet = true

	r.lastDistances = append(r.lastDistances, minDist)
	if len(r.lastDistances) > 10 {
		r.lastDistances = r.lastDistances[len(r.lastDistances)-10:]
	}
	avg, _ := pose.MeanStd(r.lastDistances)

	reason := r.stepState(minDist, r.smoothed, energy, z)
	r.lastReason = reason
	if reason == ReasonCounted {
		logrus.Debugf("rep counted: reps=%d raw=%.4f smoothed=%.4f energy=%.4f", r.reps, minDist, r.smoothed, energy)
	}

	return r.result(r.smoothed, Debug{
		BufferSize:          len(r.buffer),
		MinDistanceRaw:      minDist,
		MinDistanceSmoothed: r.smoothed,
		AllDistances:        allDists,
		FramesInState:       r.framesInState,
		MotionEnergy:        energy,
		DistDelta:           distDelta,
		AvgDistance:         avg,
		CooldownFrames:      r.cooldown,
		RearmedReady:        r.rearmedReady,
		Z:                   z,
		Reason:              reason,
	})
}

// stepState advances the asymmetric hysteresis state machine by one frame.
//
// From OUT entry requires: no cooldown, rearmed (or no rep yet), smoothed
// distance at or below thr_in, and motion energy at or above the median
// template energy, all held for minFramesIn consecutive frames. From IN a
// counted exit needs the raw distance at or above thr_out or a z-score spike
// (only when not counting on entry); an uncounted exit needs energy below the
// 30th percentile; either held for minFramesOut frames.
func (r *Recognizer) stepState(raw, smooth, energy, z float64) ReasonCode {
	if r.cooldown > 0 {
		r.cooldown--
	}
	reason := ReasonOK

	switch r.state {
	case StateOut:
		r.outConsecutive++
		if r.outConsecutive >= r.outRearmFrames || energy >= r.energyP70 {
			r.rearmedReady = true
		}
		rearmed := r.rearmedReady || r.reps == 0
		entry := r.cooldown == 0 && rearmed && smooth <= r.thrIn && energy >= r.energyP50
		if entry {
			r.framesInState++
			if r.framesInState >= r.minFramesIn {
				r.state = StateIn
				r.framesInState = 0
				r.rearmedReady = false
				r.outConsecutive = 0
				if r.countOnEntry {
					r.countRep()
					reason = ReasonCounted
				}
			}
		} else {
			r.framesInState = 0
			switch {
			case r.cooldown > 0:
				reason = ReasonCooling
			case !rearmed:
				reason = ReasonNoRearm
			case smooth > r.thrIn:
				reason = ReasonNoEnterThreshold
			default:
				reason = ReasonLowEnergy
			}
		}

	case StateIn:
		r.outConsecutive = 0
		fastRise := z > 1.9
		exitCounted := (raw >= r.thrOut || fastRise) && !r.countOnEntry
		exitUncounted := energy < r.energyP30 && !exitCounted
		if exitCounted || exitUncounted {
			r.framesInState++
			if r.framesInState >= r.minFramesOut {
				r.state = StateOut
				r.framesInState = 0
				if exitCounted {
					r.countRep()
					reason = ReasonCounted
				} else {
					reason = ReasonLowEnergy
				}
			}
		} else {
			r.framesInState = 0
		}
	}
	return reason
}

func (r *Recognizer) countRep() {
	r.reps++
	r.cooldown = r.cooldownAfter
}

// pairwiseTemplateDistances computes DTW between every unordered template pair
// (after standardization), used for defensive threshold recalibration.
func (r *Recognizer) pairwiseTemplateDistances() []float64 {
	if len(r.templates) < 2 {
		return nil
	}
	band := maxInt(3, int(math.Round(r.bandRatio*float64(r.maxTemplateLen))))
	var dists []float64
	for i := 0; i < len(r.templates); i++ {
		for j := i + 1; j < len(r.templates); j++ {
			d := dtw.Distance(r.templates[i], r.templates[j], band, r.weights, nil)
			if d < dtw.Sentinel {
				dists = append(dists, d)
			}
		}
	}
	return dists
}

// UpdateThresholds replaces the hysteresis thresholds, keeping thr_out
// strictly above thr_in.
func (r *Recognizer) UpdateThresholds(thrIn, thrOut float64) {
	r.thrIn = thrIn
	r.thrOut = math.Max(thrIn+0.1, thrOut)
}

// Thresholds returns the active hysteresis thresholds.
func (r *Recognizer) Thresholds() Thresholds {
	return Thresholds{ThrIn: r.thrIn, ThrOut: r.thrOut}
}

// Reps returns the running repetition count.
func (r *Recognizer) Reps() int { return r.reps }

// State returns the current hysteresis state.
func (r *Recognizer) State() State { return r.state }

// WindowSize returns the rolling buffer capacity (the largest window).
func (r *Recognizer) WindowSize() int { return r.bufferSize }

// TemplateCount returns the number of loaded templates.
func (r *Recognizer) TemplateCount() int { return len(r.templates) }

// Reset clears the buffer, state, count, smoothing, and rolling statistics.
func (r *Recognizer) Reset() {
	r.resetState()
}

func (r *Recognizer) resetState() {
	r.buffer = nil
	r.state = StateOut
	r.reps = 0
	r.framesInState = 0
	r.smoothed = dtw.Sentinel
	r.rollValues = nil
	r.cooldown = 0
	r.outConsecutive = 0
	r.rearmedReady = true
	r.prevRaw = 0
	r.prevRawSet = false
	r.lastDistances = nil
	r.lastReason = ReasonOK
}

func (r *Recognizer) result(distance float64, debug Debug) Result {
	return Result{
		State:      r.state,
		Reps:       r.reps,
		Distance:   distance,
		Thresholds: r.Thresholds(),
		Debug:      debug,
	}
}

func dedupSortedWindows(ws []int) []int {
	seen := make(map[int]bool, len(ws))
	var out []int
	for _, w := range ws {
		if w > 0 && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	sort.Ints(out)
	return out
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = make([]float64, len(row))
		copy(out[i], row)
	}
	return out
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
