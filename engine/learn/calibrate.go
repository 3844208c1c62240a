package learn

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/repsense/repsense/engine"
	"github.com/repsense/repsense/engine/dtw"
	"github.com/repsense/repsense/engine/pose"
)

// Calibration derives everything in the artifact besides the templates:
// window sizes, discriminative feature weights, motion-energy percentiles,
// and the hysteresis thresholds chosen by maximizing Youden's J over
// positive/negative DTW distance distributions.

// hysteresis margins around the Youden-optimal threshold
const (
	thrInScale  = 0.75
	thrOutScale = 1.35
)

// Calibration is everything Calibrate derives for one template set.
type Calibration struct {
	Thresholds     engine.Thresholds
	MedianLen      int
	Windows        []int
	FeatureWeights []float64
	EnergyP30      float64
	EnergyP50      float64
	EnergyP70      float64
}

// Calibrate computes the calibrated parameters for a template set. rng seeds
// the time-permutation negative proxy; pass a PartitionedRNG subsystem so the
// result is reproducible for a given action.
func Calibrate(templates []engine.Template, bandRatio float64, rng *rand.Rand) Calibration {
	medianLen := MedianTemplateLength(templates, 40)
	windows := DeriveWindows(medianLen)

	pos := stackTemplates(templates)
	neg := permuteRows(pos, rng)
	weights := FeatureWeights(pos, neg)

	energies := templateEnergies(templates)
	energyPcts := [3]float64{0.2, 0.5, 1.0}
	if len(energies) > 0 {
		sort.Float64s(energies)
		energyPcts = [3]float64{
			percentile(energies, 30),
			percentile(energies, 50),
			percentile(energies, 70),
		}
	}

	thresholds := engine.DefaultThresholds()
	if len(templates) >= 2 {
		posDists, negDists := distanceDistributions(templates, windows, bandRatio, weights, rng)
		if len(posDists) > 0 && len(negDists) > 0 {
			thr := pickThreshold(posDists, negDists)
			combined := append(append([]float64(nil), posDists...), negDists...)
			sort.Float64s(combined)
			thrIn := math.Max(0.1, thrInScale*thr)
			thresholds = engine.Thresholds{
				ThrIn:  thrIn,
				ThrOut: math.Max(thrIn+0.2, thrOutScale*thr),
				Median: thr,
				IQR:    percentile(combined, 75) - percentile(combined, 25),
			}
		}
	}

	return Calibration{
		Thresholds:     thresholds,
		MedianLen:      medianLen,
		Windows:        windows,
		FeatureWeights: weights,
		EnergyP30:      energyPcts[0],
		EnergyP50:      energyPcts[1],
		EnergyP70:      energyPcts[2],
	}
}

// DeriveWindows maps the median template length to three ascending DTW window
// sizes (~30%, 50%, 70% of a repetition), clamped, deduplicated, and sorted.
func DeriveWindows(medianLen int) []int {
	l := float64(medianLen)
	ws := []int{
		clampInt(int(math.Round(0.3*l)), 10, 32),
		clampInt(int(math.Round(0.5*l)), 16, 48),
		clampInt(int(math.Round(0.7*l)), 20, 56),
	}
	seen := make(map[int]bool, 3)
	var out []int
	for _, w := range ws {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	sort.Ints(out)
	return out
}

// FeatureWeights scores each feature dimension by discriminability over
// stability, w_f = |mu_pos - mu_neg| / (1 + var_pos), falling back to
// 1 / (1 + var_pos) when the negatives are unusable. Weights are clamped
// non-negative and L1-normalized; a degenerate sum yields uniform weights.
func FeatureWeights(pos, neg [][]float64) []float64 {
	if len(pos) == 0 {
		return []float64{1}
	}
	dim := len(pos[0])
	raw := make([]float64, dim)
	useNeg := len(neg) > 0 && len(neg[0]) == dim
	for f := 0; f < dim; f++ {
		muPos, stdPos := pose.MeanStd(columnOf(pos, f))
		varPos := stdPos * stdPos
		if useNeg {
			muNeg, _ := pose.MeanStd(columnOf(neg, f))
			raw[f] = math.Abs(muPos-muNeg) / (1 + varPos)
		} else {
			raw[f] = 1 / (1 + varPos)
		}
		if raw[f] < 0 {
			raw[f] = 0
		}
	}
	sum := floats.Sum(raw)
	if sum <= 1e-8 {
		uniform := make([]float64, dim)
		for f := range uniform {
			uniform[f] = 1 / float64(dim)
		}
		return uniform
	}
	for f := range raw {
		raw[f] /= sum
	}
	return raw
}

// distanceDistributions builds the positive distribution from mid-window
// crops of every unordered template pair and the negative distribution from
// each template against a time-permuted copy of itself.
func distanceDistributions(templates []engine.Template, windows []int, bandRatio float64, weights []float64, rng *rand.Rand) (pos, neg []float64) {
	if bandRatio <= 0 {
		bandRatio = engine.DefaultBandRatio
	}
	w := windows[len(windows)-1]
	band := maxInt(3, int(math.Round(bandRatio*float64(w))))

	for i := 0; i < len(templates); i++ {
		for j := i + 1; j < len(templates); j++ {
			a := midWindow(templates[i].Data, w)
			b := midWindow(templates[j].Data, w)
			if d := dtw.Distance(a, b, band, weights, nil); d < dtw.Sentinel {
				pos = append(pos, d)
			}
		}
	}

	for _, t := range templates {
		permuted := permuteRows(t.Data, rng)
		a := headWindow(t.Data, w)
		b := headWindow(permuted, w)
		if d := dtw.Distance(a, b, band, weights, nil); d < dtw.Sentinel {
			neg = append(neg, d)
		}
	}
	return pos, neg
}

// pickThreshold scans 200 quantiles of the combined distance distribution and
// returns the candidate maximizing Youden's J = TPR - FPR, where TPR is the
// fraction of positives at or below the candidate and FPR the fraction of
// negatives.
func pickThreshold(pos, neg []float64) float64 {
	combined := append(append([]float64(nil), pos...), neg...)
	sort.Float64s(combined)

	best := -1.0
	thr := combined[len(combined)/2]
	for k := 0; k < 200; k++ {
		candidate := percentile(combined, float64(k)*100/199)
		tpr := fractionAtOrBelow(pos, candidate)
		fpr := fractionAtOrBelow(neg, candidate)
		if j := tpr - fpr; j > best {
			best = j
			thr = candidate
		}
	}
	return thr
}

func fractionAtOrBelow(xs []float64, t float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	n := 0
	for _, x := range xs {
		if x <= t {
			n++
		}
	}
	return float64(n) / float64(len(xs))
}

// templateEnergies is the per-template motion energy for templates long
// enough to have one.
func templateEnergies(templates []engine.Template) []float64 {
	var energies []float64
	for _, t := range templates {
		if len(t.Data) >= 3 {
			energies = append(energies, pose.MotionEnergy(t.Data))
		}
	}
	return energies
}

// stackTemplates concatenates all template frames into one [N][F] matrix.
func stackTemplates(templates []engine.Template) [][]float64 {
	var out [][]float64
	for _, t := range templates {
		out = append(out, t.Data...)
	}
	return out
}

// permuteRows returns a copy of m with rows shuffled, the negative proxy for
// off-motion structure.
func permuteRows(m [][]float64, rng *rand.Rand) [][]float64 {
	out := make([][]float64, len(m))
	copy(out, m)
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// midWindow crops up to w frames centered in the sequence.
func midWindow(m [][]float64, w int) [][]float64 {
	if len(m) <= w {
		return m
	}
	start := len(m)/2 - w/2
	return m[start : start+w]
}

// headWindow crops the first w frames.
func headWindow(m [][]float64, w int) [][]float64 {
	if len(m) <= w {
		return m
	}
	return m[:w]
}

// percentile computes the p-th percentile of sorted data with linear
// interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(rank)
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func columnOf(m [][]float64, f int) []float64 {
	col := make([]float64, len(m))
	for i := range m {
		col[i] = m[i][f]
	}
	return col
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
