package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/repsense/repsense/engine/dtw"
	"github.com/repsense/repsense/engine/pose"
	"github.com/repsense/repsense/engine/trace"
)

// SessionConfig tunes one live recognition session.
type SessionConfig struct {
	// TargetReps is the goal count: results and status report target reached
	// once the count hits it, and counting continues past it. 0 = no target.
	TargetReps int
	// ResumeReps offsets the reported count, for sessions resumed mid-plan.
	ResumeReps int
	// SmoothingAlpha overrides the artifact's EMA smoothing; 0 = default.
	SmoothingAlpha float64
	// CountOnEntry selects counting at the IN transition (default) or at the
	// counted OUT transition.
	CountOnEntry *bool
	// Trace enables per-frame record collection for offline analysis.
	Trace trace.Config
}

// FrameResult wraps the recognizer output with the session envelope.
type FrameResult struct {
	Success  bool      `json:"success"`
	Features []float64 `json:"features,omitempty"`
	Result
	TargetReached bool `json:"target_reached"`
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	Initialized     bool       `json:"initialized"`
	State           State      `json:"state"`
	Reps            int        `json:"reps"`
	TemplatesCount  int        `json:"templates_count"`
	WindowSize      int        `json:"window_size"`
	Thresholds      Thresholds `json:"thresholds"`
	TargetReps      int        `json:"target_reps,omitempty"`
	TargetReached   bool       `json:"target_reached"`
	FramesProcessed int        `json:"frames_processed"`
	RepetitionTimes []int      `json:"repetition_times"`
}

// Session binds one learned action's artifact to a live frame stream. It owns
// the recognizer plus the realtime normalization and velocity caches, and is
// the only stateful coordinator in the engine. One session serves one stream;
// it performs no locking of its own.
type Session struct {
	artifact *Artifact
	rec      *Recognizer

	prevFeatures []float64
	lastHint     *pose.NormHint

	frameIndex int
	repTimes   []int
	targetReps int
	resumeReps int

	tracer *trace.SessionTrace
}

// NewSession validates the artifact, instantiates the recognizer, and clears
// the realtime caches. The artifact is treated as read-only from here on.
//
// Defensively, when the persisted thresholds sit far below the runtime
// distance scale of the standardized templates (thr_in < 0.5*base or
// thr_out < 0.6*base for base = median pairwise template DTW), they are
// recalibrated to 0.75*base / 1.35*base.
func NewSession(artifact *Artifact, cfg SessionConfig) (*Session, error) {
	if artifact == nil {
		return nil, ErrNotInitialized
	}
	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("invalid artifact for action %q: %w", artifact.ActionID, err)
	}

	countOnEntry := true
	if cfg.CountOnEntry != nil {
		countOnEntry = *cfg.CountOnEntry
	}
	rec := NewRecognizer(artifact.Templates, RecognizerConfig{
		Windows:        artifact.Windows,
		BandRatio:      artifact.BandRatio,
		FeatureWeights: artifact.FeatureWeights,
		MedianLen:      artifact.MedianLen,
		EnergyP30:      artifact.EnergyP30,
		EnergyP50:      artifact.EnergyP50,
		EnergyP70:      artifact.EnergyP70,
		SmoothingAlpha: cfg.SmoothingAlpha,
		CountOnEntry:   countOnEntry,
		ThrIn:          artifact.Thresholds.ThrIn,
		ThrOut:         artifact.Thresholds.ThrOut,
	})

	s := &Session{
		artifact:   artifact,
		rec:        rec,
		targetReps: cfg.TargetReps,
		resumeReps: cfg.ResumeReps,
		tracer:     trace.NewSessionTrace(cfg.Trace),
	}
	s.recalibrateThresholds()
	return s, nil
}

// recalibrateThresholds bumps thresholds that are far below the runtime
// distance scale measured over the standardized templates.
func (s *Session) recalibrateThresholds() {
	dists := s.rec.pairwiseTemplateDistances()
	if len(dists) == 0 {
		return
	}
	sort.Float64s(dists)
	base := median(dists)
	thr := s.rec.Thresholds()
	if thr.ThrIn >= 0.5*base && thr.ThrOut >= 0.6*base {
		return
	}
	newIn := math.Max(0.1, 0.75*base)
	newOut := math.Max(newIn+0.2, 1.35*base)
	logrus.Infof("action %s: thresholds (%.4f, %.4f) below runtime scale %.4f, recalibrated to (%.4f, %.4f)",
		s.artifact.ActionID, thr.ThrIn, thr.ThrOut, base, newIn, newOut)
	s.rec.UpdateThresholds(newIn, newOut)
}

// ProcessFrame runs one keypoint frame through normalization (with sticky
// root/scale), feature extraction (with velocity from the previous frame),
// and the recognizer. It never fails on frame content; a missed detection
// should be fed as pose.EmptyFrame() to keep timing consistent.
func (s *Session) ProcessFrame(frame pose.Frame) FrameResult {
	normed := pose.Normalize(frame, nil, s.lastHint, pose.DefaultEMA)
	s.lastHint = &pose.NormHint{Root: normed.Root, Scale: normed.Scale}

	static := pose.FrameFeatures(normed.Points)
	features := make([]float64, 0, 2*len(static))
	features = append(features, static...)
	if len(s.prevFeatures) == len(static) {
		for f := range static {
			features = append(features, static[f]-s.prevFeatures[f])
		}
	} else {
		features = append(features, make([]float64, len(static))...)
	}
	s.prevFeatures = static

	res := s.update(features)
	res.Features = features
	return res
}

// ProcessFeatures feeds an already-extracted online feature vector (static +
// velocity) to the recognizer. The vector length must match the artifact's
// feature dimension.
func (s *Session) ProcessFeatures(features []float64) (FrameResult, error) {
	if len(features) != s.artifact.FeatureDim {
		return FrameResult{}, fmt.Errorf("%w: got %d features, artifact expects %d",
			ErrInputShape, len(features), s.artifact.FeatureDim)
	}
	return s.update(features), nil
}

func (s *Session) update(features []float64) FrameResult {
	before := s.rec.Reps()
	res := s.rec.Update(features)
	if s.rec.Reps() > before {
		s.repTimes = append(s.repTimes, s.frameIndex)
	}
	s.tracer.Record(trace.FrameRecord{
		FrameIndex:   s.frameIndex,
		State:        string(res.State),
		Reps:         s.resumeReps + res.Reps,
		RawDistance:  res.Debug.MinDistanceRaw,
		Smoothed:     res.Debug.MinDistanceSmoothed,
		MotionEnergy: res.Debug.MotionEnergy,
		Z:            res.Debug.Z,
		Reason:       string(res.Debug.Reason),
	})
	s.frameIndex++

	res.Reps += s.resumeReps
	return FrameResult{
		Success:       true,
		Result:        res,
		TargetReached: s.targetReps > 0 && res.Reps >= s.targetReps,
	}
}

// Reset clears the recognizer and all realtime caches; rep history and frame
// counters start over. The loaded artifact is kept.
func (s *Session) Reset() {
	s.rec.Reset()
	s.prevFeatures = nil
	s.lastHint = nil
	s.frameIndex = 0
	s.repTimes = nil
	s.tracer = trace.NewSessionTrace(s.tracer.Config)
}

// Status snapshots the session.
func (s *Session) Status() Status {
	reps := s.resumeReps + s.rec.Reps()
	return Status{
		Initialized:     true,
		State:           s.rec.State(),
		Reps:            reps,
		TemplatesCount:  s.rec.TemplateCount(),
		WindowSize:      s.rec.WindowSize(),
		Thresholds:      s.rec.Thresholds(),
		TargetReps:      s.targetReps,
		TargetReached:   s.targetReps > 0 && reps >= s.targetReps,
		FramesProcessed: s.frameIndex,
		RepetitionTimes: append([]int(nil), s.repTimes...),
	}
}

// Metrics summarizes the session for reporting.
func (s *Session) Metrics() SessionMetrics {
	return SessionMetrics{
		FramesProcessed: s.frameIndex,
		Reps:            s.resumeReps + s.rec.Reps(),
		RepetitionTimes: append([]int(nil), s.repTimes...),
		AvgRepDuration:  AvgRepDuration(s.repTimes),
	}
}

// Trace returns the collected per-frame records (never nil; it holds no
// frames when tracing is off).
func (s *Session) Trace() *trace.SessionTrace {
	return s.tracer
}

// NotInitializedResult is the inline result returned by hosting layers when
// inference is attempted before setup: state OUT, zero reps, sentinel
// distance.
func NotInitializedResult() FrameResult {
	return FrameResult{
		Success: false,
		Result: Result{
			State:      StateOut,
			Distance:   dtw.Sentinel,
			Thresholds: Thresholds{ThrIn: 0.5, ThrOut: 1.0},
			Debug: Debug{
				MinDistanceRaw:      dtw.Sentinel,
				MinDistanceSmoothed: dtw.Sentinel,
				Reason:              ReasonOK,
			},
		},
	}
}
