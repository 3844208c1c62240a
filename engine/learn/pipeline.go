package learn

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/repsense/repsense/engine"
	"github.com/repsense/repsense/engine/pose"
)

// Config tunes the learning pipeline.
type Config struct {
	Segment   SegmentConfig
	BandRatio float64 // Sakoe-Chiba band fraction (default 0.15)
	// TargetLength overrides per-sample template length; 0 derives the median
	// segment length per sample.
	TargetLength int
}

// Sample is one demonstration recording, as a sequence of keypoint frames.
type Sample struct {
	Frames []pose.Frame
}

// FinalizeAction runs the full learning pipeline over an action's
// demonstration samples: normalization, feature extraction, segmentation,
// template construction, and calibration. Samples are processed concurrently;
// a sample that fails is logged and skipped, and finalize fails only when no
// sample yields templates.
//
// The returned artifact is deterministic for a given action ID and sample
// set: the calibration negative proxy is seeded from ActionSeed(actionID) and
// the seed is recorded in the artifact.
func FinalizeAction(ctx context.Context, actionID string, samples []Sample, cfg Config) (*engine.Artifact, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: action %q has no samples", engine.ErrInsufficientData, actionID)
	}
	if cfg.BandRatio <= 0 {
		cfg.BandRatio = engine.DefaultBandRatio
	}

	perSample := make([][]engine.Template, len(samples))
	frameCounts := make([]int, len(samples))
	var mu sync.Mutex
	var firstErr error

	g, ctx := errgroup.WithContext(ctx)
	for i, sample := range samples {
		i, sample := i, sample
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			templates, err := sampleToTemplates(sample, cfg)
			if err != nil {
				logrus.Warnf("action %s: sample %d skipped: %v", actionID, i, err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return nil
			}
			perSample[i] = templates
			frameCounts[i] = len(sample.Frames)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var templates []engine.Template
	totalFrames := 0
	for i := range perSample {
		templates = append(templates, perSample[i]...)
		totalFrames += frameCounts[i]
	}
	if len(templates) == 0 {
		if firstErr != nil {
			return nil, fmt.Errorf("action %q: no valid templates: %w", actionID, firstErr)
		}
		return nil, fmt.Errorf("%w: action %q", engine.ErrNoMotionDetected, actionID)
	}

	seed := engine.ActionSeed(actionID)
	rng := engine.NewPartitionedRNG(seed).ForSubsystem(engine.SubsystemCalibration)
	cal := Calibrate(templates, cfg.BandRatio, rng)

	artifact := &engine.Artifact{
		ActionID:       actionID,
		Templates:      templates,
		Thresholds:     cal.Thresholds,
		MedianLen:      cal.MedianLen,
		Windows:        cal.Windows,
		BandRatio:      cfg.BandRatio,
		FeatureWeights: cal.FeatureWeights,
		EnergyP30:      cal.EnergyP30,
		EnergyP50:      cal.EnergyP50,
		EnergyP70:      cal.EnergyP70,
		FeatureDim:     templates[0].F,
		Seed:           seed,
		TotalFrames:    totalFrames,
	}
	if err := artifact.Validate(); err != nil {
		return nil, fmt.Errorf("action %q: calibration produced invalid artifact: %w", actionID, err)
	}
	logrus.Infof("action %s finalized: %d templates, median_len=%d, windows=%v, thr=(%.4f, %.4f)",
		actionID, len(templates), artifact.MedianLen, artifact.Windows,
		artifact.Thresholds.ThrIn, artifact.Thresholds.ThrOut)
	return artifact, nil
}

// sampleToTemplates converts one demo recording into templates: sticky-
// normalized features, velocity appending, sequence z-score, segmentation,
// and time normalization.
func sampleToTemplates(sample Sample, cfg Config) ([]engine.Template, error) {
	if len(sample.Frames) < engine.MinSampleFrames {
		return nil, fmt.Errorf("%w: %d frames, need at least %d",
			engine.ErrInsufficientData, len(sample.Frames), engine.MinSampleFrames)
	}

	features := SampleFeatures(sample.Frames)

	segments := AutoSegment(features, cfg.Segment)
	if len(segments) == 0 {
		return nil, engine.ErrNoMotionDetected
	}

	templates := BuildTemplates(segments, features, cfg.TargetLength)
	if len(templates) == 0 {
		return nil, engine.ErrNoMotionDetected
	}
	return templates, nil
}

// SampleFeatures turns a keypoint frame sequence into the offline [T][2F]
// feature sequence: per-frame sticky normalization and feature extraction,
// velocity appending, and per-dimension z-score across time.
func SampleFeatures(frames []pose.Frame) [][]float64 {
	features := make([][]float64, 0, len(frames))
	var hint *pose.NormHint
	for _, frame := range frames {
		normed := pose.Normalize(frame, nil, hint, pose.DefaultEMA)
		hint = &pose.NormHint{Root: normed.Root, Scale: normed.Scale}
		features = append(features, pose.FrameFeatures(normed.Points))
	}
	return pose.ZScoreColumns(pose.AddVelocity(features))
}
