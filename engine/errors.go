package engine

import "errors"

// Error kinds surfaced by the core. Every operation is total: it either
// produces a result or returns an error, wrapping one of these kinds where one
// applies (not every error does, e.g. out-of-order artifact thresholds); the
// stream is never aborted from inside the engine.
var (
	// ErrInputShape reports a malformed keypoint payload or a feature vector
	// of the wrong dimensionality. The caller must fix its input.
	ErrInputShape = errors.New("input shape mismatch")

	// ErrInsufficientData reports too little demonstration data: fewer than
	// MinSampleFrames keypoint frames in a sample, or no samples at all.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNoMotionDetected reports that segmentation found no valid repetition
	// in any sample.
	ErrNoMotionDetected = errors.New("no motion detected")

	// ErrNotInitialized reports inference against a session that has no
	// artifact loaded.
	ErrNotInitialized = errors.New("recognizer not initialized")
)

// MinSampleFrames is the minimum demo length accepted by the learning
// pipeline (one second at 30 fps).
const MinSampleFrames = 30
