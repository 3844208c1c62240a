// Package engine provides the core action-learning and online rep-counting
// pipeline for repetitive body motions.
//
// # Reading Guide
//
// Start with these three files to understand the recognition kernel:
//   - artifact.go: the persisted learning artifact (templates, thresholds, windows)
//   - recognizer.go: multi-window DTW matching and the OUT/IN hysteresis state machine
//   - session.go: the only stateful coordinator, binding an artifact to a live frame stream
//
// # Architecture
//
// The engine package defines the artifact and recognition types; pure
// pipelines live in sub-packages:
//   - engine/pose/: keypoint normalization and feature extraction
//   - engine/dtw/: banded DTW distance and the LB_Keogh lower bound
//   - engine/learn/: segmentation, template building, calibration, and the
//     learning pipeline that turns demo keypoints into an Artifact
//   - engine/trace/: per-frame recognition records for offline analysis
//   - engine/store/: artifact persistence (in-memory and SQLite)
//
// Data flows one way: learn produces an Artifact, a Session consumes it
// read-only. Recognition state lives entirely inside the Session; there is no
// package-level mutable state, so independent sessions never alias.
//
// # Determinism
//
// All randomness flows through PartitionedRNG seeded from the action ID, so
// learning the same samples twice yields bit-identical artifacts.
package engine
