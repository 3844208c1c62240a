package pose

import "math"

// StaticFeatureDim is the per-frame feature count before velocity appending:
// 8 joint angles, 2 torso angles, 8 vertical relative heights, 8 lateral
// offsets, 6 cross-body distances.
const StaticFeatureDim = 32

// angleDeg returns the angle ABC in degrees, in [0, 180].
func angleDeg(a, b, c Vec2) float64 {
	ba := a.Sub(b)
	bc := c.Sub(b)
	cosv := (ba.X*bc.X + ba.Y*bc.Y) / (ba.Norm()*bc.Norm() + 1e-6)
	cosv = clamp(cosv, -1, 1)
	return math.Acos(cosv) * 180 / math.Pi
}

// FrameFeatures extracts the fixed 32-dimension feature vector from normalized
// keypoints. Angles degrade to 180 and relative positions to 0 when any
// involved point is the missing-point placeholder; the output is always finite
// (NaN → 0, +Inf → 10, -Inf → -10).
func FrameFeatures(points map[string]Vec2) []float64 {
	safeAngle := func(aName, bName, cName string) float64 {
		a, b, c := points[aName], points[bName], points[cName]
		if a.isPlaceholder() || b.isPlaceholder() || c.isPlaceholder() {
			return 180.0
		}
		return angleDeg(a, b, c)
	}
	// axis 0 = x (lateral offset), axis 1 = y (relative height)
	safeRel := func(pointName, refName string, axis int) float64 {
		p, ref := points[pointName], points[refName]
		if p.isPlaceholder() || ref.isPlaceholder() {
			return 0.0
		}
		if axis == 0 {
			return p.X - ref.X
		}
		return p.Y - ref.Y
	}
	dist := func(aName, bName string) float64 {
		return points[aName].Sub(points[bName]).Norm()
	}

	features := make([]float64, 0, StaticFeatureDim)

	// Joint angles (8)
	features = append(features,
		safeAngle("left_elbow", "left_shoulder", "left_wrist"),    // left shoulder flexion
		safeAngle("left_shoulder", "left_elbow", "left_wrist"),    // left elbow flexion
		safeAngle("right_elbow", "right_shoulder", "right_wrist"), // right shoulder flexion
		safeAngle("right_shoulder", "right_elbow", "right_wrist"), // right elbow flexion
		safeAngle("left_knee", "left_hip", "left_ankle"),          // left hip flexion
		safeAngle("left_hip", "left_knee", "left_ankle"),          // left knee flexion
		safeAngle("right_knee", "right_hip", "right_ankle"),       // right hip flexion
		safeAngle("right_hip", "right_knee", "right_ankle"),       // right knee flexion
	)

	// Torso angles (2)
	features = append(features,
		safeAngle("left_shoulder", "left_hip", "right_hip"),      // torso tilt
		safeAngle("left_hip", "left_shoulder", "right_shoulder"), // torso lean
	)

	// Vertical relative heights (8)
	features = append(features,
		safeRel("left_wrist", "left_shoulder", 1),
		safeRel("left_elbow", "left_shoulder", 1),
		safeRel("right_wrist", "right_shoulder", 1),
		safeRel("right_elbow", "right_shoulder", 1),
		safeRel("left_knee", "left_hip", 1),
		safeRel("left_ankle", "left_hip", 1),
		safeRel("right_knee", "right_hip", 1),
		safeRel("right_ankle", "right_hip", 1),
	)

	// Lateral offsets (8)
	features = append(features,
		safeRel("left_wrist", "left_shoulder", 0),
		safeRel("left_elbow", "left_shoulder", 0),
		safeRel("right_wrist", "right_shoulder", 0),
		safeRel("right_elbow", "right_shoulder", 0),
		safeRel("left_knee", "left_hip", 0),
		safeRel("left_ankle", "left_hip", 0),
		safeRel("right_knee", "right_hip", 0),
		safeRel("right_ankle", "right_hip", 0),
	)

	// Cross-body distances (6)
	features = append(features,
		dist("left_wrist", "right_wrist"),
		dist("left_elbow", "right_elbow"),
		dist("left_shoulder", "right_shoulder"),
		dist("left_hip", "right_hip"),
		dist("left_knee", "right_knee"),
		dist("left_ankle", "right_ankle"),
	)

	for i, v := range features {
		features[i] = finite(v)
	}
	return features
}

// finite coerces NaN and infinities to representable values.
func finite(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0.0
	case math.IsInf(v, 1):
		return 10.0
	case math.IsInf(v, -1):
		return -10.0
	}
	return v
}
