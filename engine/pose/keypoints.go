// Package pose turns raw 2D pose keypoints into fixed-dimension feature vectors.
//
// The package is a pure pipeline: adaptive normalization (root/scale/mode
// selection with sticky fallbacks) followed by feature extraction. It holds no
// state of its own; callers thread the previous frame's NormHint through to get
// sticky normalization.
package pose

import "math"

// Names is the 17-point COCO body skeleton, in canonical index order.
// Keypoint payloads given as plain rows are interpreted in this order.
var Names = []string{
	"nose", "left_eye", "right_eye", "left_ear", "right_ear",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_hip", "right_hip",
	"left_knee", "right_knee", "left_ankle", "right_ankle",
}

// ConfThreshold is the confidence below which a keypoint is treated as missing
// for root/scale selection. Missing points still normalize to a zero placeholder.
const ConfThreshold = 0.3

// Vec2 is a 2D point or displacement in frame coordinates.
type Vec2 struct {
	X float64
	Y float64
}

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

// Norm returns the Euclidean length of v.
func (v Vec2) Norm() float64 {
	return math.Hypot(v.X, v.Y)
}

// isPlaceholder reports whether v is the zero placeholder emitted for missing points.
func (v Vec2) isPlaceholder() bool {
	return math.Abs(v.X) < 1e-9 && math.Abs(v.Y) < 1e-9
}

// Keypoint is one named skeleton point with detector confidence in [0,1].
type Keypoint struct {
	Pos  Vec2
	Conf float64
}

// Frame maps keypoint names to detected points for a single video frame.
// Absent names are treated the same as low-confidence points.
type Frame map[string]Keypoint

// FrameFromRows builds a Frame from rows of [x, y] or [x, y, conf] in COCO
// index order. Rows past the 17 known names are ignored; a missing conf
// defaults to 1.
func FrameFromRows(rows [][]float64) Frame {
	f := make(Frame, len(Names))
	for i, name := range Names {
		if i >= len(rows) || len(rows[i]) < 2 {
			continue
		}
		kp := Keypoint{Pos: Vec2{X: rows[i][0], Y: rows[i][1]}, Conf: 1.0}
		if len(rows[i]) > 2 {
			kp.Conf = rows[i][2]
		}
		f[name] = kp
	}
	return f
}

// EmptyFrame returns a frame with all 17 keypoints at the origin with zero
// confidence. Fed in place of a missed detection so timing stays consistent.
func EmptyFrame() Frame {
	f := make(Frame, len(Names))
	for _, name := range Names {
		f[name] = Keypoint{}
	}
	return f
}

// point returns the keypoint position if present with sufficient confidence.
func (f Frame) point(name string) (Vec2, bool) {
	kp, ok := f[name]
	if !ok || kp.Conf < ConfThreshold {
		return Vec2{}, false
	}
	return kp.Pos, true
}

// visible reports whether the named point clears the confidence threshold.
func (f Frame) visible(name string) bool {
	_, ok := f.point(name)
	return ok
}
