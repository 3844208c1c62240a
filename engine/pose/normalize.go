package pose

// Adaptive keypoint normalization with body-mode detection. Root and scale are
// chosen from whatever the detector could see this frame, falling back to the
// previous frame's values (sticky normalization) and finally to fixed defaults,
// so downstream stages never receive NaN.

// Mode identifies which part of the body drives normalization.
type Mode string

const (
	ModeFullBody  Mode = "full_body"
	ModeUpperBody Mode = "upper_body"
	ModeLowerBody Mode = "lower_body"
)

// BBox is an optional person bounding box used as a root/scale fallback.
type BBox struct {
	CX float64
	CY float64
	H  float64
}

// NormHint carries the previous frame's root and scale for sticky
// normalization and EMA scale smoothing.
type NormHint struct {
	Root  Vec2
	Scale float64
}

// Normalized is the result of normalizing one frame.
type Normalized struct {
	// Points holds (p - root) / scale for every known keypoint name.
	// Missing points carry the (0,0) placeholder.
	Points map[string]Vec2
	Root   Vec2
	Scale  float64
	Mode   Mode
}

const (
	// DefaultEMA is the default smoothing factor applied to the scale when a
	// previous scale is available (0 = no smoothing, 1 = frozen).
	DefaultEMA = 0.6

	scaleMin     = 20.0
	scaleMax     = 500.0
	scaleDefault = 100.0
)

// Normalize performs adaptive origin/scale normalization of a keypoint frame.
//
// Mode selection: shoulders+hips+knees → full body; shoulders without a
// complete lower body → upper body; hips or knees without shoulders → lower
// body; otherwise full body as a fallback.
//
// Root priority: hip midpoint, single hip, shoulder midpoint, single shoulder,
// bbox center, last root, (0.5, 0.5). Upper-body mode skips hips; lower-body
// mode skips shoulders.
//
// Scale priority: shoulder width, hip width, bbox height, 100. The scale is
// clamped to [20, 500] and then EMA-blended with the previous scale.
func Normalize(frame Frame, bbox *BBox, last *NormHint, ema float64) Normalized {
	hasShoulders := frame.visible("left_shoulder") || frame.visible("right_shoulder")
	hasHips := frame.visible("left_hip") || frame.visible("right_hip")
	hasKnees := frame.visible("left_knee") || frame.visible("right_knee")

	var mode Mode
	switch {
	case hasShoulders && hasHips && hasKnees:
		mode = ModeFullBody
	case hasShoulders && !(hasHips && hasKnees):
		mode = ModeUpperBody
	case (hasHips || hasKnees) && !hasShoulders:
		mode = ModeLowerBody
	default:
		mode = ModeFullBody
	}

	root, rootOK := selectRoot(frame, mode)
	if !rootOK && bbox != nil {
		root, rootOK = Vec2{X: bbox.CX, Y: bbox.CY}, true
	}
	if !rootOK && last != nil {
		root, rootOK = last.Root, true
	}
	if !rootOK {
		root = Vec2{X: 0.5, Y: 0.5}
	}

	scale, scaleOK := selectScale(frame, mode)
	if !scaleOK && bbox != nil {
		scale, scaleOK = bbox.H, true
	}
	if !scaleOK || scale < 1e-3 {
		scale = scaleDefault
	}
	scale = clamp(scale, scaleMin, scaleMax)
	if last != nil {
		scale = ema*last.Scale + (1-ema)*scale
	}

	points := make(map[string]Vec2, len(Names))
	for _, name := range Names {
		if p, ok := frame.point(name); ok {
			points[name] = Vec2{X: (p.X - root.X) / scale, Y: (p.Y - root.Y) / scale}
		} else {
			points[name] = Vec2{}
		}
	}

	return Normalized{Points: points, Root: root, Scale: scale, Mode: mode}
}

// selectRoot picks the normalization origin for the given mode.
func selectRoot(frame Frame, mode Mode) (Vec2, bool) {
	if mode == ModeFullBody || mode == ModeLowerBody {
		lh, lok := frame.point("left_hip")
		rh, rok := frame.point("right_hip")
		switch {
		case lok && rok:
			return midpoint(lh, rh), true
		case lok:
			return lh, true
		case rok:
			return rh, true
		}
	}
	if mode == ModeFullBody || mode == ModeUpperBody {
		ls, lok := frame.point("left_shoulder")
		rs, rok := frame.point("right_shoulder")
		switch {
		case lok && rok:
			return midpoint(ls, rs), true
		case lok:
			return ls, true
		case rok:
			return rs, true
		}
	}
	return Vec2{}, false
}

// selectScale picks the normalization scale for the given mode.
func selectScale(frame Frame, mode Mode) (float64, bool) {
	if mode == ModeFullBody || mode == ModeUpperBody {
		ls, lok := frame.point("left_shoulder")
		rs, rok := frame.point("right_shoulder")
		if lok && rok {
			return ls.Sub(rs).Norm(), true
		}
	}
	lh, lok := frame.point("left_hip")
	rh, rok := frame.point("right_hip")
	if lok && rok {
		return lh.Sub(rh).Norm(), true
	}
	return 0, false
}

func midpoint(a, b Vec2) Vec2 {
	return Vec2{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
