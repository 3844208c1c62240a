package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineSpec is the top-level engine configuration, loaded from YAML via
// LoadEngineSpec(path). Zero values fall back to documented defaults, so an
// empty file is a valid spec.
type EngineSpec struct {
	// BandRatio is the Sakoe-Chiba band fraction used by learning and
	// inference (default 0.15).
	BandRatio float64 `yaml:"band_ratio"`
	// SmoothingAlpha is the EMA weight on the prior smoothed distance
	// (default 0.12). Larger = smoother and slower entry.
	SmoothingAlpha float64 `yaml:"smoothing_alpha"`
	// CountOnEntry counts at the IN transition (default true) instead of the
	// counted OUT transition.
	CountOnEntry *bool `yaml:"count_on_entry,omitempty"`
	// TargetLength overrides the per-sample median template length; 0 derives
	// it from the segment lengths.
	TargetLength int `yaml:"target_length,omitempty"`

	Segmentation SegmentationSpec `yaml:"segmentation"`
	Server       ServerSpec       `yaml:"server"`
}

// SegmentationSpec groups the repetition-splitting parameters.
type SegmentationSpec struct {
	MinSegmentLength  int     `yaml:"min_segment_length"`  // default 15
	MaxSegmentLength  int     `yaml:"max_segment_length"`  // default 180
	VelocityThreshold float64 `yaml:"velocity_threshold"`  // default 0.5
	EnergyThreshold   float64 `yaml:"energy_threshold"`    // default 0.3
	SmoothingWindow   int     `yaml:"smoothing_window"`    // default 5
}

// ServerSpec groups the hosting HTTP layer's parameters.
type ServerSpec struct {
	Addr   string `yaml:"addr"`    // default ":8808"
	DBPath string `yaml:"db_path"` // empty = in-memory artifact store
}

// LoadEngineSpec reads and decodes a YAML engine spec.
func LoadEngineSpec(path string) (*EngineSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine spec: %w", err)
	}
	var spec EngineSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("decode engine spec %s: %w", path, err)
	}
	return &spec, nil
}
