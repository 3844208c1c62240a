package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/repsense/repsense/engine"
	"github.com/repsense/repsense/engine/learn"
	"github.com/repsense/repsense/engine/pose"
	"github.com/repsense/repsense/engine/store"
)

var (
	learnAction string
	learnInput  string
	learnOut    string
	learnDB     string
)

// samplesFile is the on-disk demo format: one or more samples, each a
// sequence of keypoint frames as [x, y, conf] rows in COCO order.
type samplesFile struct {
	Samples []struct {
		Frames [][][]float64 `json:"frames"`
	} `json:"samples"`
	// Frames allows a single-sample file without the samples wrapper.
	Frames [][][]float64 `json:"frames"`
}

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Learn an action from demo keypoints and emit its artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		samples, err := loadSamples(learnInput)
		if err != nil {
			return err
		}
		spec, err := loadSpec()
		if err != nil {
			return err
		}

		artifact, err := learn.FinalizeAction(context.Background(), learnAction, samples, learnConfigFromSpec(spec))
		if err != nil {
			return err
		}

		if learnOut != "" {
			raw, err := json.MarshalIndent(artifact, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(learnOut, raw, 0o644); err != nil {
				return fmt.Errorf("write artifact: %w", err)
			}
			logrus.Infof("artifact written to %s", learnOut)
		}
		if learnDB != "" {
			db, err := store.OpenSQLite(learnDB)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Put(context.Background(), artifact); err != nil {
				return err
			}
			logrus.Infof("artifact stored in %s", learnDB)
		}

		fmt.Printf("action %s: %d templates, median_len=%d, windows=%v, thr_in=%.4f, thr_out=%.4f\n",
			learnAction, len(artifact.Templates), artifact.MedianLen, artifact.Windows,
			artifact.Thresholds.ThrIn, artifact.Thresholds.ThrOut)
		return nil
	},
}

// loadSamples reads a demo keypoints JSON file into learning samples.
func loadSamples(path string) ([]learn.Sample, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	var file samplesFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode samples %s: %w", path, err)
	}
	if len(file.Samples) == 0 && len(file.Frames) > 0 {
		file.Samples = []struct {
			Frames [][][]float64 `json:"frames"`
		}{{Frames: file.Frames}}
	}
	samples := make([]learn.Sample, 0, len(file.Samples))
	for _, s := range file.Samples {
		frames := make([]pose.Frame, 0, len(s.Frames))
		for _, rows := range s.Frames {
			frames = append(frames, pose.FrameFromRows(rows))
		}
		samples = append(samples, learn.Sample{Frames: frames})
	}
	return samples, nil
}

// loadSpec reads the --config engine spec, or returns defaults.
func loadSpec() (*engine.EngineSpec, error) {
	if configPath == "" {
		return &engine.EngineSpec{}, nil
	}
	return engine.LoadEngineSpec(configPath)
}

func learnConfigFromSpec(spec *engine.EngineSpec) learn.Config {
	return learn.Config{
		Segment: learn.SegmentConfig{
			MinLen:            spec.Segmentation.MinSegmentLength,
			MaxLen:            spec.Segmentation.MaxSegmentLength,
			VelocityThreshold: spec.Segmentation.VelocityThreshold,
			EnergyThreshold:   spec.Segmentation.EnergyThreshold,
			SmoothingWindow:   spec.Segmentation.SmoothingWindow,
		},
		BandRatio:    spec.BandRatio,
		TargetLength: spec.TargetLength,
	}
}

func init() {
	learnCmd.Flags().StringVar(&learnAction, "action", "", "Action ID to learn")
	learnCmd.Flags().StringVar(&learnInput, "input", "", "Path to demo keypoints JSON")
	learnCmd.Flags().StringVar(&learnOut, "out", "", "Write the artifact JSON to this path")
	learnCmd.Flags().StringVar(&learnDB, "db", "", "Store the artifact in this SQLite database")
	learnCmd.MarkFlagRequired("action")
	learnCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(learnCmd)
}
