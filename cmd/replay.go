package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/repsense/repsense/engine"
	"github.com/repsense/repsense/engine/store"
	"github.com/repsense/repsense/engine/trace"
)

var (
	replayArtifact string
	replayDB       string
	replayAction   string
	replayInput    string
	replayTarget   int
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded keypoints through a learned action and report reps",
	Long: `Replay feeds a recorded keypoint file frame by frame through the online
recognizer, exactly as a live session would see it. The engine is wall-clock
independent, so offline replay and live 30 fps video behave identically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		artifact, err := loadArtifact()
		if err != nil {
			return err
		}
		samples, err := loadSamples(replayInput)
		if err != nil {
			return err
		}

		session, err := engine.NewSession(artifact, engine.SessionConfig{
			TargetReps: replayTarget,
			Trace:      trace.Config{Level: trace.LevelFrames},
		})
		if err != nil {
			return err
		}

	feed:
		for _, sample := range samples {
			for _, frame := range sample.Frames {
				if session.ProcessFrame(frame).TargetReached {
					break feed
				}
			}
		}

		session.Metrics().Print()
		session.Trace().Summarize().Print()
		status := session.Status()
		if status.TargetReps > 0 {
			fmt.Printf("Target Reached   : %v (%d/%d)\n", status.TargetReached, status.Reps, status.TargetReps)
		}
		return nil
	},
}

// loadArtifact reads the artifact from --artifact JSON or the --db store.
func loadArtifact() (*engine.Artifact, error) {
	if replayArtifact != "" {
		raw, err := os.ReadFile(replayArtifact)
		if err != nil {
			return nil, fmt.Errorf("read artifact: %w", err)
		}
		var artifact engine.Artifact
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return nil, fmt.Errorf("decode artifact %s: %w", replayArtifact, err)
		}
		return &artifact, nil
	}
	if replayDB == "" || replayAction == "" {
		return nil, fmt.Errorf("either --artifact or both --db and --action are required")
	}
	db, err := store.OpenSQLite(replayDB)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Get(context.Background(), replayAction)
}

func init() {
	replayCmd.Flags().StringVar(&replayArtifact, "artifact", "", "Path to an artifact JSON")
	replayCmd.Flags().StringVar(&replayDB, "db", "", "SQLite artifact database path")
	replayCmd.Flags().StringVar(&replayAction, "action", "", "Action ID to load from --db")
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to recorded keypoints JSON")
	replayCmd.Flags().IntVar(&replayTarget, "target", 0, "Stop condition: target repetition count")
	replayCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(replayCmd)
}
