package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/apresai/voicetutor/internal/kbaudio"
	"github.com/apresai/voicetutor/internal/ttsprovider"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage knowledge-bowl audio pre-generation",
}

// moduleFile is the on-disk JSON shape `kb prefetch --module` consumes.
type moduleFile struct {
	ModuleID  string `json:"moduleId"`
	Questions []struct {
		ID          string   `json:"id"`
		Question    string   `json:"question"`
		Answer      string   `json:"answer"`
		Hints       []string `json:"hints"`
		Explanation string   `json:"explanation"`
	} `json:"questions"`
}

func readModuleContent(path string) (kbaudio.ModuleContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return kbaudio.ModuleContent{}, fmt.Errorf("read module file: %w", err)
	}
	var mf moduleFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return kbaudio.ModuleContent{}, fmt.Errorf("parse module file: %w", err)
	}
	content := kbaudio.ModuleContent{ModuleID: mf.ModuleID}
	for _, q := range mf.Questions {
		content.Questions = append(content.Questions, kbaudio.Question{
			ID: q.ID, Question: q.Question, Answer: q.Answer,
			Hints: q.Hints, Explanation: q.Explanation,
		})
	}
	return content, nil
}

var (
	kbPrefetchModuleFile string
	kbPrefetchVoiceID    string
	kbPrefetchProvider   string
	kbPrefetchSpeed      float64
	kbPrefetchForce      bool
)

var kbPrefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "Pre-generate every audio segment for a module and wait for the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if kbPrefetchModuleFile == "" {
				return fmt.Errorf("--module is required")
			}
			content, err := readModuleContent(kbPrefetchModuleFile)
			if err != nil {
				return err
			}

			jobID := a.kb.PrefetchModule(ctx, content, kbPrefetchVoiceID, ttsprovider.Provider(kbPrefetchProvider), kbPrefetchSpeed, kbPrefetchForce)
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					job, ok := a.kb.GetJob(jobID)
					if !ok {
						return fmt.Errorf("job disappeared: %s", jobID)
					}
					switch job.Status {
					case kbaudio.JobCompleted:
						fmt.Printf("module %s: %d segments generated\n", content.ModuleID, job.Completed)
						return nil
					case kbaudio.JobFailed:
						return fmt.Errorf("module %s: %d of %d segments failed", content.ModuleID, job.Failed, job.Total)
					case kbaudio.JobCancelled:
						fmt.Printf("module %s: cancelled\n", content.ModuleID)
						return nil
					}
				}
			}
		})
	},
}

var kbCoverageModuleFile string

var kbCoverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Report how much of a module's expected audio exists on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if kbCoverageModuleFile == "" {
				return fmt.Errorf("--module is required")
			}
			content, err := readModuleContent(kbCoverageModuleFile)
			if err != nil {
				return err
			}
			status := a.kb.GetCoverageStatus(content)
			fmt.Printf("module %s: %d/%d segments present (%.1f%%)\n",
				status.ModuleID, status.Present, status.ExpectedTotal, status.Percentage())
			for _, missing := range status.MissingSegments {
				fmt.Printf("  missing: %s\n", missing)
			}
			return nil
		})
	},
}

func init() {
	kbPrefetchCmd.Flags().StringVar(&kbPrefetchModuleFile, "module", "", "path to a module content JSON file")
	kbPrefetchCmd.Flags().StringVar(&kbPrefetchVoiceID, "voice-id", "", "upstream voice ID")
	kbPrefetchCmd.Flags().StringVar(&kbPrefetchProvider, "provider", "vibevoice", "vibevoice|piper|chatterbox")
	kbPrefetchCmd.Flags().Float64Var(&kbPrefetchSpeed, "speed", 1.0, "speech speed multiplier")
	kbPrefetchCmd.Flags().BoolVar(&kbPrefetchForce, "force", false, "regenerate segments that already exist on disk")

	kbCoverageCmd.Flags().StringVar(&kbCoverageModuleFile, "module", "", "path to a module content JSON file")

	kbCmd.AddCommand(kbPrefetchCmd, kbCoverageCmd)
	rootCmd.AddCommand(kbCmd)
}
