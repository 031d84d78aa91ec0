package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/apresai/voicetutor/internal/prefetch"
	"github.com/apresai/voicetutor/internal/ttsprovider"
)

var prefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "Warm the audio cache for a topic's segments",
}

var (
	prefetchCurriculumID string
	prefetchTopicID      string
	prefetchSegmentsFile string
	prefetchVoiceID      string
	prefetchProvider     string
	prefetchSpeed        float64
)

var prefetchTopicCmd = &cobra.Command{
	Use:   "topic",
	Short: "Prefetch every segment of a topic from a newline-delimited text file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if prefetchSegmentsFile == "" {
				return fmt.Errorf("--segments is required")
			}
			lines, err := readLines(prefetchSegmentsFile)
			if err != nil {
				return err
			}
			segments := make([]prefetch.Segment, len(lines))
			for i, l := range lines {
				segments[i] = prefetch.Segment{ID: fmt.Sprintf("seg-%d", i), Text: l.Text}
			}

			jobID := a.prefetch.PrefetchTopic(ctx, prefetchCurriculumID, prefetchTopicID, segments,
				prefetchVoiceID, ttsprovider.Provider(prefetchProvider), prefetchSpeed, nil)

			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					p, ok := a.prefetch.GetProgress(jobID)
					if !ok {
						return fmt.Errorf("job disappeared: %s", jobID)
					}
					if p.Status.Terminal() {
						fmt.Printf("prefetch %s: %s (%d cached, %d generated, %d failed of %d)\n",
							jobID, p.Status, p.Cached, p.Generated, p.Failed, p.Total)
						return nil
					}
				}
			}
		})
	},
}

func init() {
	prefetchTopicCmd.Flags().StringVar(&prefetchCurriculumID, "curriculum", "", "curriculum ID")
	prefetchTopicCmd.Flags().StringVar(&prefetchTopicID, "topic", "", "topic ID")
	prefetchTopicCmd.Flags().StringVar(&prefetchSegmentsFile, "segments", "", "path to a newline-delimited text file of segments")
	prefetchTopicCmd.Flags().StringVar(&prefetchVoiceID, "voice-id", "", "upstream voice ID")
	prefetchTopicCmd.Flags().StringVar(&prefetchProvider, "provider", "vibevoice", "vibevoice|piper|chatterbox")
	prefetchTopicCmd.Flags().Float64Var(&prefetchSpeed, "speed", 1.0, "speech speed multiplier")

	prefetchCmd.AddCommand(prefetchTopicCmd)
	rootCmd.AddCommand(prefetchCmd)
}
