package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/apresai/voicetutor/internal/cachekey"
	"github.com/apresai/voicetutor/internal/comparison"
	"github.com/apresai/voicetutor/internal/ttsprofile"
)

var comparisonCmd = &cobra.Command{
	Use:   "comparison",
	Short: "Manage A/B voice comparison sessions",
}

var (
	comparisonCreateName     string
	comparisonCreateTextFile string
	comparisonCreateConfigs  []string
)

var comparisonCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session from a text file and a set of provider:voiceId configs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if comparisonCreateTextFile == "" {
				return fmt.Errorf("--texts is required")
			}
			lines, err := readLines(comparisonCreateTextFile)
			if err != nil {
				return err
			}
			samples := make([]comparison.Sample, 0, len(lines))
			for _, it := range lines {
				samples = append(samples, comparison.Sample{Text: it.Text, SourceRef: it.SourceRef})
			}

			configs, err := parseConfigs(comparisonCreateConfigs)
			if err != nil {
				return err
			}

			session, err := a.comparison.CreateSession(ctx, comparisonCreateName, samples, configs)
			if err != nil {
				return err
			}
			fmt.Printf("created session %s (%d samples x %d configs)\n", session.ID, len(session.Samples), len(session.Configurations))
			return nil
		})
	},
}

// parseConfigs turns "name=provider:voiceId[:speed]" flag values into
// comparison.Configuration entries.
func parseConfigs(raw []string) ([]comparison.Configuration, error) {
	var out []comparison.Configuration
	for _, r := range raw {
		nameRest := strings.SplitN(r, "=", 2)
		if len(nameRest) != 2 {
			return nil, fmt.Errorf("invalid --config %q: want name=provider:voiceId[:speed]", r)
		}
		parts := strings.Split(nameRest[1], ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid --config %q: want name=provider:voiceId[:speed]", r)
		}
		cfg := comparison.Configuration{
			Name:     nameRest[0],
			Provider: cachekey.Provider(parts[0]),
			VoiceID:  parts[1],
			Settings: ttsprofile.Settings{Speed: 1.0},
		}
		if len(parts) >= 3 {
			var speed float64
			if _, err := fmt.Sscanf(parts[2], "%f", &speed); err == nil {
				cfg.Settings.Speed = speed
			}
		}
		out = append(out, cfg)
	}
	return out, nil
}

var comparisonGenerateRegen bool

var comparisonGenerateCmd = &cobra.Command{
	Use:   "generate <session-id>",
	Short: "Generate every pending variant in a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.comparison.GenerateVariants(ctx, args[0], comparisonGenerateRegen)
		})
	},
}

var comparisonRateNotes string

var comparisonRateCmd = &cobra.Command{
	Use:   "rate <variant-id> <rating 1-5>",
	Short: "Record a rating for a variant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var rating int
			if _, err := fmt.Sscanf(args[1], "%d", &rating); err != nil {
				return fmt.Errorf("invalid rating %q: %w", args[1], err)
			}
			return a.comparison.RateVariant(ctx, args[0], rating, comparisonRateNotes)
		})
	},
}

var comparisonSummaryCmd = &cobra.Command{
	Use:   "summary <session-id>",
	Short: "Print the per-configuration rating summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			summary, err := a.comparison.GetSessionSummary(ctx, args[0])
			if err != nil {
				return err
			}
			for _, s := range summary {
				fmt.Printf("%-3d %-20s avg %.2f (%d ratings, %d ready, %d failed)\n",
					s.ConfigIndex, s.ConfigName, s.AvgRating, s.RatingCount, s.ReadyCount, s.FailedCount)
			}
			return nil
		})
	},
}

var comparisonPromoteName string

var comparisonPromoteCmd = &cobra.Command{
	Use:   "promote <variant-id>",
	Short: "Create a reusable profile from a rated variant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if comparisonPromoteName == "" {
				return fmt.Errorf("--name is required")
			}
			p, err := a.comparison.CreateProfileFromVariant(ctx, args[0], comparisonPromoteName)
			if err != nil {
				return err
			}
			fmt.Printf("created profile %s (%s)\n", p.ID, p.Name)
			return nil
		})
	},
}

var comparisonDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a comparison session and its audio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.comparison.DeleteSession(ctx, args[0])
		})
	},
}

func init() {
	comparisonCreateCmd.Flags().StringVar(&comparisonCreateName, "name", "", "session name")
	comparisonCreateCmd.Flags().StringVar(&comparisonCreateTextFile, "texts", "", "path to a newline-delimited text file of samples")
	comparisonCreateCmd.Flags().StringArrayVar(&comparisonCreateConfigs, "config", nil, "name=provider:voiceId[:speed], repeatable")

	comparisonGenerateCmd.Flags().BoolVar(&comparisonGenerateRegen, "regenerate", false, "regenerate already-ready variants too")
	comparisonRateCmd.Flags().StringVar(&comparisonRateNotes, "notes", "", "optional free-text notes")
	comparisonPromoteCmd.Flags().StringVar(&comparisonPromoteName, "name", "", "name for the new profile")

	comparisonCmd.AddCommand(comparisonCreateCmd, comparisonGenerateCmd, comparisonRateCmd,
		comparisonSummaryCmd, comparisonPromoteCmd, comparisonDeleteCmd)
}
