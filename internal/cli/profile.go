package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/apresai/voicetutor/internal/cachekey"
	"github.com/apresai/voicetutor/internal/ttsprofile"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage reusable TTS voice profiles",
}

var (
	profileCreateName     string
	profileCreateProvider string
	profileCreateVoiceID  string
	profileCreateSpeed    float64
	profileCreateLanguage string
)

var profileCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a named voice profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p := &ttsprofile.Profile{
				Name:     profileCreateName,
				Provider: cachekey.Provider(profileCreateProvider),
				VoiceID:  profileCreateVoiceID,
				Settings: ttsprofile.Settings{Speed: profileCreateSpeed, Language: profileCreateLanguage},
			}
			created, err := a.profiles.CreateProfile(ctx, p)
			if err != nil {
				return err
			}
			fmt.Printf("created profile %s (%s)\n", created.ID, created.Name)
			return nil
		})
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			profiles, err := a.profiles.ListProfiles(ctx, false)
			if err != nil {
				return err
			}
			for _, p := range profiles {
				def := ""
				if p.IsDefault {
					def = " (default)"
				}
				fmt.Printf("%-28s %-12s %-10s %s%s\n", p.ID, p.Provider, p.VoiceID, p.Name, def)
			}
			return nil
		})
	},
}

var profileSetDefaultCmd = &cobra.Command{
	Use:   "set-default <profile-id>",
	Short: "Mark a profile as the system default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.profiles.SetDefault(ctx, args[0])
		})
	},
}

var profileDeactivateCmd = &cobra.Command{
	Use:   "deactivate <profile-id>",
	Short: "Soft-delete a profile, preserving it for existing foreign keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.profiles.Deactivate(ctx, args[0])
		})
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <profile-id>",
	Short: "Hard-delete a profile and its sample clip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.profiles.HardDelete(ctx, args[0])
		})
	},
}

var profileDuplicateNewName string

var profileDuplicateCmd = &cobra.Command{
	Use:   "duplicate <profile-id>",
	Short: "Duplicate a profile under a new name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			dup, err := a.profiles.Duplicate(ctx, args[0], profileDuplicateNewName)
			if err != nil {
				return err
			}
			fmt.Printf("created profile %s (%s)\n", dup.ID, dup.Name)
			return nil
		})
	},
}

var (
	profileBindModuleID string
	profileBindContext  string
	profileBindPriority int
)

var profileBindCmd = &cobra.Command{
	Use:   "bind <profile-id>",
	Short: "Bind a profile to a module at a priority",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.profiles.BindModule(ctx, &ttsprofile.ModuleProfileBinding{
				ModuleID:  profileBindModuleID,
				ProfileID: args[0],
				Context:   profileBindContext,
				Priority:  profileBindPriority,
			})
		})
	},
}

var profileExportCmd = &cobra.Command{
	Use:   "export <profile-id>",
	Short: "Print a profile's portable JSON value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			e, err := a.profiles.Export(ctx, args[0])
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(e, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		})
	},
}

var profileImportFile string

var profileImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Create a profile from an exported JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if profileImportFile == "" {
				return fmt.Errorf("--file is required")
			}
			data, err := os.ReadFile(profileImportFile)
			if err != nil {
				return err
			}
			var e ttsprofile.ExportedProfile
			if err := json.Unmarshal(data, &e); err != nil {
				return fmt.Errorf("parse profile file: %w", err)
			}
			p, err := a.profiles.Import(ctx, e)
			if err != nil {
				return err
			}
			fmt.Printf("created profile %s (%s)\n", p.ID, p.Name)
			return nil
		})
	},
}

func init() {
	profileCreateCmd.Flags().StringVar(&profileCreateName, "name", "", "profile name")
	profileCreateCmd.Flags().StringVar(&profileCreateProvider, "provider", "", "vibevoice|piper|chatterbox")
	profileCreateCmd.Flags().StringVar(&profileCreateVoiceID, "voice-id", "", "upstream voice ID")
	profileCreateCmd.Flags().Float64Var(&profileCreateSpeed, "speed", 1.0, "speech speed multiplier")
	profileCreateCmd.Flags().StringVar(&profileCreateLanguage, "language", "", "chatterbox language code")

	profileDuplicateCmd.Flags().StringVar(&profileDuplicateNewName, "name", "", "name for the duplicate")

	profileBindCmd.Flags().StringVar(&profileBindModuleID, "module", "", "module ID")
	profileBindCmd.Flags().StringVar(&profileBindContext, "context", "", "optional context scope")
	profileBindCmd.Flags().IntVar(&profileBindPriority, "priority", 0, "binding priority (higher wins)")

	profileImportCmd.Flags().StringVar(&profileImportFile, "file", "", "path to an exported profile JSON file")

	profileCmd.AddCommand(profileCreateCmd, profileListCmd, profileSetDefaultCmd,
		profileDeactivateCmd, profileDeleteCmd, profileDuplicateCmd, profileBindCmd,
		profileExportCmd, profileImportCmd)
}
