package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/apresai/voicetutor/internal/session"
)

var (
	chatCurriculumID  string
	chatContextWindow int
	chatSystemPrompt  string
	chatAutoExpand    bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Drive an interactive tutoring conversation from stdin, for manual testing of the context/confidence pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			sessions := session.NewManager(a.log)
			if _, err := sessions.CreateUserSession("operator", session.VoiceConfig{}); err != nil {
				return err
			}
			conv, err := sessions.AttachConversation("operator", chatCurriculumID, chatContextWindow, chatSystemPrompt, chatAutoExpand)
			if err != nil {
				return err
			}
			defer sessions.EndUserSession("operator")
			fmt.Printf("session %s started (tier %s, budget %d tokens)\n", conv.SessionID, conv.Context.Tier(), conv.Context.Budget().Total)

			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("> ")
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					fmt.Print("> ")
					continue
				}

				reply, analysis, rec, err := conv.Respond(ctx, a.llm, line, false)
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					fmt.Print("> ")
					continue
				}

				fmt.Printf("%s\n", reply)
				fmt.Printf("  [confidence=%.2f trend=%s]\n", analysis.Confidence, conv.Confidence.Trend())
				if rec != nil {
					fmt.Printf("  [expansion recommended: priority=%s scope=%s reason=%q]\n", rec.Priority, rec.Scope, rec.Reason)
				}
				fmt.Print("> ")
			}
			return scanner.Err()
		})
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatCurriculumID, "curriculum", "demo-curriculum", "curriculum ID for the session")
	chatCmd.Flags().IntVar(&chatContextWindow, "context-window", 100000, "model context window, used to select the FOV budget tier")
	chatCmd.Flags().StringVar(&chatSystemPrompt, "system-prompt", "You are a patient, encouraging voice tutor.", "base system prompt")
	chatCmd.Flags().BoolVar(&chatAutoExpand, "auto-expand", true, "recommend context expansion when confidence drops")

	rootCmd.AddCommand(chatCmd)
}
