package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/apresai/voicetutor/internal/pregen"
	"github.com/apresai/voicetutor/internal/progress"
)

var pregenCmd = &cobra.Command{
	Use:   "pregen",
	Short: "Manage pre-generation batch jobs",
}

var (
	pregenCreateName       string
	pregenCreateSourceType string
	pregenCreateProfileID  string
	pregenCreateItemsFile  string
)

var pregenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a batch job from a newline-delimited text file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if pregenCreateItemsFile == "" {
				return fmt.Errorf("--items is required")
			}
			items, err := readLines(pregenCreateItemsFile)
			if err != nil {
				return err
			}
			job, err := a.pregen.CreateJob(ctx, pregenCreateName, pregenCreateSourceType, items, pregenCreateProfileID, nil)
			if err != nil {
				return err
			}
			fmt.Printf("created job %s (%d items)\n", job.ID, job.Total)
			return nil
		})
	},
}

func readLines(path string) ([]pregen.NewItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open items file: %w", err)
	}
	defer f.Close()

	var items []pregen.NewItem
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		items = append(items, pregen.NewItem{Text: text, SourceRef: path})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

var pregenStartWait bool

var pregenStartCmd = &cobra.Command{
	Use:   "start <job-id>",
	Short: "Start a pending job, optionally blocking on the CLI until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			var r *progress.BarRenderer
			if !cmd.Flags().Changed("quiet") {
				r = progress.NewBarRenderer(os.Stdout)
				a.pregen.SetProgressCallback(r.Handle)
			}
			if err := a.pregen.Start(ctx, args[0]); err != nil {
				return err
			}
			if !pregenStartWait {
				return nil
			}
			defer func() {
				if r != nil {
					r.Finish()
				}
			}()
			return waitForTerminal(ctx, a, args[0])
		})
	},
}

// waitForTerminal polls jobID's stored status until it reaches a terminal
// or paused status, for a CLI invocation where the operator wants to watch
// it through.
func waitForTerminal(ctx context.Context, a *app, jobID string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			job, err := a.pregen.GetJob(ctx, jobID)
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("job disappeared: %s", jobID)
			}
			if job.Status.Terminal() || job.Status == pregen.StatusPaused {
				return nil
			}
		}
	}
}

var pregenPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a running job, interrupting its in-flight item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			a.pregen.Pause(args[0])
			return nil
		})
	},
}

var pregenResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused or failed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.pregen.Resume(ctx, args[0])
		})
	},
}

var pregenCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.pregen.Cancel(ctx, args[0])
		})
	},
}

var pregenRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Reset failed items back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.pregen.RetryFailedItems(ctx, args[0])
		})
	},
}

var pregenDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Cancel, delete, and remove a job's output directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return a.pregen.DeleteJob(ctx, args[0])
		})
	},
}

var pregenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every job",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			jobs, err := a.pregen.ListJobs(ctx)
			if err != nil {
				return err
			}
			for _, j := range jobs {
				fmt.Printf("%-28s %-10s %-8s %d/%d (%d failed)  %s\n", j.ID, j.Status, j.Type, j.Completed, j.Total, j.Failed, j.Name)
			}
			return nil
		})
	},
}

var pregenStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show one job's detailed status and estimated remaining time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			job, err := a.pregen.GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			if job == nil {
				return fmt.Errorf("job not found: %s", args[0])
			}
			fmt.Printf("id:           %s\n", job.ID)
			fmt.Printf("name:         %s\n", job.Name)
			fmt.Printf("status:       %s\n", job.Status)
			fmt.Printf("progress:     %d/%d completed, %d failed, %d pending\n", job.Completed, job.Total, job.Failed, job.Pending())
			fmt.Printf("current:      index %d\n", job.CurrentIndex)
			if job.LastError != "" {
				fmt.Printf("last error:   %s\n", job.LastError)
			}
			fmt.Printf("est. remaining: %s\n", pregen.EstimatedRemaining(job))
			return nil
		})
	},
}

func init() {
	pregenCreateCmd.Flags().StringVar(&pregenCreateName, "name", "", "job name")
	pregenCreateCmd.Flags().StringVar(&pregenCreateSourceType, "source-type", "manual", "source type label")
	pregenCreateCmd.Flags().StringVar(&pregenCreateProfileID, "profile", "", "profile ID to use for every item")
	pregenCreateCmd.Flags().StringVar(&pregenCreateItemsFile, "items", "", "path to a newline-delimited text file")
	pregenStartCmd.Flags().Bool("quiet", false, "suppress the progress bar")
	pregenStartCmd.Flags().BoolVar(&pregenStartWait, "wait", false, "block until the job reaches a terminal or paused status")

	pregenCmd.AddCommand(pregenCreateCmd, pregenStartCmd, pregenPauseCmd, pregenResumeCmd,
		pregenCancelCmd, pregenRetryCmd, pregenDeleteCmd, pregenListCmd, pregenStatusCmd)
}
