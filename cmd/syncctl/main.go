// Command syncctl runs single pipeline operations against the configured
// store: migrations, enqueue and tick, queue status, deletions and sweeps.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/reelpulse/reelpulse/internal/app"
	"github.com/reelpulse/reelpulse/internal/config"
	"github.com/reelpulse/reelpulse/internal/logging"
	"github.com/reelpulse/reelpulse/internal/models"
	"github.com/reelpulse/reelpulse/internal/queue"
	"github.com/reelpulse/reelpulse/internal/scheduler"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp loads config from the environment and assembles the pipeline. The
// caller must defer a.Close(), which waits for dispatched jobs.
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing pipeline: %w", err)
	}
	return a, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var rootCmd = &cobra.Command{
	Use:          "syncctl",
	Short:        "Operate the social analytics sync pipeline",
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Applied %d migration(s)\n", n)
		return nil
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <account-id>",
	Short: "Enqueue a manual sync for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawPriority, _ := cmd.Flags().GetString("priority")
		run, _ := cmd.Flags().GetBool("run")

		priority, err := queue.ParsePriority(rawPriority)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		job, created, err := a.Queue.Enqueue(cmd.Context(), queue.EnqueueRequest{
			AccountID: args[0],
			Trigger:   models.JobTriggerManual,
			Priority:  priority,
		})
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Enqueued job %s (priority %d)\n", job.ID, job.Priority)
		} else {
			fmt.Printf("Account already has %s job %s (priority %d)\n", job.Status, job.ID, job.Priority)
		}
		if !run {
			return nil
		}

		result, err := a.Queue.Tick(cmd.Context())
		if err != nil {
			return err
		}
		a.Dispatcher.Wait()
		return printJSON(result)
	},
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one queue dispatch tick and wait for the dispatched jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Queue.Tick(cmd.Context())
		if err != nil {
			return err
		}
		a.Dispatcher.Wait()
		return printJSON(result)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts and the next pending jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Queue.Status(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Enqueue scheduled syncs for every account that is due",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.Config.Schedule
		s := scheduler.NewSyncScheduler(a.Repos.Accounts, a.Queue, models.RealClock{}, cfg.SyncInterval, cfg.CheckInterval, a.Logger)
		n, err := s.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Enqueued %d scheduled sync(s)\n", n)
		return nil
	},
}

// delete commands
var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Run deletion cascades",
}

var deleteAccountCmd = &cobra.Command{
	Use:   "account <project-id> <account-id>",
	Short: "Delete an account with its videos, snapshots and stored images",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		deferred, _ := cmd.Flags().GetBool("deferred")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if deferred {
			cancelled, err := a.Cleanup.RequestAccountDeletion(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Account %s marked for deletion, %d job(s) cancelled\n", args[1], cancelled)
			return nil
		}
		report, err := a.Cleanup.DeleteAccount(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var deleteVideoCmd = &cobra.Command{
	Use:   "video <project-id> <video-id>",
	Short: "Delete one video and its snapshots",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Cleanup.DeleteVideo(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var deleteProjectCmd = &cobra.Command{
	Use:   "project <project-id>",
	Short: "Delete a project and every account in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Cleanup.DeleteProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Process accounts marked for deletion and trim old activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Cleanup.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	enqueueCmd.Flags().String("priority", "", "priority name (user, scheduled) or number")
	enqueueCmd.Flags().Bool("run", false, "run a tick after enqueueing and wait for it")
	deleteAccountCmd.Flags().Bool("deferred", false, "mark the account for the next sweep instead of deleting now")

	deleteCmd.AddCommand(deleteAccountCmd, deleteVideoCmd, deleteProjectCmd)
	rootCmd.AddCommand(migrateCmd, enqueueCmd, tickCmd, statusCmd, scheduleCmd, deleteCmd, sweepCmd)
}
