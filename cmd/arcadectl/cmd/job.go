package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mweller/arcadecrm/internal/jobqueue"
)

// jobCmd represents the job command
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and retry individual jobs",
}

var jobShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job row",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		pool, _, cleanup, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		rec, err := jobqueue.NewStore(pool).FetchJob(ctx, args[0])
		if errors.Is(err, jobqueue.ErrNotFound) {
			return fmt.Errorf("job %s not found", args[0])
		}
		if err != nil {
			return err
		}

		if outputJSON {
			printOutput(rec)
			return nil
		}
		fmt.Printf("ID:       %s\n", rec.ID)
		fmt.Printf("Kind:     %s\n", rec.Kind)
		fmt.Printf("Queue:    %s\n", rec.Queue)
		fmt.Printf("Status:   %s\n", rec.Status)
		fmt.Printf("Retry:    %d/%d\n", rec.Retry, rec.MaxRetries)
		if rec.LastError != "" {
			fmt.Printf("Error:    %s\n", rec.LastError)
		}
		fmt.Printf("Enqueued: %s\n", rec.EnqueuedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Args:     %s\n", string(rec.Args))
		return nil
	},
}

var jobRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Reset a failed job and republish it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		enq, _, cleanup, err := openEnqueuer(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		ok, err := enq.RetryJob(ctx, args[0])
		if err != nil {
			return fmt.Errorf("retry failed: %w", err)
		}
		if !ok {
			fmt.Println("job is not in a failed state, nothing to retry")
			return nil
		}
		fmt.Printf("job %s requeued\n", args[0])
		return nil
	},
}

func init() {
	jobCmd.AddCommand(jobShowCmd)
	jobCmd.AddCommand(jobRetryCmd)
	rootCmd.AddCommand(jobCmd)
}
