package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mweller/arcadecrm/internal/jobqueue"
)

// queueCmd represents the queue command
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the job queue lanes",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-lane job counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		pool, _, cleanup, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := jobqueue.NewStore(pool).Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read queue stats: %w", err)
		}

		if outputJSON {
			printOutput(stats)
			return nil
		}
		fmt.Printf("%-10s %8s %8s %9s %7s %9s\n", "QUEUE", "PENDING", "RUNNING", "FINISHED", "FAILED", "DEFERRED")
		for _, q := range jobqueue.Queues {
			s := stats[q]
			fmt.Printf("%-10s %8d %8d %9d %7d %9d\n", q, s.Pending, s.Running, s.Finished, s.Failed, s.Deferred)
		}
		return nil
	},
}

func init() {
	queueCmd.AddCommand(queueStatsCmd)
	rootCmd.AddCommand(queueCmd)
}
