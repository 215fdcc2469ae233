package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mweller/arcadecrm/internal/hooks"
)

var (
	deliveryStatus string
	deliveryLimit  int
	sweepBatch     int
)

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect webhook delivery records",
}

var deliveryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent delivery records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		pool, cfg, cleanup, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		records := hooks.NewPGRecordStore(pool, cfg.Hook.MaxAttempts)
		recs, err := records.List(ctx, deliveryStatus, deliveryLimit)
		if err != nil {
			return fmt.Errorf("failed to list deliveries: %w", err)
		}

		if outputJSON {
			printOutput(recs)
			return nil
		}
		fmt.Printf("%-36s %-32s %-7s %8s  %s\n", "ID", "EVENT", "STATUS", "ATTEMPTS", "CREATED")
		for _, r := range recs {
			fmt.Printf("%-36s %-32s %-7s %8d  %s\n",
				r.ID, r.Event, r.Status, r.AttemptCount, r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var deliveryShowCmd = &cobra.Command{
	Use:   "show <record-id>",
	Short: "Show a delivery record with its payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		pool, cfg, cleanup, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		rec, err := hooks.NewPGRecordStore(pool, cfg.Hook.MaxAttempts).Fetch(ctx, args[0])
		if errors.Is(err, hooks.ErrRecordNotFound) {
			return fmt.Errorf("delivery %s not found", args[0])
		}
		if err != nil {
			return err
		}

		if outputJSON {
			printOutput(rec)
			return nil
		}
		fmt.Printf("ID:       %s\n", rec.ID)
		fmt.Printf("Event:    %s\n", rec.Event)
		fmt.Printf("Status:   %s\n", rec.Status)
		fmt.Printf("Attempts: %d\n", rec.AttemptCount)
		if rec.LastError != "" {
			fmt.Printf("Error:    %s\n", rec.LastError)
		}
		if rec.RunID != "" {
			fmt.Printf("Run ID:   %s\n", rec.RunID)
		}
		if rec.SentAt != nil {
			fmt.Printf("Sent:     %s\n", rec.SentAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("Payload:  %s\n", string(rec.Payload))
		return nil
	},
}

var deliverySweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Resend retryable delivery records now",
	Long: `Run one retry sweep immediately instead of waiting for the hourly
trigger. Each retryable record is resent with its stored payload.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		pool, cfg, cleanup, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		records := hooks.NewPGRecordStore(pool, cfg.Hook.MaxAttempts)
		sender := hooks.NewSender(cfg.Hook, records)

		recs, err := records.ListRetryable(ctx, sweepBatch)
		if err != nil {
			return fmt.Errorf("failed to list retryable deliveries: %w", err)
		}

		sent := 0
		for i := range recs {
			if sender.Resend(ctx, &recs[i]) {
				sent++
			}
		}
		fmt.Printf("swept %d records, %d sent\n", len(recs), sent)
		return nil
	},
}

func init() {
	deliveryListCmd.Flags().StringVar(&deliveryStatus, "status", "", "filter by status (queued, sent, failed)")
	deliveryListCmd.Flags().IntVar(&deliveryLimit, "limit", 20, "maximum records to show")
	deliverySweepCmd.Flags().IntVar(&sweepBatch, "batch", 50, "maximum records to resend")
	deliveryCmd.AddCommand(deliveryListCmd)
	deliveryCmd.AddCommand(deliveryShowCmd)
	deliveryCmd.AddCommand(deliverySweepCmd)
	rootCmd.AddCommand(deliveryCmd)
}
