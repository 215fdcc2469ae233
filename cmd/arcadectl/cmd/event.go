package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mweller/arcadecrm/internal/events"
	"github.com/mweller/arcadecrm/internal/jobqueue"
)

var (
	eventPayload string
	eventQueue   string
)

// eventCmd represents the event command
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Publish events onto the job queue",
}

var eventPublishCmd = &cobra.Command{
	Use:   "publish <event-type>",
	Short: "Publish a test event for the worker to route",
	Long: `Publish a business event onto the job queue. The worker routes it the
same way production events are routed, so this exercises the full path
including hook delivery and group reconciliation.

Example:
  arcadectl event publish client.created --payload '{"client_id":"c1","name":"Ann","phone":"555-0100"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		var payload map[string]any
		if err := json.Unmarshal([]byte(eventPayload), &payload); err != nil {
			return fmt.Errorf("invalid payload JSON: %w", err)
		}

		enq, _, cleanup, err := openEnqueuer(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := events.NewPublisher(enq).Publish(ctx, args[0], payload, eventQueue); err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
		fmt.Printf("event %s published to %s lane\n", args[0], eventQueue)
		return nil
	},
}

func init() {
	eventPublishCmd.Flags().StringVar(&eventPayload, "payload", "{}", "event payload as JSON")
	eventPublishCmd.Flags().StringVar(&eventQueue, "queue", jobqueue.QueueDefault, "lane to publish on (high, default, low)")
	eventCmd.AddCommand(eventPublishCmd)
	rootCmd.AddCommand(eventCmd)
}
