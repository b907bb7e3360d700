package cmd

import (
	"github.com/spf13/cobra"

	"github.com/callrelay/callrelay/internal/callctl"
	"github.com/callrelay/callrelay/internal/callreport/repository"
)

func migrateCmd(app *callctl.App) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the call_records schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Migrate(cmd.Context())
		},
	}
}

func summaryCmd(app *callctl.App) *cobra.Command {
	filter := &repository.Filter{}
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print a summary of stored call records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Summary(cmd.Context(), filter)
		},
	}
	cmd.Flags().StringVar(&filter.CampaignName, "campaign", "", "Only calls of this campaign")
	cmd.Flags().StringVar(&filter.Dtmf, "dtmf", "", "Only calls with this DTMF capture: 0, 1 or null")
	cmd.Flags().StringVar(&filter.CallStatus, "status", "", "Only calls with this status: Answered, Missed or Connected")
	cmd.Flags().StringVar(&filter.CallType, "type", "", "Only calls of this type: INBOUND or OUTBOUND")
	cmd.Flags().StringVar(&filter.DateFrom, "from", "", "Only calls at or after this date or timestamp")
	cmd.Flags().StringVar(&filter.DateTo, "to", "", "Only calls at or before this date or timestamp")
	return cmd
}

func loadTestCmd(app *callctl.App) *cobra.Command {
	params := callctl.LoadTestParams{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Post random call records to the ingress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.LoadTest(cmd.Context(), params)
			return err
		},
	}
	cmd.Flags().IntVar(&params.Count, "count", 1000, "Number of records to send")
	cmd.Flags().IntVar(&params.Concurrency, "concurrency", 10, "Number of concurrent requests")
	cmd.Flags().StringSliceVar(&params.Campaigns, "campaigns", []string{"Sales_Team"}, "Campaign names to pick from")
	return cmd
}

func deadLetterCmd(app *callctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and replay records of batches that failed to store",
	}

	var listCount int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List the oldest dead-lettered records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.DeadLetterList(listCount)
		},
	}
	list.Flags().Int64Var(&listCount, "count", 20, "Maximum number of records to list")

	var replayCount int64
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Post dead-lettered records back to the ingress, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := app.DeadLetterReplay(cmd.Context(), replayCount)
			return err
		},
	}
	replay.Flags().Int64Var(&replayCount, "count", 100, "Maximum number of records to replay")

	cmd.AddCommand(list, replay)
	return cmd
}
