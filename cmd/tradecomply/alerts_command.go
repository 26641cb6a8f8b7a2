package main

import (
	"github.com/spf13/cobra"

	"tradecomply/internal/app"
)

func newAlertsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and acknowledge compliance alerts",
	}
	cmd.AddCommand(newAlertsListCommand(ctx))
	cmd.AddCommand(newAlertsAckCommand(ctx))
	return cmd
}

func newAlertsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unread alerts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd.Context(), nil, func(c *app.Components) error {
				alerts, err := c.Alerts.ListUnacknowledged(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, alerts)
				}
				if len(alerts) == 0 {
					printf(cmd, "No unread alerts\n")
					return nil
				}

				rows := make([][]string, 0, len(alerts))
				for _, a := range alerts {
					rows = append(rows, []string{a.ID, a.ArtifactID, a.AlertType, a.Message, formatTime(a.CreatedAt)})
				}
				printf(cmd, "%s\n", renderTable([]string{"ID", "Document", "Type", "Message", "Created"}, rows, nil))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "Maximum number of alerts")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newAlertsAckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ack <id>...",
		Short: "Mark alerts as read",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd.Context(), nil, func(c *app.Components) error {
				for _, id := range args {
					if err := c.Alerts.Acknowledge(cmd.Context(), id); err != nil {
						return err
					}
					printf(cmd, "Acknowledged %s\n", id)
				}
				return nil
			})
		},
	}
}
