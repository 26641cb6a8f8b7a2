package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tradecomply/internal/app"
	"tradecomply/internal/model"
	"tradecomply/internal/queue"
)

const statusLabelWidth = 20

type statusSummary struct {
	Documents    map[model.Status]int64 `json:"documents"`
	UnreadAlerts int                    `json:"unread_alerts"`
	QueueDepth   *int64                 `json:"queue_depth,omitempty"`
	QueueDriver  string                 `json:"queue_driver"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show document and alert counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd.Context(), nil, func(c *app.Components) error {
				summary, err := collectStatus(cmd.Context(), c)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, summary)
				}

				colors := shouldColorize(cmd.OutOrStdout())
				for _, s := range []model.Status{model.StatusPending, model.StatusProcessed, model.StatusFailed} {
					color := statusColor(s)
					if summary.Documents[s] == 0 {
						color = ""
					}
					printf(cmd, "%s\n", statusLine(string(s), fmt.Sprint(summary.Documents[s]), color, colors))
				}
				alertColor := ""
				if summary.UnreadAlerts > 0 {
					alertColor = ansiYellow
				}
				printf(cmd, "%s\n", statusLine("unread alerts", fmt.Sprint(summary.UnreadAlerts), alertColor, colors))
				if summary.QueueDepth != nil {
					printf(cmd, "%s\n", statusLine("queue depth", fmt.Sprint(*summary.QueueDepth), ansiBlue, colors))
				} else {
					printf(cmd, "%s\n", statusLine("queue", summary.QueueDriver, ansiBlue, colors))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func collectStatus(ctx context.Context, c *app.Components) (statusSummary, error) {
	counts, err := c.Artifacts.CountByStatus(ctx)
	if err != nil {
		return statusSummary{}, err
	}
	alerts, err := c.Alerts.ListUnacknowledged(ctx, 0)
	if err != nil {
		return statusSummary{}, err
	}

	summary := statusSummary{
		Documents:    counts,
		UnreadAlerts: len(alerts),
		QueueDriver:  c.Config.Queue.Driver,
	}
	switch q := c.Queue.(type) {
	case *queue.DatabaseQueue:
		depth, err := q.Depth(ctx)
		if err != nil {
			return statusSummary{}, err
		}
		summary.QueueDepth = &depth
	case *queue.MemoryQueue:
		depth := int64(q.Len())
		summary.QueueDepth = &depth
	}
	return summary, nil
}

func statusLine(label, value, color string, enabled bool) string {
	return colorize(fmt.Sprintf("  %-*s %s", statusLabelWidth, label+":", value), color, enabled)
}
