package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tradecomply/internal/app"
	"tradecomply/internal/service/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var once bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd.Context(), nil, func(c *app.Components) error {
				if !once {
					return c.Worker.Run(cmd.Context())
				}

				outcomes, err := c.Worker.ProcessOnce(cmd.Context())
				if err != nil {
					return err
				}
				counts := countOutcomes(outcomes)
				if jsonOutput {
					return writeJSON(cmd, counts)
				}
				if len(outcomes) == 0 {
					printf(cmd, "No messages received\n")
					return nil
				}
				printf(cmd, "Received %d message(s): %s\n", len(outcomes), formatOutcomes(counts))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Receive one batch, process it and exit")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

var outcomeOrder = []worker.Outcome{
	worker.OutcomeProcessed,
	worker.OutcomeFailed,
	worker.OutcomeDuplicate,
	worker.OutcomePoison,
	worker.OutcomeRetry,
}

func countOutcomes(outcomes []worker.Outcome) map[worker.Outcome]int {
	counts := make(map[worker.Outcome]int, len(outcomeOrder))
	for _, o := range outcomeOrder {
		counts[o] = 0
	}
	for _, o := range outcomes {
		counts[o]++
	}
	return counts
}

func formatOutcomes(counts map[worker.Outcome]int) string {
	var out string
	for _, o := range outcomeOrder {
		if counts[o] == 0 {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%d %s", counts[o], o)
	}
	return out
}
