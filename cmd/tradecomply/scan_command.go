package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"tradecomply/internal/app"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var once bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Check processed documents for upcoming deadlines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd.Context(), nil, func(c *app.Components) error {
				if !once {
					if err := c.Scanner.Start(); err != nil {
						return err
					}
					printf(cmd, "Scanner running (next run %s)\n", formatTime(c.Scanner.GetNextRun()))
					<-cmd.Context().Done()
					if err := c.Scanner.Stop(); err != nil {
						return err
					}
					c.Scanner.Wait()
					return nil
				}

				report, err := c.Scanner.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, report)
				}
				rows := [][]string{
					{"Scanned", strconv.Itoa(report.Scanned)},
					{"In window", strconv.Itoa(report.Warnings)},
					{"Alerts created", strconv.Itoa(report.Created)},
					{"Skipped", strconv.Itoa(report.Skipped)},
					{"Errors", strconv.Itoa(report.Errors)},
				}
				printf(cmd, "%s\n", renderTable([]string{"Scan", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single scan and exit")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
