package main

import (
	"errors"

	"github.com/spf13/cobra"

	"tradecomply/internal/app"
	"tradecomply/internal/service/dispatcher"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var contentType string
	var name string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "submit <storage-ref>",
		Short: "Record an already stored document and queue it for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd.Context(), nil, func(c *app.Components) error {
				artifact, err := c.Dispatcher.Submit(cmd.Context(), dispatcher.NewArtifact{
					StorageRef:   args[0],
					ContentType:  contentType,
					OriginalName: name,
				})
				if artifact == nil {
					return err
				}
				if jsonOutput {
					if jerr := writeJSON(cmd, artifact); jerr != nil {
						return jerr
					}
					return err
				}
				if errors.Is(err, dispatcher.ErrQueueUnavailable) {
					printf(cmd, "Recorded document %s but it could not be queued\n", artifact.ID)
					return err
				}
				printf(cmd, "Queued document %s\n", artifact.ID)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "MIME type of the stored object")
	cmd.Flags().StringVar(&name, "name", "", "Original file name")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("content-type")
	return cmd
}
