package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tradecomply/internal/app"
	"tradecomply/internal/model"
)

func newDocumentsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "Inspect submitted documents",
	}
	cmd.AddCommand(newDocumentsListCommand(ctx))
	cmd.AddCommand(newDocumentsShowCommand(ctx))
	return cmd
}

func newDocumentsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var status string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the newest documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter model.Status
			if status != "" {
				filter = model.Status(status)
				if !filter.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
			}

			return ctx.withComponents(cmd.Context(), nil, func(c *app.Components) error {
				var (
					artifacts []model.Artifact
					err       error
				)
				if filter != "" {
					artifacts, err = c.Artifacts.ListByStatus(cmd.Context(), filter, limit, true)
				} else {
					artifacts, err = c.Artifacts.List(cmd.Context(), limit)
				}
				if err != nil {
					return err
				}

				if jsonOutput {
					return writeJSON(cmd, artifacts)
				}
				if len(artifacts) == 0 {
					printf(cmd, "No documents\n")
					return nil
				}

				colors := shouldColorize(cmd.OutOrStdout())
				rows := make([][]string, 0, len(artifacts))
				for _, a := range artifacts {
					docType, deadline := "-", "-"
					if a.Extraction != nil {
						if a.Extraction.DocType != "" {
							docType = a.Extraction.DocType
						}
						if a.Extraction.Deadline != "" {
							deadline = a.Extraction.Deadline
						}
					}
					rows = append(rows, []string{
						a.ID,
						colorize(string(a.Status), statusColor(a.Status), colors),
						truncate(displayName(a), 32),
						docType,
						deadline,
						formatTime(a.CreatedAt),
					})
				}
				printf(cmd, "%s\n", renderTable(
					[]string{"ID", "Status", "Name", "Type", "Deadline", "Created"},
					rows,
					nil,
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of documents")
	cmd.Flags().StringVar(&status, "status", "", "Only show documents with this status")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newDocumentsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one document with its extraction and alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withComponents(cmd.Context(), nil, func(c *app.Components) error {
				artifact, err := c.Artifacts.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				alerts, err := c.Alerts.ListByArtifact(cmd.Context(), artifact.ID)
				if err != nil {
					return err
				}

				if jsonOutput {
					return writeJSON(cmd, struct {
						*model.Artifact
						Alerts []model.Alert `json:"alerts"`
					}{artifact, alerts})
				}

				rows := [][]string{
					{"ID", artifact.ID},
					{"Status", string(artifact.Status)},
					{"Name", displayName(*artifact)},
					{"Storage ref", artifact.StorageRef},
					{"Content type", artifact.ContentType},
					{"Created", formatTime(artifact.CreatedAt)},
					{"Updated", formatTime(artifact.UpdatedAt)},
				}
				if e := artifact.Extraction; e != nil {
					rows = append(rows,
						[]string{"Type", e.DocType},
						[]string{"Deadline", e.Deadline},
						[]string{"ID number", e.IDNumber},
						[]string{"Holder", e.HolderName},
						[]string{"Confidence", strconv.FormatFloat(e.Confidence, 'f', 2, 64)},
					)
				}
				for _, alert := range alerts {
					rows = append(rows, []string{alert.AlertType, alert.Message})
				}
				printf(cmd, "%s\n", renderTable([]string{"Field", "Value"}, rows, nil))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func displayName(a model.Artifact) string {
	if a.OriginalName != "" {
		return a.OriginalName
	}
	return a.StorageRef
}

func statusColor(s model.Status) string {
	switch s {
	case model.StatusProcessed:
		return ansiGreen
	case model.StatusFailed:
		return ansiRed
	case model.StatusPending:
		return ansiYellow
	default:
		return ""
	}
}
