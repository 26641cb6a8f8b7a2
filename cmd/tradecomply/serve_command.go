package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tradecomply/internal/app"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the worker and scanner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logrus.Info("Starting tradecomply service")
			return ctx.withComponents(cmd.Context(), prometheus.DefaultRegisterer, func(c *app.Components) error {
				return app.Serve(cmd.Context(), c)
			})
		},
	}
}
