package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"tradecomply/internal/model"
	"tradecomply/internal/service/notifier"
)

func newNotifierCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifier",
		Short: "Configure and test alert email",
	}
	cmd.AddCommand(newNotifierTokenCommand(ctx))
	cmd.AddCommand(newNotifierTestCommand(ctx))
	return cmd
}

func newNotifierTokenCommand(ctx *commandContext) *cobra.Command {
	var redirectURL string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Obtain a Gmail refresh token for the configured OAuth client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Notifier.ClientID == "" || cfg.Notifier.ClientSecret == "" {
				return fmt.Errorf("notifier client_id and client_secret are required (GMAIL_CLIENT_ID, GMAIL_CLIENT_SECRET)")
			}

			oauthConfig := notifier.OAuthConfig(cfg.Notifier, redirectURL)
			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			printf(cmd, "Open this link in your browser:\n%s\n\n", authURL)
			printf(cmd, "After authorizing, copy the 'code' parameter from the redirect URL.\nAuthorization code: ")

			code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			code = strings.TrimSpace(code)
			if code == "" {
				if err != nil {
					return fmt.Errorf("read authorization code: %w", err)
				}
				return fmt.Errorf("authorization code is required")
			}

			tok, err := oauthConfig.Exchange(cmd.Context(), code)
			if err != nil {
				return fmt.Errorf("exchange authorization code: %w", err)
			}
			printf(cmd, "\nRefresh token: %s\n", tok.RefreshToken)
			printf(cmd, "export GMAIL_REFRESH_TOKEN=%q\n", tok.RefreshToken)
			return nil
		},
	}

	cmd.Flags().StringVar(&redirectURL, "redirect-url", "http://localhost:8080/callback", "OAuth redirect URL registered for the client")
	return cmd
}

func newNotifierTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Send a test alert email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			n, err := notifier.New(cmd.Context(), cfg.Notifier)
			if err != nil {
				return err
			}
			artifact := &model.Artifact{ID: "test", OriginalName: "test notification"}
			if err := n.NotifyAlert(cmd.Context(), artifact, "This is a test alert from tradecomply"); err != nil {
				return err
			}
			printf(cmd, "Test alert sent to %s\n", strings.Join(cfg.Notifier.Recipients, ", "))
			return nil
		},
	}
}
