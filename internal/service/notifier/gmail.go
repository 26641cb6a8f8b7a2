package notifier

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"tradecomply/internal/config"
	"tradecomply/internal/retry"
)

// GmailSender sends raw messages through the Gmail API
type GmailSender struct {
	service   *gmail.Service
	userEmail string
	policy    *retry.Policy
	sleep     retry.Sleeper
}

// NewGmailSender authenticates with the configured refresh token
func NewGmailSender(ctx context.Context, cfg config.NotifierConfig) (*GmailSender, error) {
	tokenSource := OAuthConfig(cfg, "").TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return NewGmailSenderWithService(service, cfg.UserEmail), nil
}

// OAuthConfig returns the client configuration used to send alert email.
// redirectURL only matters when obtaining a new refresh token.
func OAuthConfig(cfg config.NotifierConfig, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
	}
}

// NewGmailSenderWithService wraps an existing Gmail service
func NewGmailSenderWithService(service *gmail.Service, userEmail string) *GmailSender {
	return &GmailSender{
		service:   service,
		userEmail: userEmail,
		policy:    retry.NewPolicy(time.Second, 10*time.Second, true, nil),
		sleep:     retry.Sleep,
	}
}

// Send delivers raw, retrying rate limits and server errors
func (s *GmailSender) Send(ctx context.Context, raw []byte) error {
	message := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	return retry.Do(ctx, s.policy, 3, s.sleep, retryableGmailError, func(ctx context.Context) error {
		_, err := s.service.Users.Messages.Send(s.userEmail, message).Context(ctx).Do()
		return err
	})
}

// Ping checks the Gmail API connection
func (s *GmailSender) Ping(ctx context.Context) error {
	if _, err := s.service.Users.GetProfile(s.userEmail).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to test Gmail API connection: %w", err)
	}
	return nil
}

func retryableGmailError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
}

// New builds the Gmail-backed notifier from cfg
func New(ctx context.Context, cfg config.NotifierConfig) (*EmailNotifier, error) {
	sender, err := NewGmailSender(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewEmailNotifier(sender, cfg.UserEmail, cfg.Recipients), nil
}
