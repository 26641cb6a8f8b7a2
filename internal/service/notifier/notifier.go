// Package notifier emails newly raised compliance alerts.
package notifier

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"tradecomply/internal/model"
)

// Sender delivers a raw RFC 5322 message
type Sender interface {
	Send(ctx context.Context, raw []byte) error
}

// EmailNotifier composes one email per alert and hands it to a Sender
type EmailNotifier struct {
	sender     Sender
	from       string
	recipients []string
	now        func() time.Time
}

// NewEmailNotifier creates a notifier sending from from to recipients
func NewEmailNotifier(sender Sender, from string, recipients []string) *EmailNotifier {
	return &EmailNotifier{
		sender:     sender,
		from:       from,
		recipients: recipients,
		now:        time.Now,
	}
}

// NotifyAlert emails message about artifact to every recipient
func (n *EmailNotifier) NotifyAlert(ctx context.Context, artifact *model.Artifact, message string) error {
	raw, err := n.Compose(artifact, message)
	if err != nil {
		return fmt.Errorf("failed to compose alert email: %w", err)
	}
	if err := n.sender.Send(ctx, raw); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	logrus.WithField("artifact_id", artifact.ID).Infof("Alert emailed to %s", strings.Join(n.recipients, ", "))
	return nil
}

// Compose renders the alert as a plain-text email
func (n *EmailNotifier) Compose(artifact *model.Artifact, message string) ([]byte, error) {
	if len(n.recipients) == 0 {
		return nil, fmt.Errorf("no recipients configured")
	}

	var h mail.Header
	h.SetDate(n.now())
	h.SetSubject(message)
	h.SetAddressList("From", []*mail.Address{{Address: n.from}})
	to := make([]*mail.Address, 0, len(n.recipients))
	for _, r := range n.recipients {
		to = append(to, &mail.Address{Address: r})
	}
	h.SetAddressList("To", to)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("X-Artifact-Id", artifact.ID)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(body(artifact, message))); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func body(artifact *model.Artifact, message string) string {
	var b strings.Builder
	b.WriteString(message + "\r\n\r\n")
	fmt.Fprintf(&b, "Document ID: %s\r\n", artifact.ID)
	if artifact.OriginalName != "" {
		fmt.Fprintf(&b, "File: %s\r\n", artifact.OriginalName)
	}
	if e := artifact.Extraction; e != nil {
		if e.DocType != "" {
			fmt.Fprintf(&b, "Type: %s\r\n", e.DocType)
		}
		if e.HolderName != "" {
			fmt.Fprintf(&b, "Holder: %s\r\n", e.HolderName)
		}
		if e.IDNumber != "" {
			fmt.Fprintf(&b, "Number: %s\r\n", e.IDNumber)
		}
		if e.Deadline != "" {
			fmt.Fprintf(&b, "Expires: %s\r\n", e.Deadline)
		}
	}
	return b.String()
}
