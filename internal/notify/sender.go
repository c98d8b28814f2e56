package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v3"
)

// Sender delivers one notification over a side channel. The dispatcher
// records the returned outcome; it never blocks a mutation on it.
type Sender interface {
	Channel() string
	Send(ctx context.Context, n *Notification, email string) error
}

// ResendSender delivers notifications as email through Resend.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, fromName, fromEmail string) *ResendSender {
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   fmt.Sprintf("%s <%s>", fromName, fromEmail),
	}
}

func (s *ResendSender) Channel() string { return "email" }

func (s *ResendSender) Send(_ context.Context, n *Notification, email string) error {
	if email == "" {
		return fmt.Errorf("user %d has no email address", n.UserID)
	}
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{email},
		Subject: n.Title,
		Text:    n.Body,
	}
	_, err := s.client.Emails.Send(params)
	return err
}

// NoopSender is wired when no delivery credentials are configured.
// Notifications still persist; delivery is recorded as skipped-success.
type NoopSender struct{}

func (NoopSender) Channel() string { return "none" }

func (NoopSender) Send(context.Context, *Notification, string) error { return nil }
