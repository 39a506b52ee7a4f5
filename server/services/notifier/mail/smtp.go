// Package mail provides the two concrete services.Mailer implementations named in
// SPEC_FULL.md §6: SMTPMailer (github.com/go-mail/mail/v2) and SESMailer
// (github.com/aws/aws-sdk-go's SES client). Neither is exercised by the notifier package
// directly — server/services/notifier depends only on the services.Mailer interface — so either
// can be swapped for a test double without touching notification policy.
package mail

import (
	"context"
	"fmt"

	gomail "github.com/go-mail/mail/v2"

	"github.com/buildbeaver/buildbeaver/server/services"
)

// SMTPConfig carries the connection details for an outgoing mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer delivers messages over SMTP via a dialed connection per send, matching
// go-mail/mail/v2's DialAndSend usage pattern.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(config.Host, config.Port, config.Username, config.Password),
		from:   config.From,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg services.Message) error {
	message := gomail.NewMessage()
	message.SetHeader("From", m.from)
	message.SetHeader("To", msg.To...)
	if len(msg.Cc) > 0 {
		message.SetHeader("Cc", msg.Cc...)
	}
	message.SetHeader("Subject", msg.Subject)
	message.SetBody("text/plain", msg.Body)

	if err := m.dialer.DialAndSend(message); err != nil {
		return fmt.Errorf("error sending mail via smtp: %w", err)
	}
	return nil
}
