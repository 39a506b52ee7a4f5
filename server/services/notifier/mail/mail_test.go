package mail_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/buildbeaver/server/services/notifier/mail"
)

func TestNewSMTPMailer(t *testing.T) {
	m := mail.NewSMTPMailer(mail.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "user",
		Password: "pass",
		From:     "jobcore@example.com",
	})
	require.NotNil(t, m)
}

func TestNewSESMailer(t *testing.T) {
	m, err := mail.NewSESMailer(mail.SESConfig{Region: "us-west-2", From: "jobcore@example.com"})
	require.NoError(t, err)
	require.NotNil(t, m)
}
