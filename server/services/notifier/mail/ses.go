package mail

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"

	"github.com/buildbeaver/buildbeaver/server/services"
)

// SESConfig carries the details needed to address mail through Amazon SES.
type SESConfig struct {
	Region string
	From   string
}

// SESMailer delivers messages through Amazon SES's SendEmail API.
type SESMailer struct {
	client *ses.SES
	from   string
}

func NewSESMailer(config SESConfig) (*SESMailer, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(config.Region)})
	if err != nil {
		return nil, fmt.Errorf("error creating aws session: %w", err)
	}
	return &SESMailer{client: ses.New(sess), from: config.From}, nil
}

func (m *SESMailer) Send(ctx context.Context, msg services.Message) error {
	input := &ses.SendEmailInput{
		Source: aws.String(m.from),
		Destination: &ses.Destination{
			ToAddresses: aws.StringSlice(msg.To),
			CcAddresses: aws.StringSlice(msg.Cc),
		},
		Message: &ses.Message{
			Subject: &ses.Content{Data: aws.String(msg.Subject)},
			Body: &ses.Body{
				Text: &ses.Content{Data: aws.String(msg.Body)},
			},
		},
	}
	if _, err := m.client.SendEmailWithContext(ctx, input); err != nil {
		return fmt.Errorf("error sending mail via ses: %w", err)
	}
	return nil
}
