// Package email delivers notification emails.
package email

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// Sender delivers one message. Delivery is not safety-critical; at-least-once
// job semantics mean the occasional duplicate email is accepted rather than
// engineered away.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SESSender sends through AWS SES.
type SESSender struct {
	client *sesv2.Client
	from   string
}

// NewSESSender builds a sender from ambient AWS credentials.
func NewSESSender(ctx context.Context, region, from string) (*SESSender, error) {
	if from == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SESSender{client: sesv2.NewFromConfig(cfg), from: from}, nil
}

func (s *SESSender) Send(ctx context.Context, to, subject, body string) error {
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	})
	return err
}

// DryRunSender logs instead of sending. Used when no delivery credential is
// configured, so the rest of the pipeline behaves identically in development.
type DryRunSender struct {
	Log *slog.Logger
}

func (d *DryRunSender) Send(_ context.Context, to, subject, body string) error {
	d.Log.Info("dry-run email", "to", to, "subject", subject, "body_bytes", len(body))
	return nil
}
