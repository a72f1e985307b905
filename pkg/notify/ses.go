package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/guido-cesarano/taskexpiry/pkg/tasks"
)

// ErrNoRecipient is returned when a task has no address to notify.
var ErrNoRecipient = errors.New("no recipient address")

// SESAPI is the part of *sesv2.Client the publisher uses.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESPublisher emails expiry notifications through SES v2.
type SESPublisher struct {
	client    SESAPI
	fromEmail string
}

// NewSESPublisher sends from the verified address from.
func NewSESPublisher(client SESAPI, from string) *SESPublisher {
	return &SESPublisher{client: client, fromEmail: from}
}

// NewSESClient builds a client, pointed at endpoint when it is set.
func NewSESClient(cfg aws.Config, endpoint string) *sesv2.Client {
	return sesv2.NewFromConfig(cfg, func(o *sesv2.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// Publish sends a plain-text email.
func (p *SESPublisher) Publish(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return ErrNoRecipient
	}
	_, err := p.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.fromEmail),
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
	if err != nil {
		return fmt.Errorf("ses send to %s: %w", to, err)
	}
	return nil
}

// NotifyExpired mails the expiry notification for t to email.
func (p *SESPublisher) NotifyExpired(ctx context.Context, t tasks.Task, email string) error {
	return p.Publish(ctx, email, ExpirySubject, ExpiryText(t))
}
