package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/guido-cesarano/taskexpiry/pkg/tasks"
)

// recipientAttribute carries the addressee on every published message and is
// what subscription filter policies match on.
const recipientAttribute = "userEmail"

// SNSAPI is the part of *sns.Client the publisher uses.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	Subscribe(ctx context.Context, in *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
}

// SNSPublisher publishes expiry notifications to one SNS topic.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
}

func NewSNSPublisher(client SNSAPI, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

// NewSNSClient builds a client, pointed at endpoint when it is set.
func NewSNSClient(cfg aws.Config, endpoint string) *sns.Client {
	return sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// Publish sends subject and message to the topic, addressed to recipient.
func (p *SNSPublisher) Publish(ctx context.Context, recipient, subject, message string) error {
	in := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	}
	if recipient != "" {
		in.MessageAttributes = map[string]types.MessageAttributeValue{
			recipientAttribute: {DataType: aws.String("String"), StringValue: aws.String(recipient)},
		}
	}

	if _, err := p.client.Publish(ctx, in); err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

// Subscribe registers email on the topic. The subscription only receives
// messages addressed to that email. SNS sends a confirmation mail first.
func (p *SNSPublisher) Subscribe(ctx context.Context, email string) (string, error) {
	policy, err := json.Marshal(map[string][]string{recipientAttribute: {email}})
	if err != nil {
		return "", fmt.Errorf("encode filter policy: %w", err)
	}

	out, err := p.client.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn:   aws.String(p.topicARN),
		Protocol:   aws.String("email"),
		Endpoint:   aws.String(email),
		Attributes: map[string]string{"FilterPolicy": string(policy)},
	})
	if err != nil {
		return "", fmt.Errorf("sns subscribe %s: %w", email, err)
	}
	return aws.ToString(out.SubscriptionArn), nil
}

// NotifyExpired publishes the expiry notification for t.
func (p *SNSPublisher) NotifyExpired(ctx context.Context, t tasks.Task, email string) error {
	return p.Publish(ctx, email, ExpirySubject, ExpiryText(t))
}
