package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the part of *sqs.Client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue sends to and receives from an SQS FIFO queue. Poison messages
// are left to the queue's redrive policy, which moves a message to its
// dead-letter queue after maxReceiveCount receives.
type SQSQueue struct {
	client SQSAPI
	url    string

	// WaitTime is the long-poll duration for Receive (max 20s).
	WaitTime time.Duration

	// Visibility overrides the queue's visibility timeout when non-zero.
	Visibility time.Duration
}

// NewSQSQueue targets the queue at url with a 20 s long poll.
func NewSQSQueue(client SQSAPI, url string) *SQSQueue {
	return &SQSQueue{client: client, url: url, WaitTime: 20 * time.Second}
}

// NewSQSClient builds a client, pointed at endpoint when it is set.
func NewSQSClient(cfg aws.Config, endpoint string) *sqs.Client {
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// Send submits m. DelaySeconds is only set on the request when m asks for it.
func (q *SQSQueue) Send(ctx context.Context, m Message) error {
	if err := m.validate(); err != nil {
		return err
	}

	in := &sqs.SendMessageInput{
		QueueUrl:               aws.String(q.url),
		MessageBody:            aws.String(string(m.Body)),
		MessageGroupId:         aws.String(m.GroupID),
		MessageDeduplicationId: aws.String(m.DedupID),
	}
	if m.DelaySeconds != nil {
		in.DelaySeconds = *m.DelaySeconds
	}

	if _, err := q.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("sqs send %s: %w", m.DedupID, err)
	}
	return nil
}

// Receive long-polls for up to max messages (SQS caps a batch at 10).
func (q *SQSQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		return nil, nil
	}
	if max > 10 {
		max = 10
	}

	in := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(q.WaitTime / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
			types.MessageSystemAttributeNameMessageGroupId,
			types.MessageSystemAttributeNameMessageDeduplicationId,
		},
	}
	if q.Visibility > 0 {
		in.VisibilityTimeout = int32(q.Visibility / time.Second)
	}

	out, err := q.client.ReceiveMessage(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	ds := make([]Delivery, 0, len(out.Messages))
	for _, msg := range out.Messages {
		count, _ := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		ds = append(ds, Delivery{
			ID:           aws.ToString(msg.MessageId),
			Body:         []byte(aws.ToString(msg.Body)),
			GroupID:      msg.Attributes[string(types.MessageSystemAttributeNameMessageGroupId)],
			DedupID:      msg.Attributes[string(types.MessageSystemAttributeNameMessageDeduplicationId)],
			Receipt:      aws.ToString(msg.ReceiptHandle),
			ReceiveCount: count,
		})
	}
	return ds, nil
}

// Ack deletes each message; it stops at the first failure.
func (q *SQSQueue) Ack(ctx context.Context, ds ...Delivery) error {
	for _, d := range ds {
		_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.url),
			ReceiptHandle: aws.String(d.Receipt),
		})
		if err != nil {
			return fmt.Errorf("sqs delete %s: %w", d.ID, err)
		}
	}
	return nil
}
