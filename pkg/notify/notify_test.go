package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/guido-cesarano/taskexpiry/pkg/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSNS struct {
	published  []*sns.PublishInput
	subscribed []*sns.SubscribeInput
	err        error
}

func (m *mockSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.published = append(m.published, in)
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func (m *mockSNS) Subscribe(_ context.Context, in *sns.SubscribeInput, _ ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.subscribed = append(m.subscribed, in)
	return &sns.SubscribeOutput{SubscriptionArn: aws.String("pending confirmation")}, nil
}

type mockSES struct {
	sent []*sesv2.SendEmailInput
	err  error
}

func (m *mockSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.sent = append(m.sent, in)
	return &sesv2.SendEmailOutput{}, nil
}

func expiredTask() tasks.Task {
	return tasks.Task{
		UserID:      "u1",
		TaskID:      "t1",
		UserEmail:   "u1@example.com",
		Description: "buy milk",
		Date:        "2024-05-01",
		Status:      tasks.StatusExpired,
		Deadline:    1_700_000_300_000,
	}
}

func TestExpiryText(t *testing.T) {
	want := "Task Expired: t1\nDescription: buy milk\nDate: 2024-05-01\nDeadline: Tue, 14 Nov 2023 22:18:20 UTC"
	assert.Equal(t, want, ExpiryText(expiredTask()))
}

func TestSNSNotifyExpired(t *testing.T) {
	m := &mockSNS{}
	p := NewSNSPublisher(m, "arn:aws:sns:us-east-1:123:TaskExpiry")

	require.NoError(t, p.NotifyExpired(context.Background(), expiredTask(), "u1@example.com"))
	require.Len(t, m.published, 1)

	in := m.published[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:123:TaskExpiry", aws.ToString(in.TopicArn))
	assert.Equal(t, ExpirySubject, aws.ToString(in.Subject))
	assert.Equal(t, ExpiryText(expiredTask()), aws.ToString(in.Message))
	assert.Equal(t, "u1@example.com", aws.ToString(in.MessageAttributes["userEmail"].StringValue))
}

func TestSNSPublishWithoutRecipient(t *testing.T) {
	m := &mockSNS{}
	p := NewSNSPublisher(m, "arn")

	require.NoError(t, p.Publish(context.Background(), "", "s", "m"))
	assert.Nil(t, m.published[0].MessageAttributes)
}

func TestSNSSubscribe(t *testing.T) {
	m := &mockSNS{}
	p := NewSNSPublisher(m, "arn")

	arn, err := p.Subscribe(context.Background(), "u1@example.com")
	require.NoError(t, err)
	assert.Equal(t, "pending confirmation", arn)

	in := m.subscribed[0]
	assert.Equal(t, "email", aws.ToString(in.Protocol))
	assert.Equal(t, "u1@example.com", aws.ToString(in.Endpoint))

	var policy map[string][]string
	require.NoError(t, json.Unmarshal([]byte(in.Attributes["FilterPolicy"]), &policy))
	assert.Equal(t, []string{"u1@example.com"}, policy["userEmail"])
}

func TestSNSErrorsAreWrapped(t *testing.T) {
	boom := errors.New("throttled")
	p := NewSNSPublisher(&mockSNS{err: boom}, "arn")

	assert.ErrorIs(t, p.NotifyExpired(context.Background(), expiredTask(), "x@example.com"), boom)
	_, err := p.Subscribe(context.Background(), "x@example.com")
	assert.ErrorIs(t, err, boom)
}

func TestSESNotifyExpired(t *testing.T) {
	m := &mockSES{}
	p := NewSESPublisher(m, "noreply@example.com")

	require.NoError(t, p.NotifyExpired(context.Background(), expiredTask(), "u1@example.com"))
	require.Len(t, m.sent, 1)

	in := m.sent[0]
	assert.Equal(t, "noreply@example.com", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"u1@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, ExpirySubject, aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, ExpiryText(expiredTask()), aws.ToString(in.Content.Simple.Body.Text.Data))
}

func TestSESRequiresRecipient(t *testing.T) {
	m := &mockSES{}
	p := NewSESPublisher(m, "noreply@example.com")

	assert.ErrorIs(t, p.NotifyExpired(context.Background(), expiredTask(), ""), ErrNoRecipient)
	assert.Empty(t, m.sent)
}
