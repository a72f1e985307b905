// Package queue provides the delayed message queue the expiry pipeline
// schedules onto.
//
// The contract mirrors an SQS FIFO queue:
//   - every message carries a group id and a deduplication id
//   - a resend with a deduplication id seen inside the dedup window is
//     accepted and dropped
//   - an optional per-message delay of at most MaxDelaySeconds defers
//     visibility
//   - delivery is at-least-once: a received message that is not acked before
//     its visibility timeout is delivered again
//   - a message that keeps coming back unacked is eventually dead-lettered
//     (RedisQueue.MaxReceives, or the redrive policy of the SQS queue)
//
// RedisQueue implements it on Redis, SQSQueue on Amazon SQS. Poller drives a
// Receiver and hands batches to a handler.
//
// RedisQueue keeps the order of a group but does not lock a group while one
// of its messages is in flight, so two consumers may hold messages of the
// same group at once.
package queue

import (
	"context"
	"errors"
	"fmt"
)

// MaxDelaySeconds is the longest delay a message may request.
const MaxDelaySeconds = 900

var (
	// ErrDelayOutOfRange is returned by Send for a delay outside 0..MaxDelaySeconds.
	ErrDelayOutOfRange = errors.New("delay out of range")

	// ErrMissingID is returned by Send when the group or deduplication id is empty.
	ErrMissingID = errors.New("group and deduplication id are required")
)

// Message is one outbound message.
type Message struct {
	Body    []byte
	GroupID string
	DedupID string

	// DelaySeconds is nil when no delay is requested; the message is then
	// visible immediately.
	DelaySeconds *int32
}

// Delivery is one received message. Receipt identifies this particular
// receive and is what Ack needs.
type Delivery struct {
	ID      string
	Body    []byte
	GroupID string
	DedupID string
	Receipt string
	// ReceiveCount is how many times the message has been handed out,
	// this receive included.
	ReceiveCount int
}

// Sender enqueues messages.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Receiver hands out batches of visible messages and removes them on ack.
type Receiver interface {
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Ack(ctx context.Context, ds ...Delivery) error
}

// Delay returns a pointer to seconds, for Message.DelaySeconds.
func Delay(seconds int32) *int32 {
	return &seconds
}

func (m Message) validate() error {
	if m.GroupID == "" || m.DedupID == "" {
		return ErrMissingID
	}
	if m.DelaySeconds != nil && (*m.DelaySeconds < 0 || *m.DelaySeconds > MaxDelaySeconds) {
		return fmt.Errorf("%w: %d", ErrDelayOutOfRange, *m.DelaySeconds)
	}
	return nil
}
