package expiry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guido-cesarano/taskexpiry/pkg/queue"
	"github.com/guido-cesarano/taskexpiry/pkg/store"
	"github.com/guido-cesarano/taskexpiry/pkg/tasks"
	"github.com/rs/zerolog"
)

// ErrMalformedMessage is returned by Handle for a body that is not an expiry
// message. Such messages are dropped.
var ErrMalformedMessage = errors.New("malformed expiry message")

// Outcome says what Handle did with a message.
type Outcome string

const (
	OutcomeExpired     Outcome = "expired"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeMissing     Outcome = "missing"
	OutcomeNotPending  Outcome = "not_pending"
	OutcomeConflict    Outcome = "conflict"
	OutcomeMalformed   Outcome = "malformed"
)

// TaskStore is the part of the task table the Consumer needs.
type TaskStore interface {
	Get(ctx context.Context, userID, taskID string) (*tasks.Task, error)
	UpdateIfStatus(ctx context.Context, t tasks.Task, expected tasks.Status) error
}

// Notifier tells a user that their task expired.
type Notifier interface {
	NotifyExpired(ctx context.Context, t tasks.Task, email string) error
}

// Consumer expires tasks when their expiry message arrives. Every decision
// is taken against the task as currently stored, which makes a redelivered
// message a no-op.
type Consumer struct {
	store      TaskStore
	dispatcher *Dispatcher
	notifier   Notifier
	metrics    Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// NewConsumer builds a Consumer. notifier may be nil, in which case tasks
// expire silently.
func NewConsumer(st TaskStore, d *Dispatcher, n Notifier, metrics Metrics, log zerolog.Logger) *Consumer {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Consumer{store: st, dispatcher: d, notifier: n, metrics: metrics, log: log, now: time.Now}
}

// Handle processes one message body. Only transient failures of the store
// or the queue are returned as errors; the message should then be delivered
// again.
func (c *Consumer) Handle(ctx context.Context, body []byte) (Outcome, error) {
	var msg tasks.ExpiryMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return OutcomeMalformed, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.UserID == "" || msg.TaskID == "" {
		return OutcomeMalformed, fmt.Errorf("%w: missing task key", ErrMalformedMessage)
	}

	log := c.log.With().Str("task_id", msg.TaskID).Str("user_id", msg.UserID).Logger()

	t, err := c.store.Get(ctx, msg.UserID, msg.TaskID)
	if err != nil {
		return "", err
	}
	if t == nil {
		return c.skip(log, OutcomeMissing), nil
	}
	if !t.IsPending() {
		return c.skip(log, OutcomeNotPending), nil
	}

	// Less than a second left counts as due; the queue delay has the same
	// resolution.
	if ComputeDelay(t.Deadline, c.now()) != nil {
		if err := c.dispatcher.Redispatch(ctx, *t); err != nil {
			return "", err
		}
		return OutcomeRescheduled, nil
	}

	expired := t.Expired()
	if err := c.store.UpdateIfStatus(ctx, expired, tasks.StatusPending); err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return c.skip(log, OutcomeConflict), nil
		}
		return "", err
	}
	c.metrics.Expired()
	log.Info().Int64("deadline", t.Deadline).Msg("task expired")

	c.notify(ctx, log, expired, msg.UserEmail)
	return OutcomeExpired, nil
}

func (c *Consumer) skip(log zerolog.Logger, why Outcome) Outcome {
	c.metrics.Skipped(why)
	log.Debug().Str("reason", string(why)).Msg("expiry message discarded")
	return why
}

// notify is best effort: the status change stands even if publishing fails.
func (c *Consumer) notify(ctx context.Context, log zerolog.Logger, t tasks.Task, fallback string) {
	if c.notifier == nil {
		return
	}
	email := t.UserEmail
	if email == "" {
		email = fallback
	}
	if err := c.notifier.NotifyExpired(ctx, t, email); err != nil {
		c.metrics.NotifyFailed()
		log.Warn().Err(err).Msg("expiry notification failed")
	}
}

// HandleBatch handles every delivery on its own and returns the ids of the
// ones that failed transiently. Malformed messages are logged and count as
// handled. It satisfies queue.BatchHandler.
func (c *Consumer) HandleBatch(ctx context.Context, batch []queue.Delivery) []string {
	var failed []string
	for _, d := range batch {
		outcome, err := c.Handle(ctx, d.Body)
		switch {
		case errors.Is(err, ErrMalformedMessage):
			c.metrics.Skipped(OutcomeMalformed)
			c.log.Warn().Err(err).Str("message_id", d.ID).Msg("dropping malformed message")
		case err != nil:
			c.log.Error().Err(err).Str("message_id", d.ID).Int("receive_count", d.ReceiveCount).Msg("expiry message failed")
			failed = append(failed, d.ID)
		default:
			c.log.Debug().Str("message_id", d.ID).Str("outcome", string(outcome)).Msg("expiry message handled")
		}
	}
	return failed
}
