// Package expiry moves Pending tasks to Expired once their deadline passes.
//
// The Scheduler watches the task table's change stream and asks the
// Dispatcher to put one expiry message per new Pending task on a delayed
// queue. The Consumer receives that message when the delay elapses, re-reads
// the task and expires it if it is still Pending. Nothing is ever removed
// from the queue: a task that was completed in the meantime is simply
// skipped by the Consumer.
//
// The queue caps a single delay at queue.MaxDelaySeconds. Longer deadlines
// are covered by hops: the Consumer sees the deadline is still ahead and
// dispatches the message again with the remaining delay.
package expiry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guido-cesarano/taskexpiry/pkg/queue"
	"github.com/guido-cesarano/taskexpiry/pkg/tasks"
	"github.com/rs/zerolog"
)

// ComputeDelay returns the queue delay for a deadline, in whole seconds
// truncated toward zero. It returns nil when the deadline is less than one
// second away or already past, so the message is visible at once, and clamps
// longer delays to queue.MaxDelaySeconds.
func ComputeDelay(deadline int64, now time.Time) *int32 {
	secs := (deadline - now.UnixMilli()) / 1000
	if secs <= 0 {
		return nil
	}
	if secs > queue.MaxDelaySeconds {
		secs = queue.MaxDelaySeconds
	}
	return queue.Delay(int32(secs))
}

// DedupID is the deduplication id of the first expiry message for t. A task
// re-created with another deadline gets a different id.
func DedupID(t tasks.Task) string {
	return fmt.Sprintf("%s-%d", t.TaskID, t.Deadline)
}

// hopDedupID names a follow-up message by the number of delay windows still
// left before the deadline, so a redelivered hop is sent once.
func hopDedupID(t tasks.Task, now time.Time) string {
	window := int64(queue.MaxDelaySeconds) * 1000
	remaining := t.Deadline - now.UnixMilli()
	windows := (remaining + window - 1) / window
	return fmt.Sprintf("%s-h%d", DedupID(t), windows)
}

// Dispatcher sends expiry messages. It never retries: a failed send is
// returned to the caller, whose batch is then redelivered.
type Dispatcher struct {
	sender  queue.Sender
	metrics Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// NewDispatcher sends through sender using the wall clock.
func NewDispatcher(sender queue.Sender, metrics Metrics, log zerolog.Logger) *Dispatcher {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Dispatcher{sender: sender, metrics: metrics, log: log, now: time.Now}
}

// Dispatch schedules the expiry check for a newly created Pending task.
func (d *Dispatcher) Dispatch(ctx context.Context, t tasks.Task) error {
	delay, err := d.send(ctx, t, DedupID(t))
	if err != nil {
		return err
	}
	var secs int32
	if delay != nil {
		secs = *delay
	}
	d.metrics.Scheduled(secs)
	return nil
}

// Redispatch schedules the next hop for a task whose deadline is still more
// than one delay window away.
func (d *Dispatcher) Redispatch(ctx context.Context, t tasks.Task) error {
	if _, err := d.send(ctx, t, hopDedupID(t, d.now())); err != nil {
		return err
	}
	d.metrics.Rescheduled()
	return nil
}

func (d *Dispatcher) send(ctx context.Context, t tasks.Task, dedupID string) (*int32, error) {
	body, err := json.Marshal(tasks.ExpiryMessageFor(t))
	if err != nil {
		return nil, fmt.Errorf("encode expiry message for %s: %w", t.TaskID, err)
	}

	delay := ComputeDelay(t.Deadline, d.now())
	m := queue.Message{
		Body:         body,
		GroupID:      t.TaskID,
		DedupID:      dedupID,
		DelaySeconds: delay,
	}
	if err := d.sender.Send(ctx, m); err != nil {
		return nil, fmt.Errorf("send expiry message for %s: %w", t.TaskID, err)
	}

	ev := d.log.Info().
		Str("task_id", t.TaskID).
		Str("user_id", t.UserID).
		Str("dedup_id", dedupID)
	if delay != nil {
		ev = ev.Int32("delay_seconds", *delay)
	}
	ev.Msg("expiry check scheduled")
	return delay, nil
}
