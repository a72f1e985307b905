package expiry

import (
	"context"
	"fmt"

	"github.com/guido-cesarano/taskexpiry/pkg/stream"
	"github.com/rs/zerolog"
)

// Scheduler reacts to changes of the task table.
//
//   - INSERT of a Pending task dispatches one expiry message.
//   - MODIFY from Pending to anything else is a cancellation. The queue
//     cannot retract a message, so cancelling only records it; the Consumer
//     skips the task when the message arrives.
//   - MODIFY that keeps the task Pending never schedules again.
//   - REMOVE is ignored.
type Scheduler struct {
	dispatcher *Dispatcher
	metrics    Metrics
	log        zerolog.Logger
}

// NewScheduler enqueues through d.
func NewScheduler(d *Dispatcher, metrics Metrics, log zerolog.Logger) *Scheduler {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Scheduler{dispatcher: d, metrics: metrics, log: log}
}

// HandleEvent applies one change event.
func (s *Scheduler) HandleEvent(ctx context.Context, ev stream.Event) error {
	switch ev.Kind {
	case stream.Insert:
		t := ev.NewTask()
		if !t.IsPending() {
			s.log.Debug().Str("task_id", t.TaskID).Str("status", string(t.Status)).Msg("inserted task is not pending")
			return nil
		}
		return s.dispatcher.Dispatch(ctx, t)

	case stream.Modify:
		before, after := ev.OldTask(), ev.NewTask()
		if before.IsPending() && !after.IsPending() {
			s.metrics.Cancelled()
			s.log.Info().
				Str("task_id", after.TaskID).
				Str("status", string(after.Status)).
				Msg("expiry cancelled")
		}
		return nil

	case stream.Remove:
		s.log.Debug().Str("event", ev.ID).Msg("ignoring remove")
		return nil

	default:
		s.log.Warn().Str("event", ev.ID).Str("kind", string(ev.Kind)).Msg("unknown event kind")
		return nil
	}
}

// HandleBatch applies events in order and stops at the first failure, so the
// stream redelivers the batch. It satisfies stream.BatchHandler.
func (s *Scheduler) HandleBatch(ctx context.Context, events []stream.Event) error {
	for _, ev := range events {
		if err := s.HandleEvent(ctx, ev); err != nil {
			return fmt.Errorf("event %s: %w", ev.ID, err)
		}
	}
	return nil
}
