package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BatchHandler processes one received batch and returns the ids of the
// deliveries that failed. Failed deliveries are left unacked so the queue
// delivers them again; everything else is acked.
type BatchHandler func(ctx context.Context, batch []Delivery) (failed []string)

// Poller repeatedly receives batches from a Receiver.
type Poller struct {
	recv   Receiver
	handle BatchHandler
	log    zerolog.Logger

	BatchSize int
	// Idle is how long to wait after an empty or failed receive.
	Idle time.Duration
}

// NewPoller passes every batch from recv to handle. Deliveries handle does
// not report as failed are acked.
func NewPoller(recv Receiver, handle BatchHandler, log zerolog.Logger) *Poller {
	return &Poller{
		recv:      recv,
		handle:    handle,
		log:       log,
		BatchSize: 10,
		Idle:      200 * time.Millisecond,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		n, err := p.PollOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.log.Error().Err(err).Msg("poll failed")
		}
		if err != nil || n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.Idle):
			}
		}
	}
}

// PollOnce receives and handles a single batch and returns its size.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	batch, err := p.recv.Receive(ctx, p.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	failed := make(map[string]struct{})
	for _, id := range p.handle(ctx, batch) {
		failed[id] = struct{}{}
	}

	done := make([]Delivery, 0, len(batch))
	for _, d := range batch {
		if _, ok := failed[d.ID]; ok {
			continue
		}
		done = append(done, d)
	}
	if len(failed) > 0 {
		p.log.Warn().Int("failed", len(failed)).Int("batch", len(batch)).Msg("leaving failed messages for redelivery")
	}

	if err := p.recv.Ack(ctx, done...); err != nil {
		return len(batch), err
	}
	return len(batch), nil
}
