package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Consumer is the part of *kgo.Client the source needs.
type Consumer interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// KafkaSource reads change records from a Kafka topic and delivers them one
// partition batch at a time. Records for one item share a partition key, so
// a partition batch preserves per-item order.
//
// A batch whose handler fails is not committed and is handed to the handler
// again after RetryDelay, until it succeeds or the context ends.
type KafkaSource struct {
	client     Consumer
	log        zerolog.Logger
	RetryDelay time.Duration
}

func NewKafkaSource(client Consumer, log zerolog.Logger) *KafkaSource {
	return &KafkaSource{client: client, log: log, RetryDelay: time.Second}
}

// NewKafkaClient creates a consumer-group client with manual commits.
func NewKafkaClient(brokers []string, group, topic string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(500*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create stream client: %w", err)
	}
	return client, nil
}

// Run polls until ctx is done or the client is closed.
func (s *KafkaSource) Run(ctx context.Context, handle BatchHandler) error {
	for {
		fetches := s.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if fetches.IsClientClosed() {
			s.log.Info().Msg("stream client closed, returning")
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			s.log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("fetch error")
		})

		var runErr error
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if runErr != nil || len(p.Records) == 0 {
				return
			}
			runErr = s.deliver(ctx, p, handle)
		})
		if runErr != nil {
			if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
				return nil
			}
			return runErr
		}
	}
}

func (s *KafkaSource) deliver(ctx context.Context, p kgo.FetchTopicPartition, handle BatchHandler) error {
	events := make([]Event, 0, len(p.Records))
	for _, rec := range p.Records {
		e, err := DecodeRecord(rec.Value)
		if err != nil {
			s.log.Warn().Err(err).
				Str("topic", p.Topic).
				Int32("partition", p.Partition).
				Int64("offset", rec.Offset).
				Msg("skipping undecodable stream record")
			continue
		}
		events = append(events, e)
	}

	for attempt := 1; len(events) > 0; attempt++ {
		err := handle(ctx, events)
		if err == nil {
			break
		}
		s.log.Error().Err(err).
			Str("topic", p.Topic).
			Int32("partition", p.Partition).
			Int("events", len(events)).
			Int("attempt", attempt).
			Msg("stream batch failed, redelivering")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.RetryDelay):
		}
	}

	if err := s.client.CommitRecords(ctx, p.Records...); err != nil {
		return fmt.Errorf("commit %s/%d: %w", p.Topic, p.Partition, err)
	}
	return nil
}
