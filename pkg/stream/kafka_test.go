package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/guido-cesarano/taskexpiry/pkg/tasks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

// mockConsumer replays a fixed list of fetches, then cancels the run.
type mockConsumer struct {
	fetches   []kgo.Fetches
	polls     int
	cancel    context.CancelFunc
	committed []*kgo.Record
	commitErr error
}

func (m *mockConsumer) PollFetches(ctx context.Context) kgo.Fetches {
	if m.polls >= len(m.fetches) {
		m.cancel()
		return kgo.Fetches{}
	}
	f := m.fetches[m.polls]
	m.polls++
	return f
}

func (m *mockConsumer) CommitRecords(_ context.Context, rs ...*kgo.Record) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = append(m.committed, rs...)
	return nil
}

func fetchOf(partition int32, records ...*kgo.Record) kgo.Fetches {
	return kgo.Fetches{{
		Topics: []kgo.FetchTopic{{
			Topic: "task-changes",
			Partitions: []kgo.FetchPartition{{
				Partition: partition,
				Records:   records,
			}},
		}},
	}}
}

func insertRecord(t *testing.T, taskID string, offset int64) *kgo.Record {
	t.Helper()
	image, err := ImageOf(tasks.Task{UserID: "u1", TaskID: taskID, Status: tasks.StatusPending})
	require.NoError(t, err)
	data, err := EncodeRecord(Event{ID: taskID, Kind: Insert, NewImage: image})
	require.NoError(t, err)
	return &kgo.Record{Topic: "task-changes", Key: []byte(taskID), Value: data, Offset: offset}
}

func TestKafkaSourceDeliversAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r1, r2 := insertRecord(t, "t1", 0), insertRecord(t, "t2", 1)
	bad := &kgo.Record{Topic: "task-changes", Value: []byte("{"), Offset: 2}
	client := &mockConsumer{fetches: []kgo.Fetches{fetchOf(0, r1, r2, bad)}, cancel: cancel}

	var got []string
	src := NewKafkaSource(client, zerolog.Nop())
	err := src.Run(ctx, func(_ context.Context, events []Event) error {
		for _, e := range events {
			got = append(got, e.NewTask().TaskID)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, got)
	assert.Equal(t, []*kgo.Record{r1, r2, bad}, client.committed)
}

func TestKafkaSourceRedeliversFailedBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r1 := insertRecord(t, "t1", 0)
	client := &mockConsumer{fetches: []kgo.Fetches{fetchOf(0, r1)}, cancel: cancel}

	calls := 0
	src := NewKafkaSource(client, zerolog.Nop())
	src.RetryDelay = time.Millisecond
	err := src.Run(ctx, func(_ context.Context, events []Event) error {
		calls++
		if calls < 3 {
			return errors.New("queue unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []*kgo.Record{r1}, client.committed)
}

func TestKafkaSourceStopsRetryingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &mockConsumer{fetches: []kgo.Fetches{fetchOf(0, insertRecord(t, "t1", 0))}, cancel: cancel}

	src := NewKafkaSource(client, zerolog.Nop())
	src.RetryDelay = time.Hour
	err := src.Run(ctx, func(context.Context, []Event) error {
		cancel()
		return errors.New("queue unavailable")
	})

	require.NoError(t, err)
	assert.Empty(t, client.committed)
}

func TestKafkaSourceCommitFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &mockConsumer{
		fetches:   []kgo.Fetches{fetchOf(3, insertRecord(t, "t1", 0))},
		cancel:    cancel,
		commitErr: errors.New("coordinator gone"),
	}

	src := NewKafkaSource(client, zerolog.Nop())
	err := src.Run(ctx, func(context.Context, []Event) error { return nil })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit task-changes/3")
}
