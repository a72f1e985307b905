package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default tuning for RedisQueue.
const (
	DefaultPrefix      = "expiry"
	DefaultDedupWindow = 5 * time.Minute
	DefaultVisibility  = 30 * time.Second
	DefaultMaxReceives = 5
)

// RedisQueue is a delayed, deduplicating queue on Redis.
//
// Key layout (all under Prefix):
//   - <prefix>:delayed: sorted set of messages scored by due time (ms)
//   - <prefix>:ready: list of messages visible to consumers, in due order
//   - <prefix>:inflight: sorted set of received messages scored by the end
//     of their visibility timeout (ms)
//   - <prefix>:dedup:<id>: marker that expires after DedupWindow
//   - <prefix>:receives: hash of receive counts per stored message
//   - <prefix>:dead: list of messages received more than MaxReceives times
//     without an ack, and of entries that could not be decoded
//
// Promote moves due delayed messages and expired in-flight messages to the
// ready list; StartScheduler runs it in the background.
//
// Messages share one ready list and are appended in due order, so messages
// of one group keep their relative order. Unlike SQS FIFO, a group is not
// locked while one of its messages is in flight: a consumer may receive the
// next message of a group before the previous one is acked. The expiry
// pipeline keeps at most one live message per task, so it does not depend on
// the lock.
type RedisQueue struct {
	rdb *redis.Client
	log zerolog.Logger
	now func() time.Time

	Prefix      string
	DedupWindow time.Duration
	Visibility  time.Duration
	// MaxReceives is how often a message is handed out before it moves to
	// the dead list. Zero redelivers forever.
	MaxReceives int
}

// envelope is the stored form of a message.
type envelope struct {
	ID      string `json:"id"`
	Body    []byte `json:"body"`
	GroupID string `json:"group_id"`
	DedupID string `json:"dedup_id"`
	SentAt  int64  `json:"sent_at"`
}

// NewRedisQueue creates a queue connected to the Redis server at addr
// ("host:port").
//
// Example:
//
//	q := queue.NewRedisQueue("localhost:6379", logger.Component("queue"))
func NewRedisQueue(addr string, log zerolog.Logger) *RedisQueue {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &RedisQueue{
		rdb:         rdb,
		log:         log,
		now:         time.Now,
		Prefix:      DefaultPrefix,
		DedupWindow: DefaultDedupWindow,
		Visibility:  DefaultVisibility,
		MaxReceives: DefaultMaxReceives,
	}
}

// SetClock replaces the clock used to compute due times and visibility
// deadlines.
func (q *RedisQueue) SetClock(now func() time.Time) {
	q.now = now
}

// Ping checks the Redis connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

func (q *RedisQueue) key(name string) string {
	return q.Prefix + ":" + name
}

// sendScript atomically checks the dedup marker and stores the message
// either in the delayed set or directly on the ready list.
var sendScript = redis.NewScript(`
	local dedup_key = KEYS[1]
	local delayed_key = KEYS[2]
	local ready_key = KEYS[3]
	local msg = ARGV[1]
	local due = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local window = tonumber(ARGV[4])

	if redis.call('EXISTS', dedup_key) == 1 then
		return 0
	end
	redis.call('SET', dedup_key, '1', 'PX', window)

	if due > now then
		redis.call('ZADD', delayed_key, due, msg)
	else
		redis.call('RPUSH', ready_key, msg)
	end
	return 1
`)

// Send enqueues m. A message whose DedupID was already sent within
// DedupWindow is accepted and dropped, as SQS FIFO does.
func (q *RedisQueue) Send(ctx context.Context, m Message) error {
	if err := m.validate(); err != nil {
		return err
	}

	now := q.now()
	env := envelope{
		ID:      uuid.New().String(),
		Body:    m.Body,
		GroupID: m.GroupID,
		DedupID: m.DedupID,
		SentAt:  now.UnixMilli(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	due := now
	if m.DelaySeconds != nil {
		due = now.Add(time.Duration(*m.DelaySeconds) * time.Second)
	}

	stored, err := sendScript.Run(ctx, q.rdb,
		[]string{q.key("dedup:" + m.DedupID), q.key("delayed"), q.key("ready")},
		string(data), due.UnixMilli(), now.UnixMilli(), q.DedupWindow.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("send message %s: %w", m.DedupID, err)
	}
	if stored == 0 {
		q.log.Debug().Str("dedup_id", m.DedupID).Msg("duplicate message dropped")
	}
	return nil
}

// receiveScript pops up to ARGV[1] messages from the ready list and parks
// them in the in-flight set until ARGV[2]. A message popped for the
// (ARGV[3]+1)th time goes to the dead list instead. The reply is the number
// of dead-lettered messages followed by message, receive count pairs.
var receiveScript = redis.NewScript(`
	local ready_key = KEYS[1]
	local inflight_key = KEYS[2]
	local receives_key = KEYS[3]
	local dead_key = KEYS[4]
	local max = tonumber(ARGV[1])
	local invisible_until = tonumber(ARGV[2])
	local max_receives = tonumber(ARGV[3])

	local out = {0}
	for i = 1, max do
		local msg = redis.call('LPOP', ready_key)
		if not msg then
			break
		end
		local n = redis.call('HINCRBY', receives_key, msg, 1)
		if max_receives > 0 and n > max_receives then
			redis.call('HDEL', receives_key, msg)
			redis.call('RPUSH', dead_key, msg)
			out[1] = out[1] + 1
		else
			redis.call('ZADD', inflight_key, invisible_until, msg)
			table.insert(out, msg)
			table.insert(out, n)
		end
	end
	return out
`)

// Receive returns up to max visible messages without blocking. Each returned
// message stays invisible for Visibility; Ack removes it for good. Messages
// past MaxReceives are moved to the dead list and not returned.
func (q *RedisQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		return nil, nil
	}
	until := q.now().Add(q.Visibility).UnixMilli()

	res, err := receiveScript.Run(ctx, q.rdb,
		[]string{q.key("ready"), q.key("inflight"), q.key("receives"), q.key("dead")},
		max, until, q.MaxReceives,
	).Slice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	if dead, _ := res[0].(int64); dead > 0 {
		q.log.Warn().Int64("count", dead).Int("max_receives", q.MaxReceives).Msg("moved messages to the dead list")
	}

	out := make([]Delivery, 0, (len(res)-1)/2)
	for i := 1; i+1 < len(res); i += 2 {
		r, _ := res[i].(string)
		count, _ := res[i+1].(int64)

		var env envelope
		if err := json.Unmarshal([]byte(r), &env); err != nil {
			q.log.Error().Err(err).Msg("dead-lettering undecodable queue entry")
			if err := q.bury(ctx, r); err != nil {
				q.log.Error().Err(err).Msg("failed to dead-letter queue entry")
			}
			continue
		}
		out = append(out, Delivery{
			ID:           env.ID,
			Body:         env.Body,
			GroupID:      env.GroupID,
			DedupID:      env.DedupID,
			Receipt:      r,
			ReceiveCount: int(count),
		})
	}
	return out, nil
}

// bury moves an in-flight entry to the dead list.
func (q *RedisQueue) bury(ctx context.Context, raw string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.key("inflight"), raw)
	pipe.HDel(ctx, q.key("receives"), raw)
	pipe.RPush(ctx, q.key("dead"), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bury entry: %w", err)
	}
	return nil
}

// Ack deletes received messages.
func (q *RedisQueue) Ack(ctx context.Context, ds ...Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	// A message whose visibility already lapsed may sit on the ready list
	// again; remove it there too.
	pipe := q.rdb.TxPipeline()
	for _, d := range ds {
		pipe.ZRem(ctx, q.key("inflight"), d.Receipt)
		pipe.LRem(ctx, q.key("ready"), 0, d.Receipt)
		pipe.HDel(ctx, q.key("receives"), d.Receipt)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack %d messages: %w", len(ds), err)
	}
	return nil
}

// promoteScript moves everything due in the delayed and in-flight sets to
// the ready list, oldest first.
var promoteScript = redis.NewScript(`
	local ready_key = KEYS[3]
	local now = tonumber(ARGV[1])
	local moved = 0

	for i = 1, 2 do
		local msgs = redis.call('ZRANGEBYSCORE', KEYS[i], '-inf', now)
		if #msgs > 0 then
			redis.call('ZREMRANGEBYSCORE', KEYS[i], '-inf', now)
			for _, msg in ipairs(msgs) do
				redis.call('RPUSH', ready_key, msg)
			end
			moved = moved + #msgs
		end
	end
	return moved
`)

// Promote makes due messages visible and returns how many moved.
//
// The move is a single Lua script, so concurrent promoters never deliver a
// message twice.
func (q *RedisQueue) Promote(ctx context.Context) (int, error) {
	moved, err := promoteScript.Run(ctx, q.rdb,
		[]string{q.key("delayed"), q.key("inflight"), q.key("ready")},
		q.now().UnixMilli(),
	).Int()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("promote messages: %w", err)
	}
	return moved, nil
}

// StartScheduler promotes due messages every interval until ctx is cancelled.
//
// Usage:
//
//	go q.StartScheduler(ctx, 500*time.Millisecond)
func (q *RedisQueue) StartScheduler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := q.Promote(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				q.log.Error().Err(err).Msg("scheduler error")
				continue
			}
			if moved > 0 {
				q.log.Debug().Int("moved", moved).Msg("promoted due messages")
			}
		}
	}
}

// Depths returns the number of messages in each part of the queue.
func (q *RedisQueue) Depths(ctx context.Context) map[string]int64 {
	depths := make(map[string]int64)

	if n, err := q.rdb.LLen(ctx, q.key("ready")).Result(); err == nil {
		depths["ready"] = n
	}
	if n, err := q.rdb.ZCard(ctx, q.key("delayed")).Result(); err == nil {
		depths["delayed"] = n
	}
	if n, err := q.rdb.ZCard(ctx, q.key("inflight")).Result(); err == nil {
		depths["inflight"] = n
	}
	if n, err := q.rdb.LLen(ctx, q.key("dead")).Result(); err == nil {
		depths["dead"] = n
	}
	return depths
}
