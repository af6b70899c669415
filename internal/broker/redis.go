package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisReadCount = 100
	redisReadBlock = time.Second
	redisDataField = "data"

	defaultClaimMinIdle = time.Minute
)

// RedisBroker publishes to and consumes from Redis Streams. Each subject maps
// to the stream {prefix}:{subject} read through one consumer group.
//
// Unacknowledged entries stay in the consumer's pending list. After a handler
// failure the consumer re-reads its pending list before taking new entries.
// Entries left pending by another consumer, typically a previous process
// that crashed or restarted under a different name, are claimed with
// XAUTOCLAIM once they have been idle for ClaimMinIdle.
type RedisBroker struct {
	client       *redis.Client
	ownsClient   bool
	streamPrefix string
	group        string
	consumer     string

	redeliveryDelay time.Duration
	claimMinIdle    time.Duration

	mu            sync.Mutex
	subscriptions map[string]context.CancelFunc
	wg            sync.WaitGroup

	log *log.Helper
}

// RedisOptions configures a RedisBroker.
type RedisOptions struct {
	StreamPrefix    string
	ConsumerGroup   string
	ConsumerName    string
	RedeliveryDelay time.Duration
	ClaimMinIdle    time.Duration
}

// NewRedisBroker creates a Redis Streams broker on client. The broker closes
// the client on Close only when ownsClient is set.
func NewRedisBroker(client *redis.Client, ownsClient bool, opts RedisOptions, logger log.Logger) (*RedisBroker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.ConsumerGroup == "" || opts.ConsumerName == "" {
		return nil, errors.New("consumer group and consumer name are required")
	}
	if opts.StreamPrefix == "" {
		opts.StreamPrefix = "freightlane"
	}
	if opts.RedeliveryDelay <= 0 {
		opts.RedeliveryDelay = defaultRedeliveryDelay
	}
	if opts.ClaimMinIdle <= 0 {
		opts.ClaimMinIdle = defaultClaimMinIdle
	}

	return &RedisBroker{
		client:          client,
		ownsClient:      ownsClient,
		streamPrefix:    opts.StreamPrefix,
		group:           opts.ConsumerGroup,
		consumer:        opts.ConsumerName,
		redeliveryDelay: opts.RedeliveryDelay,
		claimMinIdle:    opts.ClaimMinIdle,
		subscriptions:   make(map[string]context.CancelFunc),
		log:             log.NewHelper(log.With(logger, "module", "broker/redis")),
	}, nil
}

func (b *RedisBroker) streamName(subject string) string {
	return fmt.Sprintf("%s:%s", b.streamPrefix, subject)
}

// Publish appends data to the subject stream.
func (b *RedisBroker) Publish(ctx context.Context, subject string, data []byte) error {
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.streamName(subject),
		ID:     "*",
		Values: map[string]interface{}{redisDataField: data},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", b.streamName(subject), err)
	}
	return nil
}

// Subscribe joins the consumer group of the subject stream, creating both if needed.
func (b *RedisBroker) Subscribe(ctx context.Context, subject string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stream := b.streamName(subject)
	if _, exists := b.subscriptions[stream]; exists {
		return fmt.Errorf("already subscribed to stream: %s", stream)
	}

	err := b.client.XGroupCreateMkStream(ctx, stream, b.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	b.subscriptions[stream] = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(subCtx, stream, subject, handler)
	}()

	b.log.Infow("msg", "subscribed to redis stream", "stream", stream, "group", b.group, "consumer", b.consumer)
	return nil
}

func (b *RedisBroker) consume(ctx context.Context, stream, subject string, handler Handler) {
	// start with our own pending entries left over from a previous run
	pending := true
	var lastClaim time.Time

	for ctx.Err() == nil {
		if !pending && time.Since(lastClaim) >= b.claimMinIdle {
			lastClaim = time.Now()
			if !b.reclaim(ctx, stream, subject, handler) {
				pending = true
				b.sleep(ctx)
				continue
			}
		}

		id := ">"
		if pending {
			id = "0"
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.group,
			Consumer: b.consumer,
			Streams:  []string{stream, id},
			Count:    redisReadCount,
			Block:    redisReadBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				pending = false
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			b.log.Errorw("msg", "failed to read from stream", "stream", stream, "error", err)
			b.sleep(ctx)
			continue
		}

		delivered := 0
		failed := false
		for _, s := range streams {
			for _, message := range s.Messages {
				delivered++
				if !b.process(ctx, stream, subject, message, handler) {
					failed = true
				}
			}
		}

		switch {
		case failed:
			pending = true
			b.sleep(ctx)
		case pending && delivered == 0:
			pending = false
		}
	}
}

// reclaim takes over entries idle in other consumers' pending lists and
// handles them. It returns false when any of them stays pending.
func (b *RedisBroker) reclaim(ctx context.Context, stream, subject string, handler Handler) bool {
	ok := true
	start := "0-0"
	for ctx.Err() == nil {
		messages, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    b.group,
			Consumer: b.consumer,
			MinIdle:  b.claimMinIdle,
			Start:    start,
			Count:    redisReadCount,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				b.log.Errorw("msg", "failed to claim idle entries", "stream", stream, "error", err)
			}
			return ok
		}

		if len(messages) > 0 {
			b.log.Infow("msg", "claimed idle stream entries", "stream", stream, "count", len(messages), "consumer", b.consumer)
		}
		for _, message := range messages {
			if !b.process(ctx, stream, subject, message, handler) {
				ok = false
			}
		}

		if next == "" || next == "0-0" {
			return ok
		}
		start = next
	}
	return ok
}

// process returns false when the entry stays pending.
func (b *RedisBroker) process(ctx context.Context, stream, subject string, message redis.XMessage, handler Handler) bool {
	data, ok := message.Values[redisDataField].(string)
	if !ok {
		b.log.Warnw("msg", "invalid stream entry, acknowledging", "stream", stream, "id", message.ID)
		b.ack(ctx, stream, message.ID)
		return true
	}

	if err := handler(ctx, subject, []byte(data)); err != nil {
		b.log.Warnw("msg", "handler failed, entry stays pending",
			"stream", stream,
			"id", message.ID,
			"error", err)
		return false
	}

	b.ack(ctx, stream, message.ID)
	return true
}

func (b *RedisBroker) ack(ctx context.Context, stream, id string) {
	if err := b.client.XAck(ctx, stream, b.group, id).Err(); err != nil {
		b.log.Errorw("msg", "failed to ack stream entry", "stream", stream, "id", id, "error", err)
	}
}

func (b *RedisBroker) sleep(ctx context.Context) {
	t := time.NewTimer(b.redeliveryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Unsubscribe stops consuming subject. Pending entries remain in the group.
func (b *RedisBroker) Unsubscribe(subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stream := b.streamName(subject)
	cancel, exists := b.subscriptions[stream]
	if !exists {
		return fmt.Errorf("not subscribed to stream: %s", stream)
	}
	cancel()
	delete(b.subscriptions, stream)

	b.log.Infow("msg", "unsubscribed from redis stream", "stream", stream)
	return nil
}

// Close stops every consumer and waits for in-flight handlers.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	for _, cancel := range b.subscriptions {
		cancel()
	}
	b.subscriptions = make(map[string]context.CancelFunc)
	b.mu.Unlock()

	b.wg.Wait()

	if b.ownsClient {
		if err := b.client.Close(); err != nil {
			return fmt.Errorf("failed to close redis client: %w", err)
		}
	}
	b.log.Info("redis broker closed")
	return nil
}
