package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	b, err := NewRedisBroker(client, true, RedisOptions{
		StreamPrefix:    "test",
		ConsumerGroup:   "route-service",
		ConsumerName:    "node-1",
		RedeliveryDelay: 20 * time.Millisecond,
	}, log.DefaultLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return b, mr
}

func TestNewRedisBroker_Validation(t *testing.T) {
	_, err := NewRedisBroker(nil, false, RedisOptions{ConsumerGroup: "g", ConsumerName: "c"}, log.DefaultLogger)
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	_, err = NewRedisBroker(client, false, RedisOptions{}, log.DefaultLogger)
	assert.Error(t, err)
}

func TestRedisBroker_PublishAppendsToStream(t *testing.T) {
	b, mr := setupRedisBroker(t)

	require.NoError(t, b.Publish(context.Background(), "route.capacity_changed", []byte(`{"routeId":"r-1"}`)))

	entries, err := mr.Stream("test:route.capacity_changed")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"data", `{"routeId":"r-1"}`}, entries[0].Values)
}

func TestRedisBroker_SubscribeAcksHandledEntries(t *testing.T) {
	b, _ := setupRedisBroker(t)
	ctx := context.Background()

	received := make(chan string, 2)
	require.NoError(t, b.Subscribe(ctx, "booking.confirmed", func(_ context.Context, _ string, data []byte) error {
		received <- string(data)
		return nil
	}))
	assert.Error(t, b.Subscribe(ctx, "booking.confirmed", nil))

	require.NoError(t, b.Publish(ctx, "booking.confirmed", []byte("B1")))
	require.NoError(t, b.Publish(ctx, "booking.confirmed", []byte("B2")))

	for _, want := range []string{"B1", "B2"} {
		select {
		case got := <-received:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("entry %s not delivered", want)
		}
	}

	assert.Eventually(t, func() bool {
		pending, err := b.client.XPending(ctx, "test:booking.confirmed", "route-service").Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRedisBroker_FailedEntryIsRedelivered(t *testing.T) {
	b, _ := setupRedisBroker(t)
	ctx := context.Background()

	var calls atomic.Int32
	done := make(chan struct{})
	require.NoError(t, b.Subscribe(ctx, "booking.cancelled", func(context.Context, string, []byte) error {
		if calls.Add(1) == 1 {
			return errors.New("deadlock")
		}
		close(done)
		return nil
	}))

	require.NoError(t, b.Publish(ctx, "booking.cancelled", []byte("B1")))

	select {
	case <-done:
		assert.Equal(t, int32(2), calls.Load())
	case <-time.After(5 * time.Second):
		t.Fatalf("pending entry not redelivered, calls=%d", calls.Load())
	}
}

func newRedisBrokerOn(t *testing.T, mr *miniredis.Miniredis, consumer string, claimMinIdle time.Duration) *RedisBroker {
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b, err := NewRedisBroker(client, true, RedisOptions{
		StreamPrefix:    "test",
		ConsumerGroup:   "route-service",
		ConsumerName:    consumer,
		RedeliveryDelay: 20 * time.Millisecond,
		ClaimMinIdle:    claimMinIdle,
	}, log.DefaultLogger)
	require.NoError(t, err)
	return b
}

func TestRedisBroker_ClaimsEntriesLeftByPreviousConsumer(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	// first process fails the entry and goes away without acking it
	first := newRedisBrokerOn(t, mr, "node-a1b2c3d4", 50*time.Millisecond)
	attempted := make(chan struct{}, 1)
	require.NoError(t, first.Subscribe(ctx, "booking.confirmed", func(context.Context, string, []byte) error {
		select {
		case attempted <- struct{}{}:
		default:
		}
		return errors.New("connection refused")
	}))
	require.NoError(t, first.Publish(ctx, "booking.confirmed", []byte("B1")))

	select {
	case <-attempted:
	case <-time.After(5 * time.Second):
		t.Fatal("entry not delivered to the first consumer")
	}
	require.NoError(t, first.Close())

	// the restarted process comes back under a different consumer name
	second := newRedisBrokerOn(t, mr, "node-e5f6a7b8", 50*time.Millisecond)
	t.Cleanup(func() { _ = second.Close() })

	received := make(chan string, 1)
	require.NoError(t, second.Subscribe(ctx, "booking.confirmed", func(_ context.Context, _ string, data []byte) error {
		received <- string(data)
		return nil
	}))

	select {
	case got := <-received:
		assert.Equal(t, "B1", got)
	case <-time.After(5 * time.Second):
		t.Fatal("entry left pending by the previous consumer was never redelivered")
	}

	assert.Eventually(t, func() bool {
		pending, err := second.client.XPending(ctx, "test:booking.confirmed", "route-service").Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRedisBroker_DoesNotClaimBusyEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	first := newRedisBrokerOn(t, mr, "node-1", time.Hour)
	t.Cleanup(func() { _ = first.Close() })
	attempted := make(chan struct{}, 1)
	require.NoError(t, first.Subscribe(ctx, "booking.cancelled", func(context.Context, string, []byte) error {
		select {
		case attempted <- struct{}{}:
		default:
		}
		return errors.New("deadlock")
	}))
	require.NoError(t, first.Publish(ctx, "booking.cancelled", []byte("B1")))
	<-attempted

	second := newRedisBrokerOn(t, mr, "node-2", time.Hour)
	t.Cleanup(func() { _ = second.Close() })
	var calls atomic.Int32
	require.NoError(t, second.Subscribe(ctx, "booking.cancelled", func(context.Context, string, []byte) error {
		calls.Add(1)
		return nil
	}))

	// the entry has not been idle long enough to be taken from its owner
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestRedisBroker_Unsubscribe(t *testing.T) {
	b, _ := setupRedisBroker(t)

	require.NoError(t, b.Subscribe(context.Background(), "booking.confirmed", func(context.Context, string, []byte) error { return nil }))
	require.NoError(t, b.Unsubscribe("booking.confirmed"))
	assert.Error(t, b.Unsubscribe("booking.confirmed"))
}
