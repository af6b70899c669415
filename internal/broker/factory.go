package broker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"FreightLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewBroker creates the broker selected by broker.type. An empty type means
// the in-memory broker.
func NewBroker(c *conf.Broker, logger log.Logger) (Broker, func(), error) {
	if c == nil {
		c = &conf.Broker{}
	}
	helper := log.NewHelper(log.With(logger, "module", "broker/factory"))

	group := c.ConsumerGroup
	if group == "" {
		group = "route-service"
	}
	consumer := consumerName(c.ConsumerName)

	var (
		b   Broker
		err error
	)
	switch t := strings.ToLower(c.Type); t {
	case "", TypeMemory:
		b = NewMemoryBroker(c.RedeliveryDelay, logger)
	case TypeRedis:
		b, err = newRedisFromConfig(c, group, consumer, logger)
	case TypeNATS:
		url := c.URL
		if url == "" {
			url = "nats://127.0.0.1:4222"
		}
		b, err = NewNATSBroker(url, group, consumer, c.RedeliveryDelay, logger)
	case TypeKafka:
		b, err = NewKafkaBroker(c.KafkaBrokers, group, c.RedeliveryDelay, logger)
	default:
		return nil, nil, fmt.Errorf("unsupported broker type: %s", c.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	helper.Infow("msg", "broker created", "type", c.Type, "group", group, "consumer", consumer)

	cleanup := func() {
		if err := b.Close(); err != nil {
			helper.Errorw("msg", "failed to close broker", "error", err)
		}
	}
	return b, cleanup, nil
}

func newRedisFromConfig(c *conf.Broker, group, consumer string, logger log.Logger) (*RedisBroker, error) {
	addr := c.URL
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	var opts *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid redis broker url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr, Password: c.Password, DB: c.RedisDB}
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis broker: %w", err)
	}

	b, err := NewRedisBroker(client, true, RedisOptions{
		StreamPrefix:    c.StreamPrefix,
		ConsumerGroup:   group,
		ConsumerName:    consumer,
		RedeliveryDelay: c.RedeliveryDelay,
		ClaimMinIdle:    c.ClaimMinIdle,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return b, nil
}

// consumerName returns name, or hostname plus a short random suffix.
func consumerName(name string) string {
	if name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "freightlane"
	}
	return host + "-" + uuid.NewString()[:8]
}
