package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/nats-io/nats.go"
)

const (
	natsAckWait       = 30 * time.Second
	natsMaxAckPending = 100
	natsStreamMaxAge  = 7 * 24 * time.Hour
)

// NATSBroker publishes and consumes through NATS JetStream. Every subject gets
// its own work-queue stream and one durable queue consumer per group, so
// replicas sharing the group split the load.
type NATSBroker struct {
	conn     *nats.Conn
	js       nats.JetStreamContext
	group    string
	consumer string

	redeliveryDelay time.Duration

	mu            sync.Mutex
	subscriptions map[string]*nats.Subscription

	log *log.Helper
}

// NewNATSBroker connects to url and opens a JetStream context.
func NewNATSBroker(url, group, consumer string, redeliveryDelay time.Duration, logger log.Logger) (*NATSBroker, error) {
	helper := log.NewHelper(log.With(logger, "module", "broker/nats"))

	conn, err := nats.Connect(url,
		nats.Name("freightlane-"+consumer),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				helper.Warnw("msg", "nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			helper.Infow("msg", "nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b, err := newNATSBrokerWithConn(conn, group, consumer, redeliveryDelay, helper)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func newNATSBrokerWithConn(conn *nats.Conn, group, consumer string, redeliveryDelay time.Duration, helper *log.Helper) (*NATSBroker, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if group == "" {
		return nil, errors.New("consumer group is required")
	}
	if redeliveryDelay <= 0 {
		redeliveryDelay = defaultRedeliveryDelay
	}
	return &NATSBroker{
		conn:            conn,
		js:              js,
		group:           group,
		consumer:        consumer,
		redeliveryDelay: redeliveryDelay,
		subscriptions:   make(map[string]*nats.Subscription),
		log:             helper,
	}, nil
}

func (b *NATSBroker) streamName(subject string) string {
	return "FREIGHTLANE_" + sanitize(subject)
}

func (b *NATSBroker) durableName(subject string) string {
	return b.group + "_" + sanitize(subject)
}

// Publish stores data in the subject stream and waits for the JetStream ack.
func (b *NATSBroker) Publish(ctx context.Context, subject string, data []byte) error {
	if err := b.ensureStream(subject); err != nil {
		return err
	}
	if _, err := b.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}
	return nil
}

// Subscribe binds a durable manual-ack consumer. A handler error Naks the
// message with the redelivery delay.
func (b *NATSBroker) Subscribe(ctx context.Context, subject string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}
	if err := b.ensureStream(subject); err != nil {
		return err
	}

	durable := b.durableName(subject)
	sub, err := b.js.QueueSubscribe(subject, durable, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			_ = msg.Nak()
			return
		}

		if err := handler(ctx, msg.Subject, msg.Data); err != nil {
			b.log.Warnw("msg", "handler failed, message will be redelivered",
				"subject", msg.Subject,
				"error", err,
				"data_preview", preview(msg.Data))
			_ = msg.NakWithDelay(b.redeliveryDelay)
			return
		}
		if err := msg.Ack(); err != nil {
			b.log.Errorw("msg", "failed to ack message", "subject", msg.Subject, "error", err)
		}
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.MaxAckPending(natsMaxAckPending),
		nats.AckWait(natsAckWait),
		nats.DeliverAll(),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.subscriptions[subject] = sub
	b.log.Infow("msg", "subscribed to jetstream subject", "subject", subject, "durable", durable)
	return nil
}

// ensureStream creates the subject stream unless a stream already covers it.
func (b *NATSBroker) ensureStream(subject string) error {
	if name, err := b.js.StreamNameBySubject(subject); err == nil && name != "" {
		return nil
	}

	name := b.streamName(subject)
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
		MaxAge:    natsStreamMaxAge,
		Storage:   nats.FileStorage,
		Replicas:  1,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create stream %s: %w", name, err)
	}
	return nil
}

// Unsubscribe drains the subscription of subject. The durable consumer is kept.
func (b *NATSBroker) Unsubscribe(subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscriptions[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", subject, err)
	}
	delete(b.subscriptions, subject)

	b.log.Infow("msg", "unsubscribed from jetstream subject", "subject", subject)
	return nil
}

// Close drains all subscriptions and closes the connection.
func (b *NATSBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subject, sub := range b.subscriptions {
		if err := sub.Drain(); err != nil {
			b.log.Warnw("msg", "failed to drain subscription", "subject", subject, "error", err)
		}
	}
	b.subscriptions = make(map[string]*nats.Subscription)

	b.conn.Close()
	b.log.Info("nats broker closed")
	return nil
}
