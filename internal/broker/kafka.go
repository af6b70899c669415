package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/segmentio/kafka-go"
)

// KafkaBroker publishes to and consumes from Kafka topics named after the
// subject. Offsets are committed only after the handler succeeded; a failing
// message is retried in place so later messages of the partition wait.
type KafkaBroker struct {
	brokers []string
	group   string

	redeliveryDelay time.Duration

	mu      sync.Mutex
	writers map[string]*kafka.Writer
	readers map[string]*kafka.Reader
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	log *log.Helper
}

// NewKafkaBroker creates a Kafka broker for brokers.
func NewKafkaBroker(brokers []string, group string, redeliveryDelay time.Duration, logger log.Logger) (*KafkaBroker, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if group == "" {
		return nil, errors.New("consumer group is required")
	}
	if redeliveryDelay <= 0 {
		redeliveryDelay = defaultRedeliveryDelay
	}
	return &KafkaBroker{
		brokers:         brokers,
		group:           group,
		redeliveryDelay: redeliveryDelay,
		writers:         make(map[string]*kafka.Writer),
		readers:         make(map[string]*kafka.Reader),
		cancels:         make(map[string]context.CancelFunc),
		log:             log.NewHelper(log.With(logger, "module", "broker/kafka")),
	}, nil
}

func (b *KafkaBroker) topicName(subject string) string {
	return subject
}

func (b *KafkaBroker) writer(topic string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, ok := b.writers[topic]; ok {
		return w
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(b.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	b.writers[topic] = w
	return w
}

// Publish writes data synchronously to the subject topic.
func (b *KafkaBroker) Publish(ctx context.Context, subject string, data []byte) error {
	topic := b.topicName(subject)
	if err := b.writer(topic).WriteMessages(ctx, kafka.Message{Value: data}); err != nil {
		return fmt.Errorf("failed to publish to kafka topic %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a group reader for the subject topic.
func (b *KafkaBroker) Subscribe(ctx context.Context, subject string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic := b.topicName(subject)
	if _, exists := b.readers[topic]; exists {
		return fmt.Errorf("already subscribed to topic: %s", topic)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           b.brokers,
		GroupID:           b.group,
		Topic:             topic,
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           time.Second,
		StartOffset:       kafka.FirstOffset,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			b.log.Debugf(msg, args...)
		}),
	})
	subCtx, cancel := context.WithCancel(ctx)
	b.readers[topic] = reader
	b.cancels[topic] = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(subCtx, reader, subject, handler)
	}()

	b.log.Infow("msg", "subscribed to kafka topic", "topic", topic, "group", b.group)
	return nil
}

func (b *KafkaBroker) consume(ctx context.Context, reader *kafka.Reader, subject string, handler Handler) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Errorw("msg", "failed to fetch message", "topic", reader.Config().Topic, "error", err)
			if !b.sleep(ctx) {
				return
			}
			continue
		}

		for attempt := 1; ; attempt++ {
			err := handler(ctx, subject, msg.Value)
			if err == nil {
				break
			}
			b.log.Warnw("msg", "handler failed, retrying message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"attempt", attempt,
				"error", err)
			if !b.sleep(ctx) {
				return
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			b.log.Errorw("msg", "failed to commit message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

// sleep waits for the redelivery delay and reports whether ctx is still live.
func (b *KafkaBroker) sleep(ctx context.Context) bool {
	t := time.NewTimer(b.redeliveryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Unsubscribe stops the reader of subject.
func (b *KafkaBroker) Unsubscribe(subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic := b.topicName(subject)
	cancel, exists := b.cancels[topic]
	if !exists {
		return fmt.Errorf("not subscribed to topic: %s", topic)
	}
	cancel()
	delete(b.cancels, topic)

	if reader, ok := b.readers[topic]; ok {
		if err := reader.Close(); err != nil {
			b.log.Warnw("msg", "failed to close reader", "topic", topic, "error", err)
		}
		delete(b.readers, topic)
	}

	b.log.Infow("msg", "unsubscribed from kafka topic", "topic", topic)
	return nil
}

// Close stops every reader and flushes the writers.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = make(map[string]context.CancelFunc)
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	var lastErr error
	for topic, reader := range b.readers {
		if err := reader.Close(); err != nil {
			b.log.Warnw("msg", "failed to close reader", "topic", topic, "error", err)
			lastErr = err
		}
	}
	for topic, w := range b.writers {
		if err := w.Close(); err != nil {
			b.log.Warnw("msg", "failed to close writer", "topic", topic, "error", err)
			lastErr = err
		}
	}
	b.readers = make(map[string]*kafka.Reader)
	b.writers = make(map[string]*kafka.Writer)

	b.log.Info("kafka broker closed")
	return lastErr
}
