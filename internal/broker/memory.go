package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

const memoryBufferSize = 1000

type memoryMessage struct {
	subject  string
	data     []byte
	attempts int
}

type memorySubscription struct {
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	ch      chan memoryMessage
}

// MemoryBroker is an in-process broker. Failed messages are put back on the
// subscription queue after the redelivery delay.
type MemoryBroker struct {
	mu            sync.RWMutex
	subscriptions map[string]*memorySubscription
	closed        bool

	redeliveryDelay time.Duration
	log             *log.Helper
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker(redeliveryDelay time.Duration, logger log.Logger) *MemoryBroker {
	if redeliveryDelay <= 0 {
		redeliveryDelay = defaultRedeliveryDelay
	}
	return &MemoryBroker{
		subscriptions:   make(map[string]*memorySubscription),
		redeliveryDelay: redeliveryDelay,
		log:             log.NewHelper(log.With(logger, "module", "broker/memory")),
	}
}

// Publish enqueues data for the subscriber of subject. Messages without a
// subscriber are dropped.
func (b *MemoryBroker) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("memory broker is closed")
	}

	sub, ok := b.subscriptions[subject]
	if !ok {
		b.log.Debugw("msg", "no subscriber, dropping message", "subject", subject)
		return nil
	}

	msg := memoryMessage{subject: subject, data: append([]byte(nil), data...)}
	select {
	case sub.ch <- msg:
		return nil
	case <-sub.ctx.Done():
		return fmt.Errorf("subscription to %s is closed", subject)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe starts delivering subject to handler.
func (b *MemoryBroker) Subscribe(ctx context.Context, subject string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("memory broker is closed")
	}
	if _, exists := b.subscriptions[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySubscription{
		handler: handler,
		ctx:     subCtx,
		cancel:  cancel,
		ch:      make(chan memoryMessage, memoryBufferSize),
	}
	b.subscriptions[subject] = sub

	go b.consume(sub)

	b.log.Infow("msg", "subscribed to in-memory subject", "subject", subject)
	return nil
}

func (b *MemoryBroker) consume(sub *memorySubscription) {
	for {
		select {
		case <-sub.ctx.Done():
			return
		case msg := <-sub.ch:
			if err := sub.handler(sub.ctx, msg.subject, msg.data); err != nil {
				msg.attempts++
				b.log.Warnw("msg", "handler failed, message will be redelivered",
					"subject", msg.subject,
					"attempts", msg.attempts,
					"error", err)
				b.redeliver(sub, msg)
			}
		}
	}
}

func (b *MemoryBroker) redeliver(sub *memorySubscription, msg memoryMessage) {
	time.AfterFunc(b.redeliveryDelay, func() {
		select {
		case sub.ch <- msg:
		case <-sub.ctx.Done():
		}
	})
}

// Unsubscribe stops delivery of subject. Pending messages are discarded.
func (b *MemoryBroker) Unsubscribe(subject string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, exists := b.subscriptions[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}
	sub.cancel()
	delete(b.subscriptions, subject)

	b.log.Infow("msg", "unsubscribed from in-memory subject", "subject", subject)
	return nil
}

// Close cancels every subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscriptions {
		sub.cancel()
	}
	b.subscriptions = make(map[string]*memorySubscription)
	b.closed = true

	b.log.Info("memory broker closed")
	return nil
}
