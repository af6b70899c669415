// Package broker abstracts the message brokers booking events arrive on and
// route events leave through.
package broker

import (
	"context"
	"strings"
	"time"
)

// Broker types accepted by broker.type.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
	TypeNATS   = "nats"
	TypeKafka  = "kafka"
)

const defaultRedeliveryDelay = time.Second

// Handler processes one message. Returning nil acknowledges the message;
// returning an error leaves it unacknowledged so the backend redelivers it.
type Handler func(ctx context.Context, subject string, data []byte) error

// Publisher publishes messages to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Subscriber delivers messages of a subject to a handler until ctx is done
// or the subscriber is closed.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler Handler) error
	Unsubscribe(subject string) error
}

// Broker combines both directions over one connection.
type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// sanitize makes subject usable as a NATS stream or consumer name.
func sanitize(subject string) string {
	r := strings.NewReplacer(".", "_", "-", "_", "*", "all", ">", "rest")
	return r.Replace(subject)
}

func preview(data []byte) string {
	return string(data[:min(100, len(data))])
}
