package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"FreightLane/internal/biz"
	"FreightLane/internal/broker"
	"FreightLane/internal/metrics"
	"FreightLane/internal/model"
	pkglog "FreightLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
)

var _ transport.Server = (*ConsumerServer)(nil)

// ConsumerServer subscribes the booking handlers to the broker for the
// lifetime of the application.
type ConsumerServer struct {
	subscriber broker.Subscriber
	handlers   map[string]broker.Handler
	metrics    *metrics.Metrics
	log        *pkglog.LogHelper
}

// NewConsumerServer builds the subject to handler table for the booking consumer.
func NewConsumerServer(b broker.Broker, consumer *biz.BookingConsumer, m *metrics.Metrics, logger log.Logger) *ConsumerServer {
	s := &ConsumerServer{
		subscriber: b,
		metrics:    m,
		log:        pkglog.NewLogHelper(log.With(logger, "module", "server/consumer")),
	}
	s.handlers = map[string]broker.Handler{
		model.SubjectBookingConfirmed: func(ctx context.Context, subject string, data []byte) error {
			var evt model.BookingConfirmed
			if err := json.Unmarshal(data, &evt); err != nil {
				return s.undecodable(subject, data, err)
			}
			return consumer.HandleConfirmed(ctx, &evt)
		},
		model.SubjectBookingCancelled: func(ctx context.Context, subject string, data []byte) error {
			var evt model.BookingCancelled
			if err := json.Unmarshal(data, &evt); err != nil {
				return s.undecodable(subject, data, err)
			}
			return consumer.HandleCancelled(ctx, &evt)
		},
	}
	return s
}

// undecodable acknowledges a payload that can never be decoded.
func (s *ConsumerServer) undecodable(subject string, data []byte, err error) error {
	s.metrics.ObserveEvent(subject, biz.OutcomeMalformed)
	s.log.Errorw("msg", "undecodable booking event acknowledged",
		"subject", subject,
		"payload", string(data[:min(200, len(data))]),
		"error", err)
	return nil
}

// Subjects lists the subscribed subjects in order.
func (s *ConsumerServer) Subjects() []string {
	subjects := make([]string, 0, len(s.handlers))
	for subject := range s.handlers {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects
}

// Start subscribes every handler. Delivery runs until ctx is done or Stop is called.
func (s *ConsumerServer) Start(ctx context.Context) error {
	for _, subject := range s.Subjects() {
		if err := s.subscriber.Subscribe(ctx, subject, s.handlers[subject]); err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.log.Consumer("subscribed to "+subject, "subject", subject)
	}
	return nil
}

// Stop removes the subscriptions; in-flight messages are left to redelivery.
func (s *ConsumerServer) Stop(_ context.Context) error {
	var firstErr error
	for _, subject := range s.Subjects() {
		if err := s.subscriber.Unsubscribe(subject); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unsubscribe %s: %w", subject, err)
		}
	}
	s.log.Consumer("booking consumers stopped")
	return firstErr
}
