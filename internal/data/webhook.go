package data

import (
	"context"

	"FreightLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// LogWebhookService only logs breaker notifications.
// An HTTP implementation can replace it behind biz.WebhookService.
type LogWebhookService struct {
	logger *log.Helper
}

// NewLogWebhookService creates a log-only notifier
func NewLogWebhookService(logger log.Logger) *LogWebhookService {
	return &LogWebhookService{
		logger: log.NewHelper(log.With(logger, "module", "data/webhook")),
	}
}

// NotifyCircuitOpened logs the breaker trip
func (s *LogWebhookService) NotifyCircuitOpened(_ context.Context, event *model.CircuitOpenedEvent) error {
	s.logger.Infow("msg", "circuit opened notification",
		"service", event.Service,
		"consecutive_failures", event.ConsecutiveFailures,
		"opened_at", event.OpenedAt,
		"retry_at", event.RetryAt)
	return nil
}

// NotifyCircuitClosed logs the breaker recovery
func (s *LogWebhookService) NotifyCircuitClosed(_ context.Context, event *model.CircuitClosedEvent) error {
	s.logger.Infow("msg", "circuit closed notification",
		"service", event.Service,
		"opened_for", event.OpenedFor.String(),
		"recovered_at", event.RecoveredAt)
	return nil
}
