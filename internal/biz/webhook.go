package biz

import (
	"context"

	"FreightLane/internal/model"
)

// WebhookService defines the interface for breaker notifications
type WebhookService interface {
	// NotifyCircuitOpened sends notification when a service breaker trips
	NotifyCircuitOpened(ctx context.Context, event *model.CircuitOpenedEvent) error

	// NotifyCircuitClosed sends notification when a service breaker recovers
	NotifyCircuitClosed(ctx context.Context, event *model.CircuitClosedEvent) error
}
