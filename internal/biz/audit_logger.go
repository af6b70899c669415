package biz

import (
	"context"
	"time"

	"FreightLane/internal/model"
)

// AuditLogger records service availability changes for later review.
// Implementations must not block the caller.
type AuditLogger interface {
	// LogCircuitOpened records a breaker trip.
	LogCircuitOpened(ctx context.Context, event *model.CircuitOpenedEvent)

	// LogCircuitClosed records a breaker recovery.
	LogCircuitClosed(ctx context.Context, event *model.CircuitClosedEvent)

	// LogHealthChanged records a registry health transition.
	LogHealthChanged(ctx context.Context, service string, from, to model.HealthStatus, at time.Time)
}
