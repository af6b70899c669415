package biz

import (
	"context"
	"time"

	"FreightLane/internal/model"
)

// CapacityMutation derives the next capacity state from the locked current one.
// Returning an error aborts the transaction.
type CapacityMutation = func(cur model.CapacityState) (model.CapacityState, error)

// RouteRepo persists routes. Implementation is in the data layer (data.RouteRepo).
type RouteRepo interface {
	CreateRoute(ctx context.Context, route *model.Route) error
	GetRoute(ctx context.Context, id string) (*model.Route, error)
	UpdateStatus(ctx context.Context, id string, from, to model.RouteStatus) error

	// ApplyCapacityChange locks the route, writes the ledger row for (eventType, eventID)
	// and the mutated capacity in one transaction. It returns model.ErrDuplicateEvent
	// when the event was already recorded, model.ErrRouteNotFound for an unknown
	// route and model.ErrPersistenceConflict when retries are exhausted.
	ApplyCapacityChange(ctx context.Context, routeID, eventID, eventType string, mutate CapacityMutation) (prev, next model.CapacityState, err error)
}

// LedgerRepo answers whether an event was already applied. Entries are keyed
// by event type and id, so a cancellation never collides with the
// confirmation of the same booking. Writes happen inside
// RouteRepo.ApplyCapacityChange.
type LedgerRepo interface {
	HasProcessed(ctx context.Context, eventType, eventID string) (bool, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// EventPublisher publishes encoded domain events. Every broker backend satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}
