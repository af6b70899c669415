package model

import "time"

// Broker subjects for booking and route events.
const (
	SubjectBookingConfirmed     = "booking.confirmed"
	SubjectBookingCancelled     = "booking.cancelled"
	SubjectRouteCapacityChanged = "route.capacity_changed"
	SubjectRouteStatusUpdated   = "route.status_updated"
)

// Event type names stored in the processed-events ledger.
const (
	EventTypeBookingConfirmed = "BookingConfirmed"
	EventTypeBookingCancelled = "BookingCancelled"
)

// Identifier limits, matching the ledger and route columns.
const (
	MaxBookingIDLength = 64
	MaxRouteIDLength   = 36
)

// BookingEvent is the payload shared by booking lifecycle events.
// BookingID is the idempotency key.
type BookingEvent struct {
	BookingID      string   `json:"bookingId"`
	RouteID        string   `json:"routeId"`
	BookedWeightKg float64  `json:"bookedWeightKg"`
	BookedVolumeM3 *float64 `json:"bookedVolumeM3,omitempty"`
}

// BookingConfirmed is emitted by the booking service when a booking is accepted.
type BookingConfirmed struct {
	BookingEvent
}

// BookingCancelled is emitted by the booking service when a booking is withdrawn.
type BookingCancelled struct {
	BookingEvent
}

// RouteCapacityChanged is published after every applied capacity change.
type RouteCapacityChanged struct {
	EventID    string    `json:"eventId"`
	RouteID    string    `json:"routeId"`
	PrevKg     float64   `json:"prevKg"`
	NewKg      float64   `json:"newKg"`
	PrevM3     *float64  `json:"prevM3,omitempty"`
	NewM3      *float64  `json:"newM3,omitempty"`
	BookingID  string    `json:"bookingId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// RouteStatusUpdated is published only when the route status actually changed.
type RouteStatusUpdated struct {
	EventID        string      `json:"eventId"`
	RouteID        string      `json:"routeId"`
	PreviousStatus RouteStatus `json:"previousStatus"`
	NewStatus      RouteStatus `json:"newStatus"`
	OccurredAt     time.Time   `json:"occurredAt"`
}

// CircuitOpenedEvent is raised when a service breaker trips.
type CircuitOpenedEvent struct {
	Service             string
	ConsecutiveFailures int
	OpenedAt            time.Time
	RetryAt             time.Time
	LastError           string
}

// CircuitClosedEvent is raised when a half-open trial succeeds.
type CircuitClosedEvent struct {
	Service     string
	OpenedFor   time.Duration
	RecoveredAt time.Time
}
