package model

import "time"

// RouteStatus is the lifecycle/booking status of a route.
type RouteStatus string

const (
	RouteStatusPlanned       RouteStatus = "Planned"
	RouteStatusBookedPartial RouteStatus = "BookedPartial"
	RouteStatusBookedFull    RouteStatus = "BookedFull"
	RouteStatusInProgress    RouteStatus = "InProgress"
	RouteStatusCompleted     RouteStatus = "Completed"
	RouteStatusCancelled     RouteStatus = "Cancelled"
)

// Valid reports whether s is a known route status.
func (s RouteStatus) Valid() bool {
	switch s {
	case RouteStatusPlanned, RouteStatusBookedPartial, RouteStatusBookedFull,
		RouteStatusInProgress, RouteStatusCompleted, RouteStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether capacity changes can no longer touch the status.
func (s RouteStatus) Terminal() bool {
	return s == RouteStatusCancelled || s == RouteStatusCompleted
}

// CapacityState is the capacity part of a route.
// Volume fields are nil when the route does not track volume.
type CapacityState struct {
	TotalKg     float64     `json:"totalKg"`
	AvailableKg float64     `json:"availableKg"`
	TotalM3     *float64    `json:"totalM3,omitempty"`
	AvailableM3 *float64    `json:"availableM3,omitempty"`
	Status      RouteStatus `json:"status"`
}

// TracksVolume reports whether the route has a defined total volume.
func (c CapacityState) TracksVolume() bool {
	return c.TotalM3 != nil
}

// Route is a truck trip offering capacity for bookings.
type Route struct {
	ID          string        `json:"id"`
	TruckID     string        `json:"truckId"`
	CarrierID   string        `json:"carrierId"`
	Origin      string        `json:"origin"`
	Destination string        `json:"destination"`
	DepartureAt time.Time     `json:"departureAt"`
	Capacity    CapacityState `json:"capacity"`
	Version     int64         `json:"version"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 {
	return &v
}
