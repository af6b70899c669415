package model

import "errors"

var (
	// ErrServiceNotFound is returned when neither the registry nor any address source knows a service.
	ErrServiceNotFound = errors.New("service not found")
	// ErrRouteNotFound is returned when a route id does not exist.
	ErrRouteNotFound = errors.New("route not found")
	// ErrDuplicateEvent marks an event whose id is already in the ledger.
	ErrDuplicateEvent = errors.New("event already processed")
	// ErrPersistenceConflict is returned when a capacity update keeps losing against concurrent writers.
	ErrPersistenceConflict = errors.New("persistence conflict")
	// ErrInvalidRoute is returned when a route definition fails validation.
	ErrInvalidRoute = errors.New("invalid route")
	// ErrTruckNotOwned is returned when the carrier does not own the truck.
	ErrTruckNotOwned = errors.New("truck is not owned by carrier")
	// ErrInvalidTransition is returned for a lifecycle status change that is not allowed.
	ErrInvalidTransition = errors.New("invalid route status transition")
)
