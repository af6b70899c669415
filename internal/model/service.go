package model

import "time"

// HealthStatus is the last known health of a downstream service.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "Unknown"
	HealthHealthy   HealthStatus = "Healthy"
	HealthDegraded  HealthStatus = "Degraded"
	HealthUnhealthy HealthStatus = "Unhealthy"
)

// Valid reports whether s is one of the known health values.
func (s HealthStatus) Valid() bool {
	switch s {
	case HealthUnknown, HealthHealthy, HealthDegraded, HealthUnhealthy:
		return true
	}
	return false
}

func (s HealthStatus) String() string {
	return string(s)
}

// ServiceDescriptor is a registry entry for one logical service.
type ServiceDescriptor struct {
	Name            string       `json:"name"`
	BaseAddress     string       `json:"baseAddress"`
	Health          HealthStatus `json:"health"`
	RegisteredAt    time.Time    `json:"registeredAt"`
	LastHealthCheck *time.Time   `json:"lastHealthCheck,omitempty"`
}

// BreakerState is the state of a per-service circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSnapshot is a point-in-time copy of a breaker, safe to share.
type BreakerSnapshot struct {
	Service             string        `json:"service"`
	State               BreakerState  `json:"state"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	OpenedAt            *time.Time    `json:"openedAt,omitempty"`
	FailureThreshold    int           `json:"failureThreshold"`
	BreakDuration       time.Duration `json:"breakDuration"`
}
