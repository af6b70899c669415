package model

// Audit event type constants
const (
	AuditEventCircuitOpened     = "CIRCUIT_OPENED"
	AuditEventCircuitClosed     = "CIRCUIT_CLOSED"
	AuditEventHealthChanged     = "HEALTH_CHANGED"
	AuditEventServiceRegistered = "SERVICE_REGISTERED"
)
