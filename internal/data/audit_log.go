package data

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"FreightLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// AuditLog is the GORM model for service_audit_logs table
type AuditLog struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	Service    string    `gorm:"column:service;type:varchar(128);not null;index"`
	ActionType string    `gorm:"column:action_type;type:varchar(50);not null"`
	Details    string    `gorm:"column:details;type:json"` // JSON string
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "service_audit_logs"
}

// AuditLoggerImpl implements biz.AuditLogger interface
type AuditLoggerImpl struct {
	db      *gorm.DB
	logChan chan *AuditLog
	logger  *log.Helper

	mu     sync.RWMutex
	closed bool
}

// NewAuditLogger creates a new audit logger with async channel
func NewAuditLogger(data *Data, logger log.Logger) (*AuditLoggerImpl, func()) {
	al := &AuditLoggerImpl{
		db:      data.DB(),
		logChan: make(chan *AuditLog, 1000), // Buffer size 1000 to prevent blocking
		logger:  log.NewHelper(log.With(logger, "module", "data/audit")),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		al.start()
	}()

	cleanup := func() {
		al.mu.Lock()
		al.closed = true
		close(al.logChan)
		al.mu.Unlock()
		<-done
	}
	return al, cleanup
}

// start processes audit log events from channel until it is closed
func (a *AuditLoggerImpl) start() {
	for event := range a.logChan {
		if a.db == nil {
			continue
		}
		if err := a.db.WithContext(context.Background()).Create(event).Error; err != nil {
			a.logger.Errorw("msg", "failed to write audit log",
				"service", event.Service,
				"action_type", event.ActionType,
				"error", err)
		} else {
			a.logger.Debugw("msg", "audit log written",
				"service", event.Service,
				"action_type", event.ActionType)
		}
	}
}

// LogCircuitOpened logs a breaker trip
func (a *AuditLoggerImpl) LogCircuitOpened(_ context.Context, event *model.CircuitOpenedEvent) {
	a.enqueue(event.Service, model.AuditEventCircuitOpened, map[string]interface{}{
		"consecutive_failures": event.ConsecutiveFailures,
		"opened_at":            event.OpenedAt.Format(time.RFC3339),
		"retry_at":             event.RetryAt.Format(time.RFC3339),
		"last_error":           event.LastError,
	})
}

// LogCircuitClosed logs a breaker recovery
func (a *AuditLoggerImpl) LogCircuitClosed(_ context.Context, event *model.CircuitClosedEvent) {
	a.enqueue(event.Service, model.AuditEventCircuitClosed, map[string]interface{}{
		"opened_for_seconds": event.OpenedFor.Seconds(),
		"recovered_at":       event.RecoveredAt.Format(time.RFC3339),
	})
}

// LogHealthChanged logs a registry health transition
func (a *AuditLoggerImpl) LogHealthChanged(_ context.Context, service string, from, to model.HealthStatus, at time.Time) {
	a.enqueue(service, model.AuditEventHealthChanged, map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
		"at":   at.Format(time.RFC3339),
	})
}

func (a *AuditLoggerImpl) enqueue(service, actionType string, details map[string]interface{}) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit log details", "error", err)
		return
	}

	event := &AuditLog{
		Service:    service,
		ActionType: actionType,
		Details:    string(detailsJSON),
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	// non-blocking; breaker hooks run on the request path
	select {
	case a.logChan <- event:
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"service", service,
			"action_type", actionType)
	}
}
