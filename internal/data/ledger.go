package data

import (
	"context"
	"fmt"
	"time"

	"FreightLane/internal/conf"
	"FreightLane/internal/metrics"
	"FreightLane/internal/model"
	pkgerrors "FreightLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"
)

const defaultLedgerCacheSize = 10000

// ProcessedEvent is the GORM model for the processed_events table.
// The composite primary key is the idempotency constraint.
type ProcessedEvent struct {
	EventID     string    `gorm:"primaryKey;column:event_id;type:varchar(64)"`
	EventType   string    `gorm:"primaryKey;column:event_type;type:varchar(32)"`
	RouteID     string    `gorm:"column:route_id;type:varchar(36);not null;index"`
	ProcessedAt time.Time `gorm:"column:processed_at;not null;index"`
}

// TableName specifies the table name for GORM
func (ProcessedEvent) TableName() string {
	return "processed_events"
}

// LedgerRepo is the processed-event ledger.
//
// Lookups go LRU -> Redis -> MySQL. Markers are only cached once the ledger
// row is committed, so a cache hit always means the row exists.
type LedgerRepo struct {
	db      *gorm.DB
	cache   CacheClient
	lru     *expirable.LRU[string, struct{}]
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *log.Helper
}

// NewLedgerRepo creates the ledger repository.
func NewLedgerRepo(c *conf.Ledger, data *Data, m *metrics.Metrics, logger log.Logger) *LedgerRepo {
	size, ttl := defaultLedgerCacheSize, TTLLedger
	if c != nil {
		if c.CacheSize > 0 {
			size = c.CacheSize
		}
		if c.CacheTTL > 0 {
			ttl = c.CacheTTL
		}
	}

	return &LedgerRepo{
		db:      data.DB(),
		cache:   data.GetCache(),
		lru:     expirable.NewLRU[string, struct{}](size, nil, ttl),
		ttl:     ttl,
		metrics: m,
		logger:  log.NewHelper(log.With(logger, "module", "data/ledger")),
	}
}

func ledgerKey(eventType, eventID string) string {
	return BuildCacheKey(CacheKeyLedger, eventType, eventID)
}

// HasProcessed reports whether (eventType, eventID) is in the ledger.
func (r *LedgerRepo) HasProcessed(ctx context.Context, eventType, eventID string) (bool, error) {
	key := ledgerKey(eventType, eventID)

	if _, ok := r.lru.Get(key); ok {
		r.metrics.ObserveLedgerHit("lru")
		return true, nil
	}

	if r.cache != nil {
		exists, err := r.cache.Exists(ctx, key)
		if err != nil {
			r.logger.Debugw("msg", "ledger cache lookup failed", "key", key, "error", err)
		} else if exists {
			r.metrics.ObserveLedgerHit("redis")
			r.lru.Add(key, struct{}{})
			return true, nil
		}
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&ProcessedEvent{}).
		Where("event_id = ? AND event_type = ?", eventID, eventType).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	if count == 0 {
		return false, nil
	}

	r.metrics.ObserveLedgerHit("db")
	r.Remember(ctx, eventType, eventID)
	return true, nil
}

// MarkProcessedTx inserts the ledger row inside tx. A unique key violation
// means another delivery won and is reported as model.ErrDuplicateEvent.
func (r *LedgerRepo) MarkProcessedTx(tx *gorm.DB, rec *ProcessedEvent) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now().UTC()
	}
	if err := tx.Create(rec).Error; err != nil {
		if pkgerrors.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s %s", model.ErrDuplicateEvent, rec.EventType, rec.EventID)
		}
		return err
	}
	return nil
}

// Remember caches a committed ledger entry.
func (r *LedgerRepo) Remember(ctx context.Context, eventType, eventID string) {
	key := ledgerKey(eventType, eventID)
	r.lru.Add(key, struct{}{})

	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, key, 1, r.ttl); err != nil {
		r.logger.Debugw("msg", "failed to cache ledger entry", "key", key, "error", err)
	}
}

// Prune deletes ledger rows processed before the cutoff. Cached markers
// expire on their own.
func (r *LedgerRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at < ?", before).
		Delete(&ProcessedEvent{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
