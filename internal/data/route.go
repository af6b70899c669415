package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FreightLane/internal/model"
	pkgerrors "FreightLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxCapacityRetries = 3

// errVersionMoved means the row changed between lock and update. Retried like a deadlock.
var errVersionMoved = errors.New("route version changed during update")

// RouteRecord is the GORM model for the routes table
type RouteRecord struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	TruckID     string    `gorm:"column:truck_id;type:varchar(64);not null;index"`
	CarrierID   string    `gorm:"column:carrier_id;type:varchar(64);not null;index"`
	Origin      string    `gorm:"column:origin;type:varchar(255)"`
	Destination string    `gorm:"column:destination;type:varchar(255)"`
	DepartureAt time.Time `gorm:"column:departure_at"`
	TotalKg     float64   `gorm:"column:total_kg;not null"`
	AvailableKg float64   `gorm:"column:available_kg;not null"`
	TotalM3     *float64  `gorm:"column:total_m3"`
	AvailableM3 *float64  `gorm:"column:available_m3"`
	Status      string    `gorm:"column:status;type:varchar(20);not null;index"`
	Version     int64     `gorm:"column:version;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (RouteRecord) TableName() string {
	return "routes"
}

func (r *RouteRecord) capacity() model.CapacityState {
	return model.CapacityState{
		TotalKg:     r.TotalKg,
		AvailableKg: r.AvailableKg,
		TotalM3:     r.TotalM3,
		AvailableM3: r.AvailableM3,
		Status:      model.RouteStatus(r.Status),
	}
}

// ToModel converts the record to the domain route.
func (r *RouteRecord) ToModel() *model.Route {
	return &model.Route{
		ID:          r.ID,
		TruckID:     r.TruckID,
		CarrierID:   r.CarrierID,
		Origin:      r.Origin,
		Destination: r.Destination,
		DepartureAt: r.DepartureAt,
		Capacity:    r.capacity(),
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func routeRecordFromModel(route *model.Route) *RouteRecord {
	return &RouteRecord{
		ID:          route.ID,
		TruckID:     route.TruckID,
		CarrierID:   route.CarrierID,
		Origin:      route.Origin,
		Destination: route.Destination,
		DepartureAt: route.DepartureAt,
		TotalKg:     route.Capacity.TotalKg,
		AvailableKg: route.Capacity.AvailableKg,
		TotalM3:     route.Capacity.TotalM3,
		AvailableM3: route.Capacity.AvailableM3,
		Status:      string(route.Capacity.Status),
		Version:     route.Version,
		CreatedAt:   route.CreatedAt,
		UpdatedAt:   route.UpdatedAt,
	}
}

// RouteRepo implements biz.RouteRepo
type RouteRepo struct {
	db     *gorm.DB
	ledger *LedgerRepo
	cache  CacheClient
	logger *log.Helper
	now    func() time.Time
}

// NewRouteRepo creates a new route repository
func NewRouteRepo(data *Data, ledger *LedgerRepo, logger log.Logger) *RouteRepo {
	return &RouteRepo{
		db:     data.DB(),
		ledger: ledger,
		cache:  data.GetCache(),
		logger: log.NewHelper(log.With(logger, "module", "data/route")),
		now:    time.Now,
	}
}

// CreateRoute inserts a new route.
func (r *RouteRepo) CreateRoute(ctx context.Context, route *model.Route) error {
	rec := routeRecordFromModel(route)
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create route: %w", pkgerrors.ClassifyDBError(err))
	}
	route.CreatedAt, route.UpdatedAt = rec.CreatedAt, rec.UpdatedAt
	return nil
}

// GetRoute returns a route by id.
// Cache key: "route:{id}", TTL: 1 minute
func (r *RouteRepo) GetRoute(ctx context.Context, id string) (*model.Route, error) {
	cacheKey := BuildCacheKey(CacheKeyRoute, id)

	var cached model.Route
	if r.cache != nil {
		if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
			r.logger.Debugw("msg", "route cache hit", "route_id", id)
			return &cached, nil
		}
	}

	var rec RouteRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if pkgerrors.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", model.ErrRouteNotFound, id)
		}
		return nil, fmt.Errorf("failed to get route: %w", err)
	}

	route := rec.ToModel()
	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey, route, TTLRoute); err != nil {
			r.logger.Debugw("msg", "failed to cache route", "route_id", id, "error", err)
		}
	}
	return route, nil
}

// UpdateStatus moves a route from one status to another. It fails with
// model.ErrPersistenceConflict when the stored status is no longer from.
func (r *RouteRepo) UpdateStatus(ctx context.Context, id string, from, to model.RouteStatus) error {
	result := r.db.WithContext(ctx).
		Model(&RouteRecord{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]interface{}{
			"status":     string(to),
			"version":    gorm.Expr("version + 1"),
			"updated_at": r.now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update route status: %w", result.Error)
	}
	r.invalidate(ctx, id)

	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&RouteRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check route: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", model.ErrRouteNotFound, id)
		}
		return fmt.Errorf("%w: route %s is no longer %s", model.ErrPersistenceConflict, id, from)
	}
	return nil
}

// ApplyCapacityChange implements biz.RouteRepo. Deadlocks, lock timeouts and
// lost connections are retried with a short linear backoff.
func (r *RouteRepo) ApplyCapacityChange(ctx context.Context, routeID, eventID, eventType string, mutate func(model.CapacityState) (model.CapacityState, error)) (prev, next model.CapacityState, err error) {
	for i := 0; i < maxCapacityRetries; i++ {
		prev, next, err = r.applyOnce(ctx, routeID, eventID, eventType, mutate)
		if err == nil {
			r.ledger.Remember(ctx, eventType, eventID)
			r.invalidate(ctx, routeID)
			return prev, next, nil
		}
		if !errors.Is(err, errVersionMoved) && !pkgerrors.IsRetryableError(err) {
			return prev, next, err
		}

		backoff := time.Duration(i+1) * 10 * time.Millisecond
		r.logger.Debugw("msg", "capacity update conflict, retrying",
			"route_id", routeID,
			"event_id", eventID,
			"retry", i+1,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return prev, next, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return prev, next, fmt.Errorf("%w: route %s after %d attempts: %v", model.ErrPersistenceConflict, routeID, maxCapacityRetries, err)
}

func (r *RouteRepo) applyOnce(ctx context.Context, routeID, eventID, eventType string, mutate func(model.CapacityState) (model.CapacityState, error)) (prev, next model.CapacityState, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec RouteRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", routeID).First(&rec).Error; err != nil {
			if pkgerrors.IsNotFoundError(err) {
				return fmt.Errorf("%w: %s", model.ErrRouteNotFound, routeID)
			}
			return err
		}

		if err := r.ledger.MarkProcessedTx(tx, &ProcessedEvent{
			EventID:     eventID,
			EventType:   eventType,
			RouteID:     routeID,
			ProcessedAt: r.now().UTC(),
		}); err != nil {
			return err
		}

		prev = rec.capacity()
		n, err := mutate(prev)
		if err != nil {
			return err
		}
		next = n

		result := tx.Model(&RouteRecord{}).
			Where("id = ? AND version = ?", rec.ID, rec.Version).
			Updates(map[string]interface{}{
				"available_kg": next.AvailableKg,
				"available_m3": next.AvailableM3,
				"status":       string(next.Status),
				"version":      rec.Version + 1,
				"updated_at":   r.now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errVersionMoved
		}
		return nil
	})
	return prev, next, err
}

func (r *RouteRepo) invalidate(ctx context.Context, id string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, BuildCacheKey(CacheKeyRoute, id)); err != nil {
		r.logger.Debugw("msg", "failed to delete route cache", "route_id", id, "error", err)
	}
}
