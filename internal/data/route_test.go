package data

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"FreightLane/internal/conf"
	"FreightLane/internal/model"
	pkgerrors "FreightLane/pkg/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lockRouteSQL   = "SELECT * FROM `routes` WHERE id = ?"
	insertLedger   = "INSERT INTO `processed_events`"
	updateRouteSQL = "UPDATE `routes` SET"
)

var routeColumns = []string{
	"id", "truck_id", "carrier_id", "origin", "destination", "departure_at",
	"total_kg", "available_kg", "total_m3", "available_m3", "status", "version",
	"created_at", "updated_at",
}

func routeRow(id string, totalKg, availableKg float64, status model.RouteStatus, version int64) *sqlmock.Rows {
	now := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(routeColumns).
		AddRow(id, "truck-1", "carrier-1", "Lyon", "Milan", now, totalKg, availableKg, nil, nil, string(status), version, now, now)
}

func setupRouteRepo(t *testing.T) (*RouteRepo, sqlmock.Sqlmock, *LedgerRepo) {
	data, mock, _ := newTestData(t)
	ledger := NewLedgerRepo(&conf.Ledger{}, data, nil, log.DefaultLogger)
	return NewRouteRepo(data, ledger, log.DefaultLogger), mock, ledger
}

func subtract(kg float64) func(model.CapacityState) (model.CapacityState, error) {
	return func(cur model.CapacityState) (model.CapacityState, error) {
		next := cur
		next.AvailableKg -= kg
		next.Status = model.RouteStatusBookedPartial
		return next, nil
	}
}

func TestRouteRepo_ApplyCapacityChange(t *testing.T) {
	ctx := context.Background()

	t.Run("locks, records ledger and updates in one transaction", func(t *testing.T) {
		repo, mock, ledger := setupRouteRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockRouteSQL)+".*FOR UPDATE").
			WithArgs("r-1", 1).
			WillReturnRows(routeRow("r-1", 1000, 1000, model.RouteStatusPlanned, 4))
		mock.ExpectExec(regexp.QuoteMeta(insertLedger)).
			WithArgs("B1", model.EventTypeBookingConfirmed, "r-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(updateRouteSQL)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		prev, next, err := repo.ApplyCapacityChange(ctx, "r-1", "B1", model.EventTypeBookingConfirmed, subtract(400))
		require.NoError(t, err)
		assert.Equal(t, 1000.0, prev.AvailableKg)
		assert.Equal(t, model.RouteStatusPlanned, prev.Status)
		assert.Equal(t, 600.0, next.AvailableKg)
		assert.Equal(t, model.RouteStatusBookedPartial, next.Status)
		assert.NoError(t, mock.ExpectationsWereMet())

		// committed entries are answered from the cache
		seen, err := ledger.HasProcessed(ctx, model.EventTypeBookingConfirmed, "B1")
		require.NoError(t, err)
		assert.True(t, seen)
	})

	t.Run("duplicate ledger row rolls back without retry", func(t *testing.T) {
		repo, mock, _ := setupRouteRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockRouteSQL)).
			WillReturnRows(routeRow("r-1", 1000, 600, model.RouteStatusBookedPartial, 5))
		mock.ExpectExec(regexp.QuoteMeta(insertLedger)).
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
		mock.ExpectRollback()

		_, _, err := repo.ApplyCapacityChange(ctx, "r-1", "B1", model.EventTypeBookingConfirmed, subtract(400))
		assert.ErrorIs(t, err, model.ErrDuplicateEvent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("oversized event id rolls back without retry", func(t *testing.T) {
		repo, mock, _ := setupRouteRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockRouteSQL)).
			WillReturnRows(routeRow("r-1", 1000, 1000, model.RouteStatusPlanned, 1))
		mock.ExpectExec(regexp.QuoteMeta(insertLedger)).
			WillReturnError(&mysql.MySQLError{Number: 1406, Message: "Data too long for column 'event_id'"})
		mock.ExpectRollback()

		_, _, err := repo.ApplyCapacityChange(ctx, "r-1", strings.Repeat("b", 80), model.EventTypeBookingConfirmed, subtract(400))
		require.Error(t, err)
		assert.True(t, pkgerrors.IsPermanentDataError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown route", func(t *testing.T) {
		repo, mock, _ := setupRouteRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockRouteSQL)).
			WillReturnRows(sqlmock.NewRows(routeColumns))
		mock.ExpectRollback()

		_, _, err := repo.ApplyCapacityChange(ctx, "missing", "B1", model.EventTypeBookingConfirmed, subtract(1))
		assert.ErrorIs(t, err, model.ErrRouteNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deadlock is retried", func(t *testing.T) {
		repo, mock, _ := setupRouteRepo(t)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockRouteSQL)).
			WillReturnRows(routeRow("r-1", 1000, 1000, model.RouteStatusPlanned, 1))
		mock.ExpectExec(regexp.QuoteMeta(insertLedger)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(updateRouteSQL)).
			WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
		mock.ExpectRollback()

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(lockRouteSQL)).
			WillReturnRows(routeRow("r-1", 1000, 1000, model.RouteStatusPlanned, 1))
		mock.ExpectExec(regexp.QuoteMeta(insertLedger)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(updateRouteSQL)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, next, err := repo.ApplyCapacityChange(ctx, "r-1", "B7", model.EventTypeBookingConfirmed, subtract(100))
		require.NoError(t, err)
		assert.Equal(t, 900.0, next.AvailableKg)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("persistent version conflict escalates", func(t *testing.T) {
		repo, mock, _ := setupRouteRepo(t)

		for i := 0; i < maxCapacityRetries; i++ {
			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta(lockRouteSQL)).
				WillReturnRows(routeRow("r-1", 1000, 1000, model.RouteStatusPlanned, int64(i)))
			mock.ExpectExec(regexp.QuoteMeta(insertLedger)).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(regexp.QuoteMeta(updateRouteSQL)).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectRollback()
		}

		_, _, err := repo.ApplyCapacityChange(ctx, "r-1", "B8", model.EventTypeBookingConfirmed, subtract(100))
		assert.ErrorIs(t, err, model.ErrPersistenceConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRouteRepo_GetRoute(t *testing.T) {
	repo, mock, _ := setupRouteRepo(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(lockRouteSQL)).
		WithArgs("r-1", 1).
		WillReturnRows(routeRow("r-1", 1000, 250, model.RouteStatusBookedPartial, 9))

	route, err := repo.GetRoute(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "truck-1", route.TruckID)
	assert.Equal(t, 250.0, route.Capacity.AvailableKg)
	assert.Equal(t, int64(9), route.Version)
	assert.False(t, route.Capacity.TracksVolume())

	// second read served from cache
	cached, err := repo.GetRoute(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, route.Capacity, cached.Capacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRouteRepo_GetRoute_NotFound(t *testing.T) {
	repo, mock, _ := setupRouteRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta(lockRouteSQL)).
		WillReturnRows(sqlmock.NewRows(routeColumns))

	_, err := repo.GetRoute(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrRouteNotFound)
}

func TestRouteRepo_CreateRoute(t *testing.T) {
	repo, mock, _ := setupRouteRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `routes`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	route := &model.Route{
		ID:        "r-2",
		TruckID:   "truck-1",
		CarrierID: "carrier-1",
		Capacity: model.CapacityState{
			TotalKg:     1000,
			AvailableKg: 1000,
			TotalM3:     model.Float64(40),
			AvailableM3: model.Float64(40),
			Status:      model.RouteStatusPlanned,
		},
	}
	require.NoError(t, repo.CreateRoute(context.Background(), route))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRouteRepo_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	updateStatusSQL := "UPDATE `routes` SET `status`=?,`updated_at`=?,`version`=version + 1 WHERE id = ? AND status = ?"

	t.Run("applied", func(t *testing.T) {
		repo, mock, _ := setupRouteRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(updateStatusSQL)).
			WithArgs("InProgress", sqlmock.AnyArg(), "r-1", "BookedPartial").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.UpdateStatus(ctx, "r-1", model.RouteStatusBookedPartial, model.RouteStatusInProgress)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status moved underneath", func(t *testing.T) {
		repo, mock, _ := setupRouteRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(updateStatusSQL)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `routes` WHERE id = ?")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		err := repo.UpdateStatus(ctx, "r-1", model.RouteStatusPlanned, model.RouteStatusInProgress)
		assert.ErrorIs(t, err, model.ErrPersistenceConflict)
	})

	t.Run("unknown route", func(t *testing.T) {
		repo, mock, _ := setupRouteRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(updateStatusSQL)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `routes` WHERE id = ?")).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		err := repo.UpdateStatus(ctx, "missing", model.RouteStatusPlanned, model.RouteStatusInProgress)
		assert.ErrorIs(t, err, model.ErrRouteNotFound)
	})
}
