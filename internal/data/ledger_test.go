package data

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"FreightLane/internal/conf"
	"FreightLane/internal/metrics"
	"FreightLane/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const countProcessedSQL = "SELECT count(*) FROM `processed_events` WHERE event_id = ? AND event_type = ?"

func TestLedgerRepo_HasProcessed(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown event goes to the database", func(t *testing.T) {
		data, mock, _ := newTestData(t)
		repo := NewLedgerRepo(&conf.Ledger{}, data, nil, log.DefaultLogger)

		mock.ExpectQuery(regexp.QuoteMeta(countProcessedSQL)).
			WithArgs("B1", model.EventTypeBookingConfirmed).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		seen, err := repo.HasProcessed(ctx, model.EventTypeBookingConfirmed, "B1")
		require.NoError(t, err)
		assert.False(t, seen)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database hit is cached in lru and redis", func(t *testing.T) {
		data, mock, mr := newTestData(t)
		m := metrics.NewMetrics()
		repo := NewLedgerRepo(&conf.Ledger{}, data, m, log.DefaultLogger)

		mock.ExpectQuery(regexp.QuoteMeta(countProcessedSQL)).
			WithArgs("B2", model.EventTypeBookingConfirmed).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		seen, err := repo.HasProcessed(ctx, model.EventTypeBookingConfirmed, "B2")
		require.NoError(t, err)
		assert.True(t, seen)
		assert.True(t, mr.Exists("ledger:BookingConfirmed:B2"))

		// no further query expected: sqlmock would fail an unexpected one
		seen, err = repo.HasProcessed(ctx, model.EventTypeBookingConfirmed, "B2")
		require.NoError(t, err)
		assert.True(t, seen)
		assert.NoError(t, mock.ExpectationsWereMet())

		assert.Equal(t, float64(1), testutil.ToFloat64(m.LedgerCacheHits.WithLabelValues("db")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.LedgerCacheHits.WithLabelValues("lru")))
	})

	t.Run("redis hit skips the database", func(t *testing.T) {
		data, mock, mr := newTestData(t)
		repo := NewLedgerRepo(&conf.Ledger{}, data, nil, log.DefaultLogger)

		require.NoError(t, mr.Set("ledger:BookingCancelled:B3", "1"))

		seen, err := repo.HasProcessed(ctx, model.EventTypeBookingCancelled, "B3")
		require.NoError(t, err)
		assert.True(t, seen)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("confirm and cancel of one booking are separate entries", func(t *testing.T) {
		data, mock, _ := newTestData(t)
		repo := NewLedgerRepo(&conf.Ledger{}, data, nil, log.DefaultLogger)

		repo.Remember(ctx, model.EventTypeBookingConfirmed, "B4")

		mock.ExpectQuery(regexp.QuoteMeta(countProcessedSQL)).
			WithArgs("B4", model.EventTypeBookingCancelled).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		seen, err := repo.HasProcessed(ctx, model.EventTypeBookingCancelled, "B4")
		require.NoError(t, err)
		assert.False(t, seen)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis outage falls through to the database", func(t *testing.T) {
		data, mock, mr := newTestData(t)
		repo := NewLedgerRepo(&conf.Ledger{}, data, nil, log.DefaultLogger)
		mr.Close()

		mock.ExpectQuery(regexp.QuoteMeta(countProcessedSQL)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		seen, err := repo.HasProcessed(ctx, model.EventTypeBookingConfirmed, "B5")
		require.NoError(t, err)
		assert.False(t, seen)
	})

	t.Run("database error is returned", func(t *testing.T) {
		data, mock, _ := newTestData(t)
		repo := NewLedgerRepo(&conf.Ledger{}, data, nil, log.DefaultLogger)

		mock.ExpectQuery(regexp.QuoteMeta(countProcessedSQL)).
			WillReturnError(errors.New("connection refused"))

		_, err := repo.HasProcessed(ctx, model.EventTypeBookingConfirmed, "B6")
		assert.Error(t, err)
	})
}

func TestLedgerRepo_MarkProcessedTx(t *testing.T) {
	t.Run("insert", func(t *testing.T) {
		data, mock, _ := newTestData(t)
		repo := NewLedgerRepo(&conf.Ledger{}, data, nil, log.DefaultLogger)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `processed_events`")).
			WithArgs("B1", model.EventTypeBookingConfirmed, "r-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := data.DB().Transaction(func(tx *gorm.DB) error {
			return repo.MarkProcessedTx(tx, &ProcessedEvent{
				EventID:   "B1",
				EventType: model.EventTypeBookingConfirmed,
				RouteID:   "r-1",
			})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation means duplicate", func(t *testing.T) {
		data, mock, _ := newTestData(t)
		repo := NewLedgerRepo(&conf.Ledger{}, data, nil, log.DefaultLogger)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `processed_events`")).
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'B1-BookingConfirmed' for key 'PRIMARY'"})
		mock.ExpectRollback()

		err := data.DB().Transaction(func(tx *gorm.DB) error {
			return repo.MarkProcessedTx(tx, &ProcessedEvent{
				EventID:   "B1",
				EventType: model.EventTypeBookingConfirmed,
				RouteID:   "r-1",
			})
		})
		assert.ErrorIs(t, err, model.ErrDuplicateEvent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerRepo_Prune(t *testing.T) {
	data, mock, _ := newTestData(t)
	repo := NewLedgerRepo(&conf.Ledger{}, data, nil, log.DefaultLogger)

	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `processed_events` WHERE processed_at < ?")).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectCommit()

	deleted, err := repo.Prune(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
