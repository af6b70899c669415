package biz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"FreightLane/internal/conf"
	"FreightLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHealthProbeTask_ProbeAll(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	registry := newTestRegistry(nil)
	for i := 0; i < 12; i++ {
		require.NoError(t, registry.Register(fmt.Sprintf("up-%02d", i), up.URL, model.HealthUnknown))
	}
	require.NoError(t, registry.Register("down", down.URL, model.HealthUnknown))

	task := NewHealthProbeTask(registry, log.NewStdLogger(os.Stdout))
	require.NoError(t, task.ProbeAll(context.Background()))

	for _, desc := range registry.ListAll() {
		want := model.HealthHealthy
		if desc.Name == "down" {
			want = model.HealthUnhealthy
		}
		assert.Equal(t, want, desc.Health, desc.Name)
		assert.NotNil(t, desc.LastHealthCheck, desc.Name)
	}
}

func TestHealthProbeTask_NoServices(t *testing.T) {
	task := NewHealthProbeTask(newTestRegistry(nil), log.NewStdLogger(os.Stdout))
	assert.NoError(t, task.ProbeAll(context.Background()))
}

func TestLedgerPruneTask_Prune(t *testing.T) {
	now := time.Date(2026, 10, 15, 3, 0, 0, 0, time.UTC)

	t.Run("uses configured retention", func(t *testing.T) {
		ledger := new(MockLedgerRepo)
		ledger.On("Prune", mock.Anything, now.Add(-7*24*time.Hour)).Return(int64(42), nil).Once()

		task := NewLedgerPruneTask(&conf.Ledger{Retention: 7 * 24 * time.Hour}, ledger, log.NewStdLogger(os.Stdout))
		task.now = func() time.Time { return now }

		require.NoError(t, task.Prune(context.Background()))
		ledger.AssertExpectations(t)
	})

	t.Run("defaults to thirty days", func(t *testing.T) {
		ledger := new(MockLedgerRepo)
		ledger.On("Prune", mock.Anything, now.Add(-30*24*time.Hour)).Return(int64(0), nil).Once()

		task := NewLedgerPruneTask(nil, ledger, log.NewStdLogger(os.Stdout))
		task.now = func() time.Time { return now }

		require.NoError(t, task.Prune(context.Background()))
		ledger.AssertExpectations(t)
	})

	t.Run("propagates errors", func(t *testing.T) {
		ledger := new(MockLedgerRepo)
		ledger.On("Prune", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down"))

		task := NewLedgerPruneTask(nil, ledger, log.NewStdLogger(os.Stdout))
		err := task.Prune(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
	})
}
