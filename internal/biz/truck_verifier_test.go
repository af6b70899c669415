package biz

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"FreightLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fleetServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/trucks/T1":
			_, _ = io.WriteString(w, `{"id":"T1","ownerId":"C1"}`)
		case "/trucks/T-forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "/trucks/T-down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestVerifier(t *testing.T, failOpen bool, baseAddress string) *TruckVerifier {
	t.Helper()
	rc := &conf.Resilience{MaxAttempts: 1, BackoffBase: time.Millisecond, FailOpen: failOpen}
	f := newClientFixture(t, rc)
	if baseAddress != "" {
		require.NoError(t, f.registry.Register(TruckServiceName, baseAddress, ""))
	}
	return NewTruckVerifier(rc, f.client, log.NewStdLogger(os.Stdout))
}

func TestTruckVerifier_Ownership(t *testing.T) {
	srv := fleetServer(t)
	v := newTestVerifier(t, false, srv.URL)
	ctx := context.Background()

	owned, err := v.VerifyOwnership(ctx, "T1", "C1")
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = v.VerifyOwnership(ctx, "T1", "C2")
	require.NoError(t, err)
	assert.False(t, owned)

	owned, err = v.VerifyOwnership(ctx, "T-unknown", "C1")
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestTruckVerifier_OtherRejectionIsError(t *testing.T) {
	srv := fleetServer(t)
	v := newTestVerifier(t, true, srv.URL)

	owned, err := v.VerifyOwnership(context.Background(), "T-forbidden", "C1")
	assert.False(t, owned)
	require.Error(t, err)
	assert.True(t, IsBusiness(err))
}

func TestTruckVerifier_Unreachable(t *testing.T) {
	srv := fleetServer(t)

	t.Run("fail open", func(t *testing.T) {
		v := newTestVerifier(t, true, srv.URL)
		owned, err := v.VerifyOwnership(context.Background(), "T-down", "C1")
		require.NoError(t, err)
		assert.True(t, owned)
	})

	t.Run("fail closed", func(t *testing.T) {
		v := newTestVerifier(t, false, srv.URL)
		owned, err := v.VerifyOwnership(context.Background(), "T-down", "C1")
		assert.False(t, owned)
		assert.True(t, IsTransient(err))
	})
}

func TestTruckVerifier_ServiceNotRegistered(t *testing.T) {
	t.Run("fail open", func(t *testing.T) {
		v := newTestVerifier(t, true, "")
		owned, err := v.VerifyOwnership(context.Background(), "T1", "C1")
		require.NoError(t, err)
		assert.True(t, owned)
	})

	t.Run("fail closed", func(t *testing.T) {
		v := newTestVerifier(t, false, "")
		_, err := v.VerifyOwnership(context.Background(), "T1", "C1")
		assert.True(t, IsServiceNotFound(err))
	})
}

func TestNewTruckVerifier_DefaultsToFailOpen(t *testing.T) {
	v := NewTruckVerifier(nil, nil, log.NewStdLogger(os.Stdout))
	assert.True(t, v.failOpen)
}
