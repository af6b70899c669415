package data

import (
	"context"
	"net/url"
	"testing"
	"time"

	"FreightLane/internal/conf"
	"FreightLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

// setupTestEtcd starts an embedded etcd and returns a connected client.
func setupTestEtcd(t *testing.T) *clientv3.Client {
	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()

	clientURL, _ := url.Parse("http://127.0.0.1:0")
	peerURL, _ := url.Parse("http://127.0.0.1:0")
	cfg.ListenClientUrls = []url.URL{*clientURL}
	cfg.ListenPeerUrls = []url.URL{*peerURL}
	cfg.LogLevel = "error"
	cfg.Logger = "zap"

	e, err := embed.StartEtcd(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Close)

	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(10 * time.Second):
		t.Fatal("embedded etcd took too long to start")
	}

	cli, cleanup, err := NewEtcdClient(&conf.Data{
		Etcd: &conf.Data_Etcd{Endpoints: []string{e.Clients[0].Addr().String()}},
	}, log.DefaultLogger)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	return cli
}

func TestConfigAddressSource(t *testing.T) {
	src := NewConfigAddressSource(&conf.Registry{
		Services: map[string]*conf.Registry_Service{
			"truck-service": {BaseAddress: "http://truck:8080"},
			"blank":         {},
			"nil":           nil,
		},
	})
	ctx := context.Background()

	assert.Equal(t, "config", src.Name())

	addr, err := src.Lookup(ctx, "truck-service")
	require.NoError(t, err)
	assert.Equal(t, "http://truck:8080", addr)

	for _, name := range []string{"blank", "nil", "unknown"} {
		_, err := src.Lookup(ctx, name)
		assert.ErrorIs(t, err, model.ErrServiceNotFound, name)
	}

	_, err = NewConfigAddressSource(nil).Lookup(ctx, "truck-service")
	assert.ErrorIs(t, err, model.ErrServiceNotFound)
}

func TestEtcdAddressSource_NilClient(t *testing.T) {
	src := NewEtcdAddressSource(nil, nil, log.DefaultLogger)
	ctx := context.Background()

	assert.Equal(t, "etcd", src.Name())

	_, err := src.Lookup(ctx, "truck-service")
	assert.ErrorIs(t, err, model.ErrServiceNotFound)

	assert.Error(t, src.Announce(ctx, "truck-service", ServiceInstance{Addr: "http://a"}, 10))
	assert.NoError(t, src.Withdraw(ctx, "truck-service", "http://a"))
}

func TestEtcdAddressSource_AnnounceLookupWithdraw(t *testing.T) {
	cli := setupTestEtcd(t)
	src := NewEtcdAddressSource(&conf.Data{Etcd: &conf.Data_Etcd{Prefix: "/test/services/"}}, cli, log.DefaultLogger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, src.Announce(ctx, "truck-service", ServiceInstance{Addr: "http://truck-a:8080", Weight: 1, Version: "1.2.0"}, 30))
	require.NoError(t, src.Announce(ctx, "truck-service", ServiceInstance{Addr: "http://truck-b:8080", Weight: 5, Version: "1.3.0"}, 30))

	instances, err := src.Discover(ctx, "truck-service")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	addr, err := src.Lookup(ctx, "truck-service")
	require.NoError(t, err)
	assert.Equal(t, "http://truck-b:8080", addr)

	require.NoError(t, src.Withdraw(ctx, "truck-service", "http://truck-b:8080"))

	addr, err = src.Lookup(ctx, "truck-service")
	require.NoError(t, err)
	assert.Equal(t, "http://truck-a:8080", addr)

	_, err = src.Lookup(ctx, "booking-service")
	assert.ErrorIs(t, err, model.ErrServiceNotFound)
}

func TestEtcdAddressSource_SkipsMalformedEntries(t *testing.T) {
	cli := setupTestEtcd(t)
	src := NewEtcdAddressSource(&conf.Data{}, cli, log.DefaultLogger)
	ctx := context.Background()

	_, err := cli.Put(ctx, defaultEtcdPrefix+"/truck-service/broken", "{not json")
	require.NoError(t, err)
	_, err = cli.Put(ctx, defaultEtcdPrefix+"/truck-service/empty", `{"weight":9}`)
	require.NoError(t, err)
	_, err = cli.Put(ctx, defaultEtcdPrefix+"/truck-service/ok", `{"addr":"http://truck-c:8080","weight":1}`)
	require.NoError(t, err)

	instances, err := src.Discover(ctx, "truck-service")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "http://truck-c:8080", instances[0].Addr)
}
