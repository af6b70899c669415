package data

import (
	"fmt"
	"time"

	"FreightLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// NewEtcdClient connects to etcd when endpoints are configured. It returns a
// nil client otherwise, and the etcd address source stays silent.
func NewEtcdClient(c *conf.Data, logger log.Logger) (*clientv3.Client, func(), error) {
	helper := log.NewHelper(logger)

	if c == nil || c.Etcd == nil || len(c.Etcd.Endpoints) == 0 {
		return nil, func() {}, nil
	}

	dialTimeout := c.Etcd.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   c.Etcd.Endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	helper.Infof("etcd client created for %v", c.Etcd.Endpoints)

	cleanup := func() {
		helper.Info("closing etcd client")
		if err := cli.Close(); err != nil {
			helper.Errorf("failed to close etcd client: %v", err)
		}
	}
	return cli, cleanup, nil
}
