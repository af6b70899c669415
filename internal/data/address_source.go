package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"FreightLane/internal/conf"
	"FreightLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const defaultEtcdPrefix = "/freightlane/services"

// ConfigAddressSource resolves base addresses from registry.services in the config file.
type ConfigAddressSource struct {
	addresses map[string]string
}

// NewConfigAddressSource creates a source backed by static configuration.
func NewConfigAddressSource(c *conf.Registry) *ConfigAddressSource {
	addresses := make(map[string]string)
	if c != nil {
		for name, svc := range c.Services {
			if svc != nil && svc.BaseAddress != "" {
				addresses[name] = svc.BaseAddress
			}
		}
	}
	return &ConfigAddressSource{addresses: addresses}
}

func (s *ConfigAddressSource) Name() string { return "config" }

// Lookup returns the configured address of service.
func (s *ConfigAddressSource) Lookup(_ context.Context, service string) (string, error) {
	addr, ok := s.addresses[service]
	if !ok {
		return "", model.ErrServiceNotFound
	}
	return addr, nil
}

// ServiceInstance is the etcd value stored under {prefix}/{service}/{addr}.
type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"`
	Version string `json:"version"`
}

// EtcdAddressSource resolves base addresses announced in etcd.
//
//	Key:   {prefix}/{service}/{addr}
//	Value: JSON-encoded ServiceInstance
//
// Instances are announced with a TTL lease, so crashed instances disappear.
type EtcdAddressSource struct {
	client *clientv3.Client
	prefix string
	logger *log.Helper
}

// NewEtcdAddressSource creates an etcd-backed source. A nil client yields a
// source that never finds anything.
func NewEtcdAddressSource(c *conf.Data, client *clientv3.Client, logger log.Logger) *EtcdAddressSource {
	prefix := defaultEtcdPrefix
	if c != nil && c.Etcd != nil && c.Etcd.Prefix != "" {
		prefix = c.Etcd.Prefix
	}
	return &EtcdAddressSource{
		client: client,
		prefix: strings.TrimRight(prefix, "/"),
		logger: log.NewHelper(log.With(logger, "module", "data/etcd")),
	}
}

func (s *EtcdAddressSource) Name() string { return "etcd" }

func (s *EtcdAddressSource) servicePrefix(service string) string {
	return s.prefix + "/" + service + "/"
}

// Lookup returns the address of the heaviest announced instance of service.
func (s *EtcdAddressSource) Lookup(ctx context.Context, service string) (string, error) {
	instances, err := s.Discover(ctx, service)
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", model.ErrServiceNotFound
	}

	best := instances[0]
	for _, inst := range instances[1:] {
		if inst.Weight > best.Weight {
			best = inst
		}
	}
	return best.Addr, nil
}

// Discover returns every announced instance of service.
func (s *EtcdAddressSource) Discover(ctx context.Context, service string) ([]ServiceInstance, error) {
	if s.client == nil {
		return nil, nil
	}

	resp, err := s.client.Get(ctx, s.servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd lookup %s: %w", service, err)
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst ServiceInstance
		if err := json.Unmarshal(kv.Value, &inst); err != nil || inst.Addr == "" {
			s.logger.Warnw("msg", "skipping malformed service instance", "key", string(kv.Key))
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Announce stores inst under a lease of ttlSeconds and keeps the lease alive
// until ctx is done.
func (s *EtcdAddressSource) Announce(ctx context.Context, service string, inst ServiceInstance, ttlSeconds int64) error {
	if s.client == nil {
		return fmt.Errorf("etcd is not configured")
	}

	lease, err := s.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return fmt.Errorf("etcd grant lease: %w", err)
	}

	val, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	if _, err := s.client.Put(ctx, s.servicePrefix(service)+inst.Addr, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("etcd put instance: %w", err)
	}

	ch, err := s.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("etcd keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Withdraw removes an announced instance.
func (s *EtcdAddressSource) Withdraw(ctx context.Context, service, addr string) error {
	if s.client == nil {
		return nil
	}
	_, err := s.client.Delete(ctx, s.servicePrefix(service)+addr)
	return err
}
