package biz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"FreightLane/internal/conf"
	"FreightLane/internal/metrics"
	"FreightLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// AddressSource resolves a base address for a service that was never
// registered at runtime. Lookup returns model.ErrServiceNotFound when the
// source does not know the service.
type AddressSource interface {
	Name() string
	Lookup(ctx context.Context, service string) (string, error)
}

// HealthListener is called after a service health status changed.
type HealthListener func(service string, status model.HealthStatus)

// ServiceRegistry is the in-memory directory of downstream services.
// It is safe for concurrent use.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]*model.ServiceDescriptor

	sources      []AddressSource
	healthPath   string
	probeTimeout time.Duration
	httpClient   *http.Client

	listenersMu sync.RWMutex
	listeners   []HealthListener

	audit   AuditLogger
	metrics *metrics.Metrics
	now     func() time.Time
	log     *log.Helper
}

// NewServiceRegistry creates a registry that falls back to sources, in order,
// for services never registered at runtime.
func NewServiceRegistry(c *conf.Registry, sources []AddressSource, audit AuditLogger, m *metrics.Metrics, logger log.Logger) *ServiceRegistry {
	healthPath := "/health"
	probeTimeout := 2 * time.Second
	if c != nil {
		if c.HealthPath != "" {
			healthPath = c.HealthPath
		}
		if c.ProbeTimeout > 0 {
			probeTimeout = c.ProbeTimeout
		}
	}
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}

	return &ServiceRegistry{
		services:     make(map[string]*model.ServiceDescriptor),
		sources:      sources,
		healthPath:   healthPath,
		probeTimeout: probeTimeout,
		httpClient:   &http.Client{},
		audit:        audit,
		metrics:      m,
		now:          time.Now,
		log:          log.NewHelper(log.With(logger, "module", "biz/registry")),
	}
}

// Register upserts a service. Address and status are overwritten and both
// timestamps reset. An empty status means Healthy.
func (r *ServiceRegistry) Register(name, baseAddress string, status model.HealthStatus) error {
	name = strings.TrimSpace(name)
	baseAddress = strings.TrimSpace(baseAddress)
	if name == "" {
		return errors.New("service name is required")
	}
	if baseAddress == "" {
		return fmt.Errorf("base address is required for service %s", name)
	}
	if status == "" {
		status = model.HealthHealthy
	}
	if !status.Valid() {
		return fmt.Errorf("invalid health status %q", status)
	}

	r.mu.Lock()
	prev := model.HealthUnknown
	if existing, ok := r.services[name]; ok {
		prev = existing.Health
	}
	r.services[name] = &model.ServiceDescriptor{
		Name:         name,
		BaseAddress:  baseAddress,
		Health:       status,
		RegisteredAt: r.now(),
	}
	r.mu.Unlock()

	r.log.Infow("msg", "service registered", "service", name, "base_address", baseAddress, "health", status)
	if prev != status {
		r.healthChanged(name, prev, status)
	}
	return nil
}

// GetBaseAddress returns the runtime-registered address, or the first address
// found in the configured sources. A source hit creates a descriptor with
// Unknown health.
func (r *ServiceRegistry) GetBaseAddress(ctx context.Context, name string) (string, error) {
	r.mu.RLock()
	desc, ok := r.services[name]
	r.mu.RUnlock()
	if ok {
		return desc.BaseAddress, nil
	}

	for _, src := range r.sources {
		addr, err := src.Lookup(ctx, name)
		if err != nil {
			if !errors.Is(err, model.ErrServiceNotFound) {
				r.log.Warnw("msg", "address source lookup failed", "source", src.Name(), "service", name, "error", err)
			}
			continue
		}
		if addr == "" {
			continue
		}
		return r.adopt(name, addr, src.Name()), nil
	}

	return "", fmt.Errorf("%w: %s", model.ErrServiceNotFound, name)
}

// adopt stores a source-resolved address unless a concurrent Register won.
func (r *ServiceRegistry) adopt(name, addr, source string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.services[name]; ok {
		return existing.BaseAddress
	}
	r.services[name] = &model.ServiceDescriptor{
		Name:         name,
		BaseAddress:  addr,
		Health:       model.HealthUnknown,
		RegisteredAt: r.now(),
	}
	r.log.Debugw("msg", "service address resolved from source", "service", name, "source", source, "base_address", addr)
	return addr
}

// IsAvailable probes GET {base}{healthPath} with a bounded timeout. A 2xx
// answer marks the service Healthy, anything else Unhealthy. It never returns
// an error; an unknown service is simply unavailable.
func (r *ServiceRegistry) IsAvailable(ctx context.Context, name string) bool {
	base, err := r.GetBaseAddress(ctx, name)
	if err != nil {
		r.log.Debugw("msg", "availability check for unknown service", "service", name, "error", err)
		return false
	}

	healthy := r.probe(ctx, name, base)
	status := model.HealthUnhealthy
	if healthy {
		status = model.HealthHealthy
	}
	r.metrics.ObserveProbe(name, healthy)
	r.setHealth(name, status)
	return healthy
}

func (r *ServiceRegistry) probe(ctx context.Context, name, base string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, strings.TrimRight(base, "/")+r.healthPath, nil)
	if err != nil {
		r.log.Warnw("msg", "invalid health probe request", "service", name, "base_address", base, "error", err)
		return false
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.Debugw("msg", "health probe failed", "service", name, "error", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// UpdateHealth overrides the health of a known service.
func (r *ServiceRegistry) UpdateHealth(name string, status model.HealthStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid health status %q", status)
	}
	if !r.setHealth(name, status) {
		return fmt.Errorf("%w: %s", model.ErrServiceNotFound, name)
	}
	return nil
}

func (r *ServiceRegistry) setHealth(name string, status model.HealthStatus) bool {
	now := r.now()

	r.mu.Lock()
	desc, ok := r.services[name]
	if !ok {
		r.mu.Unlock()
		return false
	}
	prev := desc.Health
	updated := *desc
	updated.Health = status
	updated.LastHealthCheck = &now
	r.services[name] = &updated
	r.mu.Unlock()

	if prev != status {
		r.healthChanged(name, prev, status)
	}
	return true
}

func (r *ServiceRegistry) healthChanged(name string, from, to model.HealthStatus) {
	r.log.Infow("msg", "service health changed", "service", name, "from", from, "to", to)
	if r.audit != nil {
		r.audit.LogHealthChanged(context.Background(), name, from, to, r.now())
	}

	r.listenersMu.RLock()
	listeners := append([]HealthListener(nil), r.listeners...)
	r.listenersMu.RUnlock()

	for _, l := range listeners {
		l(name, to)
	}
}

// OnHealthChange registers l for every future health transition.
func (r *ServiceRegistry) OnHealthChange(l HealthListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Get returns a copy of one descriptor.
func (r *ServiceRegistry) Get(name string) (model.ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.services[name]
	if !ok {
		return model.ServiceDescriptor{}, false
	}
	return *desc, true
}

// ListAll returns copies of every descriptor ordered by name.
func (r *ServiceRegistry) ListAll() []model.ServiceDescriptor {
	r.mu.RLock()
	out := make([]model.ServiceDescriptor, 0, len(r.services))
	for _, desc := range r.services {
		out = append(out, *desc)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the names of every known service.
func (r *ServiceRegistry) Names() []string {
	descs := r.ListAll()
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names
}
