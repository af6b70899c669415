package biz

import (
	"context"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
)

const probeConcurrency = 8

// HealthProbeTask 定时探测所有已知服务的健康状态
type HealthProbeTask struct {
	registry *ServiceRegistry
	logger   *log.Helper
}

// NewHealthProbeTask 创建健康探测任务
func NewHealthProbeTask(registry *ServiceRegistry, logger log.Logger) *HealthProbeTask {
	return &HealthProbeTask{
		registry: registry,
		logger:   log.NewHelper(log.With(logger, "module", "biz/health_probe")),
	}
}

// ProbeAll probes every known service, at most probeConcurrency at a time.
// Probe results update the registry; the task itself never fails.
func (t *HealthProbeTask) ProbeAll(ctx context.Context) error {
	names := t.registry.Names()
	if len(names) == 0 {
		t.logger.Debug("No services registered, skipping health probe")
		return nil
	}

	var (
		mu        sync.Mutex
		healthy   int
		unhealthy []string
		wg        sync.WaitGroup
		sem       = make(chan struct{}, probeConcurrency)
	)

	for _, name := range names {
		wg.Add(1)
		sem <- struct{}{}
		go func(name string) {
			defer wg.Done()
			defer func() { <-sem }()

			ok := t.registry.IsAvailable(ctx, name)

			mu.Lock()
			defer mu.Unlock()
			if ok {
				healthy++
			} else {
				unhealthy = append(unhealthy, name)
			}
		}(name)
	}
	wg.Wait()

	if len(unhealthy) > 0 {
		t.logger.Warnw("msg", "health probe completed with unhealthy services",
			"total", len(names),
			"healthy", healthy,
			"unhealthy", unhealthy)
		return nil
	}

	t.logger.Infow("msg", "health probe completed", "total", len(names), "healthy", healthy)
	return nil
}
