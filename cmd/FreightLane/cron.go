package main

import (
	"context"
	"fmt"
	"time"

	"FreightLane/internal/biz"
	"FreightLane/internal/conf"
	pkglog "FreightLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/robfig/cron/v3"
)

const (
	defaultProbeSchedule = "*/30 * * * * *"
	defaultPruneSchedule = "0 0 3 * * *"
)

var _ transport.Server = (*CronServer)(nil)

// CronServer 运行定时任务，生命周期由 kratos.App 管理
// 健康探测：默认每 30 秒一次
// 账本清理：默认每天 3:00 删除过期的已处理事件
type CronServer struct {
	cron   *cron.Cron
	logger *pkglog.LogHelper
}

// NewCronServer registers the health probe and ledger prune jobs.
func NewCronServer(rc *conf.Registry, lc *conf.Ledger, probe *biz.HealthProbeTask, prune *biz.LedgerPruneTask, logger log.Logger) (*CronServer, error) {
	helper := pkglog.NewLogHelper(log.With(logger, "module", "cmd/cron"))
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	probeSchedule := defaultProbeSchedule
	if rc != nil && rc.ProbeSchedule != "" {
		probeSchedule = rc.ProbeSchedule
	}
	pruneSchedule := defaultPruneSchedule
	if lc != nil && lc.PruneSchedule != "" {
		pruneSchedule = lc.PruneSchedule
	}

	if _, err := c.AddFunc(probeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = probe.ProbeAll(ctx)
	}); err != nil {
		return nil, fmt.Errorf("failed to register health probe job %q: %w", probeSchedule, err)
	}

	if _, err := c.AddFunc(pruneSchedule, func() {
		helper.Scheduler("Starting ledger prune task...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		if err := prune.Prune(ctx); err != nil {
			helper.Errorw("msg", "ledger prune task failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to register ledger prune job %q: %w", pruneSchedule, err)
	}

	helper.Scheduler("cron jobs registered", "probe_schedule", probeSchedule, "prune_schedule", pruneSchedule)
	return &CronServer{cron: c, logger: helper}, nil
}

// Start starts the scheduler.
func (s *CronServer) Start(context.Context) error {
	s.cron.Start()
	s.logger.Scheduler("cron scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Stop waits for running jobs or for ctx to expire.
func (s *CronServer) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
