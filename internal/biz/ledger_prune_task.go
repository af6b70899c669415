package biz

import (
	"context"
	"fmt"
	"time"

	"FreightLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

const defaultLedgerRetention = 30 * 24 * time.Hour

// LedgerPruneTask 清理过期的已处理事件记录
// 保留期必须远大于 broker 的最大重投窗口，否则重复事件可能被再次应用
type LedgerPruneTask struct {
	ledger    LedgerRepo
	retention time.Duration
	now       func() time.Time
	logger    *log.Helper
}

// NewLedgerPruneTask 创建账本清理任务
func NewLedgerPruneTask(c *conf.Ledger, ledger LedgerRepo, logger log.Logger) *LedgerPruneTask {
	retention := defaultLedgerRetention
	if c != nil && c.Retention > 0 {
		retention = c.Retention
	}
	return &LedgerPruneTask{
		ledger:    ledger,
		retention: retention,
		now:       time.Now,
		logger:    log.NewHelper(log.With(logger, "module", "biz/ledger_prune")),
	}
}

// Prune deletes ledger entries older than the retention period.
func (t *LedgerPruneTask) Prune(ctx context.Context) error {
	before := t.now().Add(-t.retention)

	deleted, err := t.ledger.Prune(ctx, before)
	if err != nil {
		return fmt.Errorf("failed to prune processed events: %w", err)
	}

	t.logger.Infow("msg", "ledger prune completed",
		"before", before.UTC().Format(time.RFC3339),
		"deleted", deleted)
	return nil
}
