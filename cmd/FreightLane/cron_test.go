package main

import (
	"context"
	"os"
	"testing"
	"time"

	"FreightLane/internal/biz"
	"FreightLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTasks(logger log.Logger) (*biz.HealthProbeTask, *biz.LedgerPruneTask) {
	registry := biz.NewServiceRegistry(nil, nil, nil, nil, logger)
	return biz.NewHealthProbeTask(registry, logger), biz.NewLedgerPruneTask(nil, nil, logger)
}

func TestNewCronServer_Defaults(t *testing.T) {
	logger := log.NewStdLogger(os.Stdout)
	probe, prune := newTestTasks(logger)

	s, err := NewCronServer(nil, nil, probe, prune, logger)
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 2)

	require.NoError(t, s.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestNewCronServer_InvalidSchedule(t *testing.T) {
	logger := log.NewStdLogger(os.Stdout)
	probe, prune := newTestTasks(logger)

	_, err := NewCronServer(&conf.Registry{ProbeSchedule: "every now and then"}, nil, probe, prune, logger)
	assert.ErrorContains(t, err, "health probe job")

	_, err = NewCronServer(nil, &conf.Ledger{PruneSchedule: "61 * * * * *"}, probe, prune, logger)
	assert.ErrorContains(t, err, "ledger prune job")
}
