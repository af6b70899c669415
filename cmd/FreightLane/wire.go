//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"FreightLane/internal/biz"
	"FreightLane/internal/broker"
	"FreightLane/internal/conf"
	"FreightLane/internal/data"
	"FreightLane/internal/metrics"
	"FreightLane/internal/server"
	"FreightLane/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Registry, *conf.Resilience, *conf.Broker, *conf.Ledger, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		metrics.NewMetrics,
		broker.NewBroker,
		NewCronServer,
		newApp,
	))
}
