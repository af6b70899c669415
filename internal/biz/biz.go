// Package biz contains business logic layer implementations.
// This layer holds the core business rules and domain models.
package biz

import (
	"FreightLane/internal/broker"
	"FreightLane/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewAddressSources,
	NewServiceRegistry,
	NewBreakerSet,
	NewResilientClient,
	NewTruckVerifier,
	NewBookingConsumer,
	NewRouteUsecase,
	NewHealthProbeTask,
	NewLedgerPruneTask,
	// Import data layer providers
	data.NewLedgerRepo,
	data.NewRouteRepo,
	data.NewAuditLogger,
	data.NewLogWebhookService,
	data.NewConfigAddressSource,
	data.NewEtcdAddressSource,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(RouteRepo), new(*data.RouteRepo)),
	wire.Bind(new(LedgerRepo), new(*data.LedgerRepo)),
	wire.Bind(new(AuditLogger), new(*data.AuditLoggerImpl)),
	wire.Bind(new(WebhookService), new(*data.LogWebhookService)),
	wire.Bind(new(EventPublisher), new(broker.Broker)),
)

// NewAddressSources orders the registry fallbacks: static config first, then etcd.
func NewAddressSources(cfg *data.ConfigAddressSource, etcd *data.EtcdAddressSource) []AddressSource {
	return []AddressSource{cfg, etcd}
}
