// Package data provides data access layer implementations.
// It handles database connections and data persistence.
package data

import (
	"fmt"

	"FreightLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewCacheClient,
	NewMySQLClient,
	NewEtcdClient,
)

// Data contains all data layer dependencies.
type Data struct {
	db *gorm.DB
	// redisClient backs the ledger cache; nil when Redis is not configured
	redisClient *redis.Client
	cache       CacheClient
	etcd        *clientv3.Client
}

// NewData creates a new Data instance and migrates the schema.
// Redis and etcd failures do not prevent application startup (graceful degradation).
func NewData(_ *conf.Data, logger log.Logger, db *gorm.DB, rdb *redis.Client, cache CacheClient, etcd *clientv3.Client) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, ledger lookups will go to MySQL")
	}
	if etcd == nil {
		helper.Info("etcd is not configured, service addresses come from configuration only")
	}

	if db != nil {
		if err := Migrate(db); err != nil {
			return nil, nil, err
		}
	}

	d := &Data{
		db:          db,
		redisClient: rdb,
		cache:       cache,
		etcd:        etcd,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}

// Migrate creates or updates the tables owned by the route service.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&RouteRecord{}, &ProcessedEvent{}, &AuditLog{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// GetCache returns the cache client for repository use.
func (d *Data) GetCache() CacheClient {
	return d.cache
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}

// DB returns the MySQL handle.
func (d *Data) DB() *gorm.DB {
	return d.db
}
