// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"FreightLane/pkg/httpclient"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding config keys.
const EnvPrefix = "FREIGHTLANE"

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with FREIGHTLANE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or FREIGHTLANE_DATA_DATABASE_SOURCE: MySQL connection string
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names for the values usually injected by the platform
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "FREIGHTLANE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "FREIGHTLANE_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.redis.password", "REDIS_PASSWORD", "FREIGHTLANE_DATA_REDIS_PASSWORD")
	_ = v.BindEnv("broker.url", "BROKER_URL", "FREIGHTLANE_BROKER_URL")
	_ = v.BindEnv("broker.password", "BROKER_PASSWORD", "FREIGHTLANE_BROKER_PASSWORD")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
			Grpc: &Server_GRPC{
				Network: v.GetString("server.grpc.network"),
				Addr:    v.GetString("server.grpc.addr"),
				Timeout: v.GetDuration("server.grpc.timeout"),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
			Etcd: &Data_Etcd{
				Endpoints:   splitList(v.GetStringSlice("data.etcd.endpoints")),
				Prefix:      v.GetString("data.etcd.prefix"),
				DialTimeout: v.GetDuration("data.etcd.dial_timeout"),
			},
		},
		Registry: &Registry{
			HealthPath:    v.GetString("registry.health_path"),
			ProbeTimeout:  v.GetDuration("registry.probe_timeout"),
			ProbeSchedule: v.GetString("registry.probe_schedule"),
			Services:      loadServices(v),
		},
		Resilience: &Resilience{
			MaxAttempts:       v.GetInt("resilience.max_attempts"),
			BackoffBase:       v.GetDuration("resilience.backoff_base"),
			Timeout:           v.GetDuration("resilience.timeout"),
			FailureThreshold:  v.GetInt("resilience.failure_threshold"),
			BreakDuration:     v.GetDuration("resilience.break_duration"),
			TransientStatuses: v.GetIntSlice("resilience.transient_statuses"),
			FailOpen:          v.GetBool("resilience.fail_open"),
			ProxyURL:          v.GetString("resilience.proxy_url"),
		},
		Broker: &Broker{
			Type:            v.GetString("broker.type"),
			URL:             v.GetString("broker.url"),
			Password:        v.GetString("broker.password"),
			RedisDB:         v.GetInt("broker.redis_db"),
			StreamPrefix:    v.GetString("broker.stream_prefix"),
			ConsumerGroup:   v.GetString("broker.consumer_group"),
			ConsumerName:    v.GetString("broker.consumer_name"),
			KafkaBrokers:    splitList(v.GetStringSlice("broker.kafka_brokers")),
			RedeliveryDelay: v.GetDuration("broker.redelivery_delay"),
			ClaimMinIdle:    v.GetDuration("broker.claim_min_idle"),
		},
		Ledger: &Ledger{
			CacheSize:     v.GetInt("ledger.cache_size"),
			CacheTTL:      v.GetDuration("ledger.cache_ttl"),
			Retention:     v.GetDuration("ledger.retention"),
			PruneSchedule: v.GetString("ledger.prune_schedule"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("server.grpc.network", "tcp")
	v.SetDefault("server.grpc.addr", ":9000")
	v.SetDefault("server.grpc.timeout", 30*time.Second)

	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("data.etcd.prefix", "/freightlane/services")
	v.SetDefault("data.etcd.dial_timeout", 3*time.Second)

	v.SetDefault("registry.health_path", "/health")
	v.SetDefault("registry.probe_timeout", 2*time.Second)
	v.SetDefault("registry.probe_schedule", "*/30 * * * * *")

	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.backoff_base", 200*time.Millisecond)
	v.SetDefault("resilience.timeout", 10*time.Second)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.break_duration", 30*time.Second)
	v.SetDefault("resilience.fail_open", true)

	v.SetDefault("broker.type", "memory")
	v.SetDefault("broker.stream_prefix", "freightlane")
	v.SetDefault("broker.consumer_group", "route-service")
	v.SetDefault("broker.redelivery_delay", time.Second)
	v.SetDefault("broker.claim_min_idle", time.Minute)

	v.SetDefault("ledger.cache_size", 10000)
	v.SetDefault("ledger.cache_ttl", 24*time.Hour)
	v.SetDefault("ledger.retention", 30*24*time.Hour)
	v.SetDefault("ledger.prune_schedule", "0 0 3 * * *")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// loadServices reads registry.services.<name>.* into a map keyed by service name.
func loadServices(v *viper.Viper) map[string]*Registry_Service {
	raw := v.GetStringMap("registry.services")
	services := make(map[string]*Registry_Service, len(raw))

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		key := "registry.services." + name
		services[name] = &Registry_Service{
			BaseAddress:      v.GetString(key + ".base_address"),
			FailureThreshold: v.GetInt(key + ".failure_threshold"),
			BreakDuration:    v.GetDuration(key + ".break_duration"),
		}
	}
	return services
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all problems found.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		problems = append(problems, "data.database.source (MYSQL_DSN)")
	}

	if bc.Resilience != nil {
		if bc.Resilience.MaxAttempts < 1 {
			problems = append(problems, "resilience.max_attempts (must be >= 1)")
		}
		if bc.Resilience.FailureThreshold < 1 {
			problems = append(problems, "resilience.failure_threshold (must be >= 1)")
		}
		if bc.Resilience.ProxyURL != "" {
			if _, err := httpclient.ParseProxyURL(bc.Resilience.ProxyURL); err != nil {
				problems = append(problems, "resilience.proxy_url (http, https or socks5 URL)")
			}
		}
	}

	if bc.Registry != nil {
		for name, svc := range bc.Registry.Services {
			if svc == nil || svc.BaseAddress == "" {
				problems = append(problems, fmt.Sprintf("registry.services.%s.base_address", name))
			}
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("missing or invalid configuration fields: %s", strings.Join(problems, ", "))
	}

	return nil
}
