package conf

import "time"

// Bootstrap is the root configuration loaded by NewBootstrap.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Registry   *Registry
	Resilience *Resilience
	Broker     *Broker
	Ledger     *Ledger
	Log        *Log
}

// Server holds the HTTP and gRPC listener settings.
type Server struct {
	Http *Server_HTTP
	Grpc *Server_GRPC
}

// Server_HTTP is the admin/metrics HTTP listener.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Server_GRPC is the gRPC listener exposing the health service.
type Server_GRPC struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data groups the storage backends.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
	Etcd     *Data_Etcd
}

type Data_Database struct {
	Driver string
	Source string
}

type Data_Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Data_Etcd is optional. An empty endpoint list disables the etcd address source.
type Data_Etcd struct {
	Endpoints   []string
	Prefix      string
	DialTimeout time.Duration
}

// Registry configures service discovery and health probing.
type Registry struct {
	HealthPath    string
	ProbeTimeout  time.Duration
	ProbeSchedule string
	Services      map[string]*Registry_Service
}

// Registry_Service is the static entry for one downstream service.
// Zero breaker values fall back to Resilience defaults.
type Registry_Service struct {
	BaseAddress      string
	FailureThreshold int
	BreakDuration    time.Duration
}

// Resilience configures the retry and circuit breaker policy of outbound calls.
type Resilience struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	Timeout           time.Duration
	FailureThreshold  int
	BreakDuration     time.Duration
	TransientStatuses []int
	FailOpen          bool
	ProxyURL          string // optional http, https or socks5 proxy for downstream calls
}

// Broker selects and configures the message broker backend.
type Broker struct {
	Type            string
	URL             string
	Password        string
	RedisDB         int
	StreamPrefix    string
	ConsumerGroup   string
	ConsumerName    string
	KafkaBrokers    []string
	RedeliveryDelay time.Duration
	// ClaimMinIdle is how long a Redis Streams entry must sit unacknowledged
	// in another consumer's pending list before it is taken over.
	ClaimMinIdle time.Duration
}

// Ledger configures the processed-event ledger.
type Ledger struct {
	CacheSize     int
	CacheTTL      time.Duration
	Retention     time.Duration
	PruneSchedule string
}

type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
