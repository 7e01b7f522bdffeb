package config

import "time"

// Config represents the complete spanlink configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Graph   GraphConfig   `yaml:"graph"`
	Cache   CacheConfig   `yaml:"cache"`
	Queue   QueueConfig   `yaml:"queue"`
	Notify  NotifyConfig  `yaml:"notify"`
	Worker  WorkerConfig  `yaml:"worker"`
	Sweeper SweeperConfig `yaml:"sweeper"`
	API     APIConfig     `yaml:"api,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`

	// SourceFile is the absolute path the config was loaded from.
	SourceFile string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	Environment string `yaml:"environment"`
}

// LedgerConfig selects and tunes the job/task ledger database.
type LedgerConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	Path   string `yaml:"path"`   // sqlite only
	DSN    string `yaml:"dsn"`    // postgres only

	MaxConns          int32         `yaml:"max_conns"`
	MinConns          int32         `yaml:"min_conns"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	StatementTimeout  time.Duration `yaml:"statement_timeout"`
}

// GraphConfig points at the alignment graph.
type GraphConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// Transform re-expresses resolved spans as segments of the target manifestation.
	Transform bool `yaml:"transform"`
}

// CacheConfig selects the correspondence cache backend.
type CacheConfig struct {
	Backend string        `yaml:"backend"` // redis, badger or none
	URL     string        `yaml:"url"`
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl"`
}

// QueueConfig selects the batch transport.
type QueueConfig struct {
	Transport         string        `yaml:"transport"` // sqs or local
	Region            string        `yaml:"region"`
	InboundURL        string        `yaml:"inbound_url"`
	CompletedURL      string        `yaml:"completed_url"`
	WaitTime          time.Duration `yaml:"wait_time"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxMessages       int32         `yaml:"max_messages"`
	BatchSize         int           `yaml:"batch_size"`
	MaxAttempts       int           `yaml:"max_attempts"` // final delivery attempt
	Path              string        `yaml:"path"`         // local only; defaults to the ledger path
}

// NotifyConfig carries deployment metadata stamped on completion events.
type NotifyConfig struct {
	SourceEnvironment      string `yaml:"source_environment"`
	DestinationEnvironment string `yaml:"destination_environment"`
}

// WorkerConfig controls batch consumers.
type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SweeperConfig controls recovery of abandoned tasks.
type SweeperConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
}

// MetricsConfig controls the standalone Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Defaults returns a Config with default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "spanlink",
			LogLevel:    "info",
			LogFormat:   "json",
			Environment: "development",
		},
		Ledger: LedgerConfig{
			Driver:            "sqlite",
			Path:              "./data/spanlink.db",
			MaxConns:          10,
			MinConns:          1,
			MaxConnLifetime:   time.Hour,
			MaxConnIdleTime:   5 * time.Minute,
			HealthCheckPeriod: 30 * time.Second,
			DialTimeout:       5 * time.Second,
			StatementTimeout:  30 * time.Second,
		},
		Graph: GraphConfig{
			URI:      "neo4j://localhost:7687",
			Database: "neo4j",
		},
		Cache: CacheConfig{
			Backend: "none",
			TTL:     time.Hour,
		},
		Queue: QueueConfig{
			Transport:         "local",
			WaitTime:          20 * time.Second,
			VisibilityTimeout: 5 * time.Minute,
			MaxMessages:       1,
			BatchSize:         100,
			MaxAttempts:       5,
		},
		Worker: WorkerConfig{
			Concurrency:  1,
			PollInterval: time.Second,
		},
		Sweeper: SweeperConfig{
			Interval:   time.Minute,
			StaleAfter: 15 * time.Minute,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "localhost:8080",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "localhost:9090",
		},
	}
}
