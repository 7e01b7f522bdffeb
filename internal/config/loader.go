package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
// A directory may be given, in which case config.yaml inside it is used.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourceFile = absPath

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $SPANLINK_CONFIG, ~/.config/spanlink/config.yaml, /etc/spanlink/config.yaml, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if path := os.Getenv("SPANLINK_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "spanlink", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/spanlink/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	localConfig := "./config.yaml"
	if _, err := os.Stat(localConfig); err == nil {
		return localConfig, nil
	}

	return "", fmt.Errorf("no config found (checked: $SPANLINK_CONFIG, ~/.config/spanlink/config.yaml, /etc/spanlink/config.yaml, ./config.yaml)")
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.Environment == "" {
		cfg.Service.Environment = defaults.Service.Environment
	}

	l, dl := &cfg.Ledger, defaults.Ledger
	if l.Driver == "" {
		l.Driver = dl.Driver
	}
	if l.Driver == "sqlite" && l.Path == "" {
		l.Path = dl.Path
	}
	if l.MaxConns == 0 {
		l.MaxConns = dl.MaxConns
	}
	if l.MinConns == 0 {
		l.MinConns = dl.MinConns
	}
	if l.MaxConnLifetime == 0 {
		l.MaxConnLifetime = dl.MaxConnLifetime
	}
	if l.MaxConnIdleTime == 0 {
		l.MaxConnIdleTime = dl.MaxConnIdleTime
	}
	if l.HealthCheckPeriod == 0 {
		l.HealthCheckPeriod = dl.HealthCheckPeriod
	}
	if l.DialTimeout == 0 {
		l.DialTimeout = dl.DialTimeout
	}
	if l.StatementTimeout == 0 {
		l.StatementTimeout = dl.StatementTimeout
	}

	if cfg.Graph.URI == "" {
		cfg.Graph.URI = defaults.Graph.URI
	}
	if cfg.Graph.Database == "" {
		cfg.Graph.Database = defaults.Graph.Database
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = defaults.Cache.Backend
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = defaults.Cache.TTL
	}

	q, dq := &cfg.Queue, defaults.Queue
	if q.Transport == "" {
		q.Transport = dq.Transport
	}
	if q.WaitTime == 0 {
		q.WaitTime = dq.WaitTime
	}
	if q.VisibilityTimeout == 0 {
		q.VisibilityTimeout = dq.VisibilityTimeout
	}
	if q.MaxMessages == 0 {
		q.MaxMessages = dq.MaxMessages
	}
	if q.BatchSize == 0 {
		q.BatchSize = dq.BatchSize
	}
	if q.MaxAttempts == 0 {
		q.MaxAttempts = dq.MaxAttempts
	}
	if q.Transport == "local" && q.Path == "" {
		q.Path = cfg.Ledger.Path
	}

	if cfg.Notify.SourceEnvironment == "" {
		cfg.Notify.SourceEnvironment = cfg.Service.Environment
	}

	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = defaults.Worker.Concurrency
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = defaults.Worker.PollInterval
	}

	if cfg.Sweeper.Interval == 0 {
		cfg.Sweeper.Interval = defaults.Sweeper.Interval
	}
	if cfg.Sweeper.StaleAfter == 0 {
		cfg.Sweeper.StaleAfter = defaults.Sweeper.StaleAfter
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = defaults.Metrics.Listen
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; validate reports it if the field matters.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	switch cfg.Ledger.Driver {
	case "sqlite":
		if cfg.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for the postgres driver")
		}
		if cfg.Ledger.MinConns > cfg.Ledger.MaxConns {
			return fmt.Errorf("ledger.min_conns (%d) exceeds ledger.max_conns (%d)", cfg.Ledger.MinConns, cfg.Ledger.MaxConns)
		}
	default:
		return fmt.Errorf("ledger.driver must be sqlite or postgres (got %q)", cfg.Ledger.Driver)
	}

	if cfg.Graph.URI == "" {
		return fmt.Errorf("graph.uri is required")
	}

	switch cfg.Cache.Backend {
	case "none":
	case "redis":
		if cfg.Cache.URL == "" {
			return fmt.Errorf("cache.url is required for the redis backend")
		}
	case "badger":
		// An empty path selects an in-memory store.
	default:
		return fmt.Errorf("cache.backend must be redis, badger or none (got %q)", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}

	switch cfg.Queue.Transport {
	case "local":
		if cfg.Queue.Path == "" {
			return fmt.Errorf("queue.path is required for the local transport")
		}
	case "sqs":
		if cfg.Queue.InboundURL == "" {
			return fmt.Errorf("queue.inbound_url is required for the sqs transport")
		}
		if cfg.Queue.CompletedURL == "" {
			return fmt.Errorf("queue.completed_url is required for the sqs transport")
		}
		if cfg.Queue.MaxMessages < 1 || cfg.Queue.MaxMessages > 10 {
			return fmt.Errorf("queue.max_messages must be between 1 and 10 (got %d)", cfg.Queue.MaxMessages)
		}
	default:
		return fmt.Errorf("queue.transport must be sqs or local (got %q)", cfg.Queue.Transport)
	}
	if cfg.Queue.BatchSize < 1 {
		return fmt.Errorf("queue.batch_size must be positive")
	}

	if cfg.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if cfg.Sweeper.Interval <= 0 || cfg.Sweeper.StaleAfter <= 0 {
		return fmt.Errorf("sweeper.interval and sweeper.stale_after must be positive")
	}

	secrets := map[string]string{
		"graph.password": cfg.Graph.Password,
		"ledger.dsn":     cfg.Ledger.DSN,
		"cache.url":      cfg.Cache.URL,
		"api.api_key":    cfg.API.APIKey,
	}
	for field, value := range secrets {
		if err := checkUnresolvedEnvVar(field, value); err != nil {
			return err
		}
	}

	if cfg.API.Enabled && cfg.API.APIKey == "" {
		return fmt.Errorf("api.api_key is required when the API is enabled")
	}

	return nil
}

// checkUnresolvedEnvVar reports a ${VAR} placeholder left in value.
func checkUnresolvedEnvVar(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
