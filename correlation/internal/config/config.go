package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	common "github.com/reconhawk/reconhawk-stack/common/config"
)

// EnvPrefix is the environment prefix (CORRELATION_SERVER_PORT, ...).
const EnvPrefix = "CORRELATION"

type Config struct {
	Server      common.ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig          `mapstructure:"database"`
	EventSource EventSourceConfig       `mapstructure:"event_source"`
	OpenSearch  common.OpenSearchConfig `mapstructure:"opensearch"`
	NATS        common.NATSConfig       `mapstructure:"nats"`
	Redis       common.RedisConfig      `mapstructure:"redis"`
	Engine      EngineConfig            `mapstructure:"engine"`
	Logging     common.LoggingConfig    `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Postgres       common.PostgresConfig `mapstructure:"postgres"`
	MigrationsPath string                `mapstructure:"migrations_path"`
}

type EventSourceConfig struct {
	Backend string `mapstructure:"backend"`
}

type EngineConfig struct {
	RulesDir             string        `mapstructure:"rules_dir"`
	Workers              int           `mapstructure:"workers"`
	PersistFailurePolicy string        `mapstructure:"persist_failure_policy"`
	EnrichMaxDepth       int           `mapstructure:"enrich_max_depth"`
	RunTimeout           time.Duration `mapstructure:"run_timeout"`
}

// Load reads the correlation service configuration. An empty configPath looks for
// config.yaml in the working directory and /etc/reconhawk/correlation.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	common.SetInfraDefaults(v)

	v.SetDefault("server.port", 8086)
	v.SetDefault("database.postgres.database", "reconhawk")
	v.SetDefault("database.migrations_path", "file://migrations")
	v.SetDefault("event_source.backend", "postgres")
	v.SetDefault("engine.rules_dir", "rules")
	v.SetDefault("engine.workers", 1)
	v.SetDefault("engine.persist_failure_policy", "skip_group")
	v.SetDefault("engine.enrich_max_depth", 10)
	v.SetDefault("engine.run_timeout", "5m")

	var cfg Config
	if err := common.Load(v, configPath, EnvPrefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative")
	}
	if c.Engine.RunTimeout <= 0 {
		return fmt.Errorf("engine.run_timeout must be positive")
	}
	switch c.EventSource.Backend {
	case "postgres", "opensearch", "memory":
	default:
		return fmt.Errorf("invalid event_source.backend %q", c.EventSource.Backend)
	}
	switch c.Engine.PersistFailurePolicy {
	case "skip_group", "fail_rule":
	default:
		return fmt.Errorf("invalid engine.persist_failure_policy %q", c.Engine.PersistFailurePolicy)
	}
	return nil
}
