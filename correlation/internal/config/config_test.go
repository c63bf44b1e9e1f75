package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "postgres", cfg.EventSource.Backend)
	assert.Equal(t, "reconhawk", cfg.Database.Postgres.Database)
	assert.Equal(t, "file://migrations", cfg.Database.MigrationsPath)
	assert.Equal(t, "rules", cfg.Engine.RulesDir)
	assert.Equal(t, 1, cfg.Engine.Workers)
	assert.Equal(t, "skip_group", cfg.Engine.PersistFailurePolicy)
	assert.Equal(t, 10, cfg.Engine.EnrichMaxDepth)
	assert.Equal(t, 5*time.Minute, cfg.Engine.RunTimeout)
	assert.False(t, cfg.NATS.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Redis.DedupeTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
event_source:
  backend: opensearch
opensearch:
  url: https://search:9200
  index: scan-events
engine:
  rules_dir: /etc/reconhawk/rules
  workers: 4
  persist_failure_policy: fail_rule
  run_timeout: 30s
redis:
  enabled: true
  dedupe_ttl: 1h
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "opensearch", cfg.EventSource.Backend)
	assert.Equal(t, "https://search:9200", cfg.OpenSearch.URL)
	assert.Equal(t, "scan-events", cfg.OpenSearch.Index)
	assert.Equal(t, "/etc/reconhawk/rules", cfg.Engine.RulesDir)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, "fail_rule", cfg.Engine.PersistFailurePolicy)
	assert.Equal(t, 30*time.Second, cfg.Engine.RunTimeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, time.Hour, cfg.Redis.DedupeTTL)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CORRELATION_SERVER_PORT", "7000")
	t.Setenv("CORRELATION_ENGINE_WORKERS", "8")
	t.Setenv("CORRELATION_EVENT_SOURCE_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, "memory", cfg.EventSource.Backend)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "event_source:\n  backend: mongo\n"},
		{"unknown policy", "engine:\n  persist_failure_policy: retry\n"},
		{"negative workers", "engine:\n  workers: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
