package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"data-intelligence/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 15*time.Second, cfg.Registry.ConnectTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Registry.SlowQuery)
	th := cfg.Thresholds()
	assert.Equal(t, 100, th.Window)
	assert.Equal(t, 10, th.MinSamples)
	assert.Equal(t, 3.0, th.ZThreshold)
	assert.Equal(t, 5.0, th.CriticalZ)
	assert.Equal(t, 50, th.Retain)
	assert.False(t, cfg.AI.Enabled())
}

func TestLoadFile(t *testing.T) {
	p := writeFile(t, `
server:
  listen: ":9090"
  metrics_interval: 5s
registry:
  connect_timeout: 1m
  slow_query: 250ms
neural:
  persist_snapshots: true
anomaly:
  z_threshold: 2.5
ai:
  model: qwen-max
connections:
  - db_type: sqlite
    database: ./shop.db
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, 5*time.Second, cfg.Server.MetricsInterval)
	assert.Equal(t, registry.MaxConnectTimeout, cfg.Registry.ConnectTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Registry.SlowQuery)
	assert.True(t, cfg.Neural.PersistSnapshots)
	assert.Equal(t, 2.5, cfg.Anomaly.ZThreshold)
	assert.Equal(t, 100, cfg.Anomaly.Window)
	assert.Equal(t, "qwen-max", cfg.AI.Model)
	require.Len(t, cfg.Connections, 1)
	assert.Equal(t, "sqlite", cfg.Connections[0].DBType)
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.applyEnv(env(map[string]string{
		EnvListen:    "127.0.0.1:7000",
		EnvLogLevel:  "DEBUG",
		EnvDebug:     "true",
		EnvDashScope: "sk-1",
	})))
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Debug)
	assert.True(t, cfg.AI.Enabled())

	err := Default().applyEnv(env(map[string]string{EnvDebug: "sometimes"}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "server: [1, 2"},
		{"level", "log:\n  level: loud\n"},
		{"interval", "server:\n  metrics_interval: 0s\n"},
		{"min samples", "anomaly:\n  min_samples: 500\n"},
		{"critical below warning", "anomaly:\n  critical_z: 2\n"},
		{"connection", "connections:\n  - db_type: oracle\n    database: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}
