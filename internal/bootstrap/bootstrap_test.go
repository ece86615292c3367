package bootstrap

import (
	"context"
	"testing"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/config"
	"data-intelligence/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Connections = []adapter.ConnConfig{
		{DBType: "sqlite", Database: ":memory:"},
		{DBType: "sqlite", Database: ":memory:"},
	}
	svc := NewService(cfg, nil)
	defer svc.Close()

	handles, err := OpenConfigured(context.Background(), svc, cfg)
	require.NoError(t, err)
	assert.Equal(t, []registry.Handle{1, 2}, handles)
	assert.Len(t, svc.Connections(), 2)
}

func TestOpenConfiguredStopsOnError(t *testing.T) {
	cfg := config.Default()
	cfg.AI.APIKey = "sk-test"
	cfg.Connections = []adapter.ConnConfig{
		{DBType: "sqlite", Database: ":memory:"},
		{DBType: "postgresql", Database: "x"},
	}
	svc := NewService(cfg, nil)
	defer svc.Close()

	handles, err := OpenConfigured(context.Background(), svc, cfg)
	assert.ErrorIs(t, err, adapter.ErrInvalidConfig)
	assert.Len(t, handles, 1)
}
