// Package bootstrap 按配置组装注册表、引擎与可选的 AI 精化器
package bootstrap

import (
	"context"
	"fmt"

	"data-intelligence/internal/ai"
	"data-intelligence/internal/config"
	"data-intelligence/internal/engine"
	"data-intelligence/internal/registry"

	"go.uber.org/zap"
)

// NewService 创建引擎；配置了 API Key 时挂载 DashScope 表分类精化
func NewService(cfg *config.Config, logger *zap.SugaredLogger) *engine.Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	reg := registry.New(
		registry.WithConnectTimeout(cfg.Registry.ConnectTimeout),
		registry.WithSlowQuery(cfg.Registry.SlowQuery),
		registry.WithLogger(logger.Named("registry")),
	)

	opts := []engine.Option{
		engine.WithThresholds(cfg.Thresholds()),
		engine.WithSnapshotPersistence(cfg.Neural.PersistSnapshots),
		engine.WithLogger(logger.Named("engine")),
	}
	if cfg.AI.Enabled() {
		client := ai.NewDashScope(cfg.AI.APIKey,
			ai.WithModel(cfg.AI.Model),
			ai.WithEndpoint(cfg.AI.Endpoint),
			ai.WithLogger(logger.Named("ai")))
		opts = append(opts, engine.WithRefiner(ai.NewTableRefiner(client, cfg.AI.MaxTables, logger.Named("ai"))))
		logger.Infow("已启用 AI 表分类精化", "model", cfg.AI.Model)
	}
	return engine.NewService(reg, opts...)
}

// OpenConfigured 打开配置中预先声明的连接，任一失败即返回
func OpenConfigured(ctx context.Context, svc *engine.Service, cfg *config.Config) ([]registry.Handle, error) {
	handles := make([]registry.Handle, 0, len(cfg.Connections))
	for i, c := range cfg.Connections {
		h, err := svc.OpenConnection(ctx, c)
		if err != nil {
			return handles, fmt.Errorf("connections[%d] %s: %w", i, c.DisplayName(), err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}
