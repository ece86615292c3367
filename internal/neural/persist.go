package neural

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/registry"

	"go.uber.org/zap"
)

const (
	createSnapshotSchema = `CREATE SCHEMA IF NOT EXISTS evolution`
	createSnapshotTable  = `
		CREATE TABLE IF NOT EXISTS evolution.neural_snapshots (
			id            BIGSERIAL PRIMARY KEY,
			connection_id TEXT        NOT NULL,
			snapshot_at   TIMESTAMPTZ NOT NULL,
			neural_data   JSONB       NOT NULL,
			core_metrics  JSONB       NOT NULL
		)`
	createSnapshotIndex = `
		CREATE INDEX IF NOT EXISTS idx_neural_snapshots_conn_time
		ON evolution.neural_snapshots (connection_id, snapshot_at DESC)`
	insertSnapshot = `
		INSERT INTO evolution.neural_snapshots (connection_id, snapshot_at, neural_data, core_metrics)
		VALUES ($1, $2, $3::jsonb, $4::jsonb)`
)

// Executor 写语句执行者，由连接注册表实现
type Executor interface {
	Dialect(h registry.Handle) (adapter.Dialect, error)
	Exec(ctx context.Context, h registry.Handle, query string, args ...any) (int64, error)
}

// SnapshotStore 把神经快照追加到 evolution.neural_snapshots。
// 只支持 PostgreSQL；其他方言直接跳过。
type SnapshotStore struct {
	exec   Executor
	handle registry.Handle
	logger *zap.SugaredLogger

	mu      sync.Mutex
	ensured bool
}

// NewSnapshotStore 创建快照存储
func NewSnapshotStore(exec Executor, h registry.Handle, logger *zap.SugaredLogger) *SnapshotStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SnapshotStore{exec: exec, handle: h, logger: logger}
}

// Save 追加一条快照；首次保存时幂等建表
func (s *SnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	d, err := s.exec.Dialect(s.handle)
	if err != nil {
		return err
	}
	if d != adapter.DialectPostgres {
		s.logger.Debugw("当前方言不支持快照持久化，跳过", "handle", s.handle.String(), "dialect", d)
		return nil
	}
	if err := s.ensure(ctx); err != nil {
		return err
	}

	neuralData, err := json.Marshal(snap.NeuralData)
	if err != nil {
		return fmt.Errorf("序列化神经数据失败: %w", err)
	}
	metrics, err := json.Marshal(snap.CoreMetrics)
	if err != nil {
		return fmt.Errorf("序列化核心指标失败: %w", err)
	}
	if _, err := s.exec.Exec(ctx, s.handle, insertSnapshot,
		snap.ConnectionID, snap.SnapshotAt, string(neuralData), string(metrics)); err != nil {
		return fmt.Errorf("写入神经快照失败: %w", err)
	}
	return nil
}

// ensure 建 schema、表、索引；失败后下次重试
func (s *SnapshotStore) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}
	for _, ddl := range []string{createSnapshotSchema, createSnapshotTable, createSnapshotIndex} {
		if _, err := s.exec.Exec(ctx, s.handle, ddl); err != nil {
			return fmt.Errorf("创建快照表失败: %w", err)
		}
	}
	s.ensured = true
	return nil
}
