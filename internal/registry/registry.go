package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"data-intelligence/internal/adapter"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	// MaxConnectTimeout 建连的硬上限
	MaxConnectTimeout = 15 * time.Second
	// DefaultSlowQuery 慢查询阈值
	DefaultSlowQuery = 500 * time.Millisecond
)

var (
	// ErrUnsupportedDBType 不支持的数据库类型
	ErrUnsupportedDBType = adapter.ErrUnsupportedDBType
	// ErrConnectTimeout 建连超时
	ErrConnectTimeout = errors.New("连接数据库超时")
	// ErrDriver 驱动错误
	ErrDriver = errors.New("数据库驱动错误")
	// ErrUnknownHandle 句柄不存在
	ErrUnknownHandle = errors.New("连接句柄不存在")
)

// Handle 连接句柄
type Handle int64

func (h Handle) String() string { return fmt.Sprintf("conn_%d", int64(h)) }

// ParseHandle 解析 "conn_3" 或 "3"
func ParseHandle(s string) (Handle, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "conn_"), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownHandle, s)
	}
	return Handle(n), nil
}

// Connector 建立驱动连接
type Connector func(ctx context.Context, cfg adapter.ConnConfig) (adapter.Driver, error)

// Conn 一个已打开的连接
type Conn struct {
	Handle   Handle
	Config   adapter.ConnConfig
	OpenedAt time.Time

	driver adapter.Driver
	slot   *semaphore.Weighted // 同一句柄的查询串行执行
}

// Dialect 连接方言
func (c *Conn) Dialect() adapter.Dialect { return c.driver.Dialect() }

// Info 连接信息（不含密码）
type Info struct {
	Handle   Handle    `json:"handle"`
	DBType   string    `json:"db_type"`
	Host     string    `json:"host"`
	Database string    `json:"database"`
	OpenedAt time.Time `json:"opened_at"`
}

// Registry 连接注册表，进程内唯一的共享可变状态
type Registry struct {
	mu        sync.RWMutex
	conns     map[Handle]*Conn
	next      atomic.Int64
	connect   Connector
	timeout   time.Duration
	slowQuery time.Duration
	logger    *zap.SugaredLogger
}

// Option 注册表选项
type Option func(*Registry)

// WithConnector 替换建连函数（测试用）
func WithConnector(c Connector) Option {
	return func(r *Registry) { r.connect = c }
}

// WithConnectTimeout 建连超时，超过 15s 按 15s 处理
func WithConnectTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithSlowQuery 慢查询阈值
func WithSlowQuery(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.slowQuery = d
		}
	}
}

// WithLogger 日志
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New 创建注册表
func New(opts ...Option) *Registry {
	r := &Registry{
		conns:     make(map[Handle]*Conn),
		connect:   adapter.Connect,
		timeout:   MaxConnectTimeout,
		slowQuery: DefaultSlowQuery,
		logger:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.timeout > MaxConnectTimeout {
		r.timeout = MaxConnectTimeout
	}
	return r
}

// Open 校验配置并建立连接
func (r *Registry) Open(ctx context.Context, cfg adapter.ConnConfig) (Handle, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		drv adapter.Driver
		err error
	}
	done := make(chan result, 1)
	go func() {
		drv, err := r.connect(ctx, cfg)
		done <- result{drv, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// 迟到的连接直接释放
		go func() {
			if late := <-done; late.drv != nil {
				late.drv.Close()
			}
		}()
		return 0, fmt.Errorf("%w: %s (%s)", ErrConnectTimeout, cfg.DisplayName(), r.timeout)
	}
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: %s", ErrConnectTimeout, cfg.DisplayName())
		}
		if errors.Is(res.err, adapter.ErrUnsupportedDBType) || errors.Is(res.err, adapter.ErrInvalidConfig) {
			return 0, res.err
		}
		return 0, fmt.Errorf("%w: %v", ErrDriver, res.err)
	}

	h := Handle(r.next.Add(1))
	conn := &Conn{Handle: h, Config: cfg, OpenedAt: time.Now(), driver: res.drv, slot: semaphore.NewWeighted(1)}

	r.mu.Lock()
	r.conns[h] = conn
	r.mu.Unlock()

	r.logger.Infow("数据库连接成功", "handle", h.String(), "db_type", cfg.DBType, "database", cfg.DisplayName())
	return h, nil
}

// Get 获取连接
func (r *Registry) Get(h Handle) (*Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return c, nil
}

// Dialect 句柄对应的方言
func (r *Registry) Dialect(h Handle) (adapter.Dialect, error) {
	c, err := r.Get(h)
	if err != nil {
		return "", err
	}
	return c.Dialect(), nil
}

// List 列出所有连接，按句柄排序
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, Info{
			Handle:   c.Handle,
			DBType:   c.Config.DBType,
			Host:     c.Config.Host,
			Database: c.Config.Database,
			OpenedAt: c.OpenedAt,
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Query 在句柄上串行执行查询；驱动调用放到独立 goroutine，调用方 ctx 到期即返回
func (r *Registry) Query(ctx context.Context, h Handle, query string, args ...any) ([]adapter.Row, error) {
	var rows []adapter.Row
	err := r.Do(ctx, h, func(ctx context.Context, drv adapter.Driver) error {
		var err error
		rows, err = drv.Query(ctx, query, args...)
		return err
	}, query)
	return rows, err
}

// Exec 在句柄上串行执行写语句
func (r *Registry) Exec(ctx context.Context, h Handle, query string, args ...any) (int64, error) {
	var n int64
	err := r.Do(ctx, h, func(ctx context.Context, drv adapter.Driver) error {
		var err error
		n, err = drv.Exec(ctx, query, args...)
		return err
	}, query)
	return n, err
}

// Do 持有句柄锁执行任意驱动操作。label 用于慢查询日志
func (r *Registry) Do(ctx context.Context, h Handle, fn func(context.Context, adapter.Driver) error, label string) error {
	c, err := r.Get(h)
	if err != nil {
		return err
	}

	// 排队等待同样受 ctx 约束
	if err := c.slot.Acquire(ctx, 1); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		defer c.slot.Release(1)
		start := time.Now()
		err := fn(ctx, c.driver)
		if d := time.Since(start); d > r.slowQuery {
			r.logger.Warnw("慢查询", "handle", h.String(), "duration", d, "query", label)
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 关闭单个连接
func (r *Registry) Close(h Handle) error {
	r.mu.Lock()
	c, ok := r.conns[h]
	delete(r.conns, h)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return r.release(c)
}

// CloseAll 关闭全部连接
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[Handle]*Conn)
	r.mu.Unlock()

	var g errgroup.Group
	errs := make([]error, 0, len(conns))
	results := make(chan error, len(conns))
	for _, c := range conns {
		g.Go(func() error {
			err := r.release(c)
			results <- err
			return err
		})
	}
	g.Wait()
	close(results)
	for err := range results {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// release 等待进行中的查询结束再关闭驱动
func (r *Registry) release(c *Conn) error {
	if err := c.slot.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer c.slot.Release(1)
	if err := c.driver.Close(); err != nil {
		return fmt.Errorf("关闭连接 %s 失败: %w", c.Handle, err)
	}
	r.logger.Infow("连接已关闭", "handle", c.Handle.String())
	return nil
}
