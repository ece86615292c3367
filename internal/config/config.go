// Package config 读取 YAML 配置文件并叠加环境变量
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/anomaly"
	"data-intelligence/internal/registry"

	"gopkg.in/yaml.v3"
)

// 环境变量
const (
	EnvListen    = "DI_LISTEN"
	EnvLogLevel  = "DI_LOG_LEVEL"
	EnvDebug     = "DI_DEBUG"
	EnvDashScope = "DASHSCOPE_API_KEY"
)

// ErrInvalid 配置不合法
var ErrInvalid = errors.New("配置不合法")

// Config 全局配置
type Config struct {
	Server      Server               `yaml:"server"`
	Log         Log                  `yaml:"log"`
	Registry    Registry             `yaml:"registry"`
	Neural      Neural               `yaml:"neural"`
	Anomaly     anomaly.Thresholds   `yaml:"anomaly"`
	AI          AI                   `yaml:"ai"`
	Connections []adapter.ConnConfig `yaml:"connections"`
}

// Server HTTP 服务
type Server struct {
	Listen          string        `yaml:"listen"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

// Log 日志
type Log struct {
	Debug bool   `yaml:"debug"`
	Level string `yaml:"level"`
}

// Registry 连接注册表
type Registry struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SlowQuery      time.Duration `yaml:"slow_query"`
}

// Neural 神经核心
type Neural struct {
	PersistSnapshots bool `yaml:"persist_snapshots"`
}

// AI 大模型精化
type AI struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Endpoint  string `yaml:"endpoint"`
	MaxTables int    `yaml:"max_tables"`
}

// Enabled 是否配置了 API Key
func (a AI) Enabled() bool { return a.APIKey != "" }

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: Server{Listen: ":8080", MetricsInterval: 2 * time.Second},
		Log:    Log{Level: "info"},
		Registry: Registry{
			ConnectTimeout: registry.MaxConnectTimeout,
			SlowQuery:      registry.DefaultSlowQuery,
		},
		Anomaly: anomaly.DefaultThresholds(),
		AI: AI{MaxTables: 60},
	}
}

// Load 读取配置文件，path 为空时只用默认值和环境变量
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖文件配置
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Server.Listen = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvDebug); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalid, EnvDebug, v)
		}
		c.Log.Debug = b
	}
	if v, ok := lookup(EnvDashScope); ok && v != "" {
		c.AI.APIKey = v
	}
	return nil
}

// Validate 校验配置，连接超时超过上限时截断
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("%w: server.listen 为空", ErrInvalid)
	}
	if c.Server.MetricsInterval <= 0 {
		return fmt.Errorf("%w: server.metrics_interval 必须为正", ErrInvalid)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	if c.Registry.ConnectTimeout <= 0 || c.Registry.ConnectTimeout > registry.MaxConnectTimeout {
		c.Registry.ConnectTimeout = registry.MaxConnectTimeout
	}
	if c.Registry.SlowQuery <= 0 {
		c.Registry.SlowQuery = registry.DefaultSlowQuery
	}
	a := c.Anomaly
	if a.Window <= 0 || a.MinSamples <= 1 || a.MinSamples > a.Window || a.Retain <= 0 {
		return fmt.Errorf("%w: anomaly window=%d min_samples=%d retain=%d", ErrInvalid, a.Window, a.MinSamples, a.Retain)
	}
	if a.ZThreshold <= 0 || a.CriticalZ < a.ZThreshold {
		return fmt.Errorf("%w: anomaly z_threshold=%.2f critical_z=%.2f", ErrInvalid, a.ZThreshold, a.CriticalZ)
	}
	for i, conn := range c.Connections {
		if err := conn.Validate(); err != nil {
			return fmt.Errorf("%w: connections[%d]: %v", ErrInvalid, i, err)
		}
	}
	return nil
}

// Thresholds 异常检测参数
func (c *Config) Thresholds() anomaly.Thresholds { return c.Anomaly }
