package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Dialect 数据库方言
type Dialect string

const (
	DialectMySQL     Dialect = "mysql"
	DialectPostgres  Dialect = "postgresql"
	DialectSQLServer Dialect = "sqlserver"
	DialectSQLite    Dialect = "sqlite"
	DialectMongo     Dialect = "mongodb"
)

var (
	// ErrUnsupportedDBType 不支持的数据库类型
	ErrUnsupportedDBType = errors.New("不支持的数据库类型")
	// ErrInvalidConfig 连接配置不合法
	ErrInvalidConfig = errors.New("连接配置不合法")
	// ErrUnsupportedQuery 驱动不支持 SQL 查询（文档库）
	ErrUnsupportedQuery = errors.New("驱动不支持 SQL 查询")
)

// Row 统一的行结构，列名 -> 值
type Row map[string]any

// Driver 数据库驱动接口，屏蔽各驱动的行格式差异
type Driver interface {
	// Dialect 返回方言
	Dialect() Dialect

	// Query 执行查询，返回列名到值的映射序列
	Query(ctx context.Context, query string, args ...any) ([]Row, error)

	// Exec 执行写语句，返回影响行数
	Exec(ctx context.Context, query string, args ...any) (int64, error)

	// Close 关闭连接
	Close() error
}

// DocumentSampler 文档库采样接口
type DocumentSampler interface {
	// Collections 列出集合
	Collections(ctx context.Context) ([]string, error)

	// Sample 采样前 n 条文档
	Sample(ctx context.Context, collection string, n int) ([]Row, error)
}

// RowCounter 无法通过 SQL 目录统计行数的驱动实现该接口
type RowCounter interface {
	RowCounts(ctx context.Context) (map[string]int64, error)
}

// ConnConfig 连接配置
type ConnConfig struct {
	DBType   string            `json:"db_type" yaml:"db_type"`
	Host     string            `json:"host" yaml:"host"`
	Port     int               `json:"port" yaml:"port"`
	Database string            `json:"database" yaml:"database"`
	Username string            `json:"username" yaml:"username"`
	Password string            `json:"password" yaml:"password"`
	Schema   string            `json:"schema,omitempty" yaml:"schema,omitempty"`
	Options  map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// ParseDialect 解析数据库类型，兼容常见别名
func ParseDialect(dbType string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "sqlserver", "mssql":
		return DialectSQLServer, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "mongo", "mongodb":
		return DialectMongo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedDBType, dbType)
}

// Validate 校验连接配置
func (c ConnConfig) Validate() error {
	d, err := ParseDialect(c.DBType)
	if err != nil {
		return err
	}
	if c.Database == "" {
		return fmt.Errorf("%w: 缺少 database", ErrInvalidConfig)
	}
	switch d {
	case DialectSQLite:
		return nil
	case DialectMongo:
		if c.Host == "" {
			return fmt.Errorf("%w: 缺少 host", ErrInvalidConfig)
		}
		return nil
	}
	if c.Host == "" {
		return fmt.Errorf("%w: 缺少 host", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: 端口 %d 超出范围", ErrInvalidConfig, c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("%w: 缺少 username", ErrInvalidConfig)
	}
	return nil
}

// DisplayName 展示用的库名
func (c ConnConfig) DisplayName() string {
	if c.Host == "" {
		return c.Database
	}
	return fmt.Sprintf("%s@%s", c.Database, c.Host)
}

// Connect 按配置建立连接并 ping，超时由 ctx 控制
func Connect(ctx context.Context, cfg ConnConfig) (Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, _ := ParseDialect(cfg.DBType)
	switch d {
	case DialectMySQL:
		return openSQL(ctx, d, "mysql", mysqlDSN(cfg))
	case DialectPostgres:
		return openSQL(ctx, d, "postgres", postgresDSN(cfg))
	case DialectSQLServer:
		return openSQL(ctx, d, "sqlserver", sqlServerDSN(cfg))
	case DialectSQLite:
		return openSQL(ctx, d, "sqlite", cfg.Database)
	case DialectMongo:
		return openMongo(ctx, cfg)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedDBType, cfg.DBType)
}

// CatalogQueries 目录查询，所有结果列使用统一别名：
// table_name, schema_name, column_name, data_type, is_nullable, column_default,
// max_length, referenced_table, referenced_column, row_count, last_interaction
type CatalogQueries struct {
	Tables      string
	Columns     string
	PrimaryKeys string
	ForeignKeys string
	RowCounts   string
	// Activity 可选，每表最近一次活动时间
	Activity string
}

// Catalog 返回方言对应的目录查询
func Catalog(d Dialect) (CatalogQueries, error) {
	switch d {
	case DialectMySQL:
		return mysqlCatalog, nil
	case DialectPostgres:
		return postgresCatalog, nil
	case DialectSQLServer:
		return sqlServerCatalog, nil
	case DialectSQLite:
		return sqliteCatalog, nil
	}
	return CatalogQueries{}, fmt.Errorf("%w: %s 没有 SQL 目录", ErrUnsupportedQuery, d)
}

// QuoteIdent 按方言转义标识符
func QuoteIdent(d Dialect, name string) string {
	switch d {
	case DialectMySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case DialectSQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// QualifiedName 带 schema 的表名
func QualifiedName(d Dialect, schema, table string) string {
	if schema == "" || d == DialectSQLite || d == DialectMySQL {
		return QuoteIdent(d, table)
	}
	return QuoteIdent(d, schema) + "." + QuoteIdent(d, table)
}
