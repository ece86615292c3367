package adapter

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLDriver 基于 database/sql 的驱动
type SQLDriver struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLDriver 包装已打开的 *sql.DB
func NewSQLDriver(db *sql.DB, dialect Dialect) *SQLDriver {
	return &SQLDriver{db: db, dialect: dialect}
}

func openSQL(ctx context.Context, d Dialect, driverName, dsn string) (*SQLDriver, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if d == DialectSQLite {
		// 内存库每个连接都是独立的库
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLDriver(db, d), nil
}

// Dialect 返回方言
func (s *SQLDriver) Dialect() Dialect { return s.dialect }

// DB 返回底层连接池
func (s *SQLDriver) DB() *sql.DB { return s.db }

// Query 执行查询并把每行转换为 Row
func (s *SQLDriver) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return ScanRows(rows)
}

// Exec 执行写语句
func (s *SQLDriver) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Close 关闭连接
func (s *SQLDriver) Close() error {
	return s.db.Close()
}

// ScanRows 把 *sql.Rows 转换为列名映射，[]byte 统一转为 string
func ScanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("扫描结果失败: %w", err)
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
