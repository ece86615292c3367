package introspect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/registry"
	"data-intelligence/internal/schema"

	"go.uber.org/zap"
)

// ErrIntrospection 元数据获取失败
var ErrIntrospection = errors.New("获取数据库元数据失败")

// Source 目录查询来源，由连接注册表实现
type Source interface {
	Dialect(h registry.Handle) (adapter.Dialect, error)
	Query(ctx context.Context, h registry.Handle, query string, args ...any) ([]adapter.Row, error)
	Do(ctx context.Context, h registry.Handle, fn func(context.Context, adapter.Driver) error, label string) error
}

// Classifier 同步分类器
type Classifier interface {
	Classify(s *schema.Schema)
}

// Introspector 结构采集器
type Introspector struct {
	src        Source
	classifier Classifier
	logger     *zap.SugaredLogger
}

// New 创建采集器；classifier 可为 nil
func New(src Source, classifier Classifier, logger *zap.SugaredLogger) *Introspector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Introspector{src: src, classifier: classifier, logger: logger}
}

// Introspect 读取整个库的结构：SQL 方言固定发出五条目录查询，在客户端按表名拼装
func (i *Introspector) Introspect(ctx context.Context, h registry.Handle, database string) (*schema.Schema, error) {
	d, err := i.src.Dialect(h)
	if err != nil {
		return nil, err
	}

	var s *schema.Schema
	if d == adapter.DialectMongo {
		s, err = i.introspectDocuments(ctx, h)
	} else {
		s, err = i.introspectSQL(ctx, h, d)
	}
	if err != nil {
		return nil, err
	}
	s.Database = database
	s.Dialect = string(d)
	s.Sort()

	if i.classifier != nil {
		i.classifier.Classify(s)
	}
	i.logger.Infow("结构采集完成", "handle", h.String(), "tables", len(s.Tables), "relationships", len(s.Relationships))
	return s, nil
}

func (i *Introspector) introspectSQL(ctx context.Context, h registry.Handle, d adapter.Dialect) (*schema.Schema, error) {
	q, err := adapter.Catalog(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntrospection, err)
	}

	tableRows, err := i.src.Query(ctx, h, q.Tables)
	if err != nil {
		return nil, fmt.Errorf("%w: 表列表: %v", ErrIntrospection, err)
	}
	columnRows, err := i.src.Query(ctx, h, q.Columns)
	if err != nil {
		return nil, fmt.Errorf("%w: 列信息: %v", ErrIntrospection, err)
	}

	// 以下三项失败时返回部分结构
	pkRows, err := i.src.Query(ctx, h, q.PrimaryKeys)
	if err != nil {
		i.logger.Warnw("主键查询失败，返回部分结构", "handle", h.String(), "error", err)
	}
	fkRows, err := i.src.Query(ctx, h, q.ForeignKeys)
	if err != nil {
		i.logger.Warnw("外键查询失败，返回部分结构", "handle", h.String(), "error", err)
	}
	countRows, err := i.src.Query(ctx, h, q.RowCounts)
	if err != nil {
		i.logger.Warnw("行数估算失败，返回部分结构", "handle", h.String(), "error", err)
	}

	return assemble(string(d), tableRows, columnRows, pkRows, fkRows, countRows, i.logger), nil
}

// assemble 按表名拼装五个查询的结果
func assemble(dialect string, tableRows, columnRows, pkRows, fkRows, countRows []adapter.Row, logger *zap.SugaredLogger) *schema.Schema {
	s := &schema.Schema{Tables: []*schema.Table{}}
	byName := make(map[string]*schema.Table, len(tableRows))
	for _, r := range tableRows {
		name := r.String("table_name")
		if name == "" {
			continue
		}
		if _, dup := byName[name]; dup {
			logger.Debugw("同名表出现在多个 schema，保留第一个", "table", name, "schema", r.String("schema_name"))
			continue
		}
		t := &schema.Table{Name: name, SchemaName: r.String("schema_name")}
		byName[name] = t
		s.Tables = append(s.Tables, t)
	}

	colIndex := make(map[string]map[string]int, len(byName))
	for _, r := range columnRows {
		t := byName[r.String("table_name")]
		if t == nil {
			continue
		}
		c := schema.Column{
			Name:     r.String("column_name"),
			Type:     r.String("data_type"),
			Nullable: r.Bool("is_nullable"),
		}
		if v, ok := r["column_default"]; ok && v != nil {
			def := adapter.AsString(v)
			c.Default = &def
		}
		if v, ok := adapter.AsInt64(r["max_length"]); ok && r["max_length"] != nil {
			c.MaxLength = &v
		}
		if colIndex[t.Name] == nil {
			colIndex[t.Name] = make(map[string]int)
		}
		if _, dup := colIndex[t.Name][c.Name]; dup {
			continue
		}
		colIndex[t.Name][c.Name] = len(t.Columns)
		t.Columns = append(t.Columns, c)
		if schema.IsNumericType(dialect, c.Type) {
			t.NumericColumns = append(t.NumericColumns, c.Name)
		}
	}

	for _, r := range pkRows {
		t := byName[r.String("table_name")]
		if t == nil {
			continue
		}
		col := r.String("column_name")
		idx, ok := colIndex[t.Name][col]
		if !ok || t.Columns[idx].IsPK {
			continue
		}
		t.Columns[idx].IsPK = true
		t.PrimaryKeys = append(t.PrimaryKeys, col)
	}

	type fkKey struct{ table, col, ref, refCol string }
	seenFK := make(map[fkKey]bool)
	for _, r := range fkRows {
		t := byName[r.String("table_name")]
		ref := byName[r.String("referenced_table")]
		if t == nil || ref == nil {
			continue
		}
		fk := schema.ForeignKey{
			Column:           r.String("column_name"),
			ReferencedTable:  ref.Name,
			ReferencedColumn: r.String("referenced_column"),
		}
		if fk.ReferencedColumn == "" {
			fk.ReferencedColumn = "id"
			if len(ref.PrimaryKeys) > 0 {
				fk.ReferencedColumn = ref.PrimaryKeys[0]
			}
		}
		k := fkKey{t.Name, fk.Column, fk.ReferencedTable, fk.ReferencedColumn}
		if seenFK[k] {
			continue
		}
		seenFK[k] = true
		t.ForeignKeys = append(t.ForeignKeys, fk)
		if idx, ok := colIndex[t.Name][fk.Column]; ok {
			t.Columns[idx].IsFK = true
		}
	}

	for _, r := range countRows {
		if t := byName[r.String("table_name")]; t != nil {
			t.RowCount = max(0, r.Int64("row_count"))
		}
	}
	return s
}

// LastInteractions 每张表最近一次活动时间（方言不支持时返回空）
func (i *Introspector) LastInteractions(ctx context.Context, h registry.Handle) (map[string]time.Time, error) {
	d, err := i.src.Dialect(h)
	if err != nil {
		return nil, err
	}
	q, err := adapter.Catalog(d)
	if err != nil || q.Activity == "" {
		return map[string]time.Time{}, nil
	}
	rows, err := i.src.Query(ctx, h, q.Activity)
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		if ts, ok := adapter.AsTime(r["last_interaction"]); ok {
			out[r.String("table_name")] = ts
		}
	}
	return out, nil
}
