package introspect

import (
	"context"
	"fmt"
	"sort"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/registry"
	"data-intelligence/internal/schema"
)

// documentSampleSize 每个集合采样的文档数
const documentSampleSize = 5

// introspectDocuments 枚举集合，用前 5 条文档的字段类型合成列
func (i *Introspector) introspectDocuments(ctx context.Context, h registry.Handle) (*schema.Schema, error) {
	s := &schema.Schema{Tables: []*schema.Table{}}
	err := i.src.Do(ctx, h, func(ctx context.Context, drv adapter.Driver) error {
		sampler, ok := drv.(adapter.DocumentSampler)
		if !ok {
			return fmt.Errorf("%w: 驱动不支持文档采样", ErrIntrospection)
		}
		names, err := sampler.Collections(ctx)
		if err != nil {
			return fmt.Errorf("%w: 集合列表: %v", ErrIntrospection, err)
		}
		for _, name := range names {
			docs, err := sampler.Sample(ctx, name, documentSampleSize)
			if err != nil {
				i.logger.Warnw("集合采样失败", "collection", name, "error", err)
			}
			s.Tables = append(s.Tables, synthesizeTable(name, docs))
		}
		if counter, ok := drv.(adapter.RowCounter); ok {
			counts, err := counter.RowCounts(ctx)
			if err != nil {
				i.logger.Warnw("文档计数失败", "error", err)
			}
			for _, t := range s.Tables {
				t.RowCount = counts[t.Name]
			}
		}
		return nil
	}, "introspect documents")
	if err != nil {
		return nil, err
	}
	return s, nil
}

// synthesizeTable 由采样文档推断列集合，_id 在最前
func synthesizeTable(name string, docs []adapter.Row) *schema.Table {
	types := make(map[string]string)
	seen := make(map[string]int)
	for _, d := range docs {
		for k, v := range d {
			seen[k]++
			if t := adapter.InferFieldType(v); t != "null" && types[k] == "" {
				types[k] = t
			}
		}
	}
	fields := make([]string, 0, len(seen))
	for k := range seen {
		if k != "_id" {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	if _, ok := seen["_id"]; ok || len(docs) == 0 {
		fields = append([]string{"_id"}, fields...)
		if types["_id"] == "" {
			types["_id"] = "objectid"
		}
	}

	t := &schema.Table{Name: name}
	for _, f := range fields {
		typ := types[f]
		if typ == "" {
			typ = "null"
		}
		c := schema.Column{
			Name:     f,
			Type:     typ,
			Nullable: seen[f] < len(docs),
			IsPK:     f == "_id",
		}
		t.Columns = append(t.Columns, c)
		if c.IsPK {
			t.PrimaryKeys = append(t.PrimaryKeys, f)
		}
		if schema.IsNumericType(string(adapter.DialectMongo), typ) {
			t.NumericColumns = append(t.NumericColumns, f)
		}
	}
	return t
}
