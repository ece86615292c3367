package adapter

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDriver 文档库驱动，只支持采样与计数
type MongoDriver struct {
	client *mongo.Client
	db     *mongo.Database
}

func openMongo(ctx context.Context, cfg ConnConfig) (*MongoDriver, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI(cfg)))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return &MongoDriver{client: client, db: client.Database(cfg.Database)}, nil
}

func mongoURI(cfg ConnConfig) string {
	u := url.URL{Scheme: "mongodb", Host: cfg.Host}
	if cfg.Port > 0 {
		u.Host = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	q := url.Values{}
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Dialect 返回方言
func (m *MongoDriver) Dialect() Dialect { return DialectMongo }

// Query 文档库不支持 SQL
func (m *MongoDriver) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	return nil, ErrUnsupportedQuery
}

// Exec 文档库不支持 SQL
func (m *MongoDriver) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return 0, ErrUnsupportedQuery
}

// Collections 列出集合，按名称排序
func (m *MongoDriver) Collections(ctx context.Context) ([]string, error) {
	names, err := m.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Sample 采样前 n 条文档
func (m *MongoDriver) Sample(ctx context.Context, collection string, n int) ([]Row, error) {
	cur, err := m.db.Collection(collection).Find(ctx, bson.D{}, options.Find().SetLimit(int64(n)))
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(docs))
	for _, d := range docs {
		row := make(Row, len(d))
		for k, v := range d {
			if dt, ok := v.(primitive.DateTime); ok {
				row[k] = dt.Time()
				continue
			}
			row[k] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// RowCounts 每个集合的估算文档数
func (m *MongoDriver) RowCounts(ctx context.Context) (map[string]int64, error) {
	names, err := m.Collections(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(names))
	for _, name := range names {
		n, err := m.db.Collection(name).EstimatedDocumentCount(ctx)
		if err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, nil
}

// Close 断开连接
func (m *MongoDriver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// InferFieldType 根据文档字段值推断列类型名
func InferFieldType(v any) string {
	switch v.(type) {
	case int32, int:
		return "int"
	case int64:
		return "bigint"
	case float64, float32:
		return "double"
	case primitive.Decimal128:
		return "decimal"
	case bool:
		return "boolean"
	case time.Time, primitive.DateTime, primitive.Timestamp:
		return "timestamp"
	case primitive.ObjectID:
		return "objectid"
	case bson.M, bson.D, map[string]any:
		return "object"
	case bson.A, []any:
		return "array"
	case nil:
		return "null"
	}
	return "string"
}
