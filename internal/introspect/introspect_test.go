package introspect

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/registry"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockRegistry(t *testing.T, d adapter.Dialect) (*registry.Registry, registry.Handle, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	r := registry.New(registry.WithConnector(func(ctx context.Context, cfg adapter.ConnConfig) (adapter.Driver, error) {
		return adapter.NewSQLDriver(db, d), nil
	}))
	h, err := r.Open(context.Background(), adapter.ConnConfig{
		DBType: string(d), Host: "db", Port: 5432, Database: "shop", Username: "u",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return r, h, mock
}

func expectStar(mock sqlmock.Sqlmock, q adapter.CatalogQueries, fkErr error) {
	mock.ExpectQuery(q.Tables).WillReturnRows(sqlmock.NewRows([]string{"table_name", "schema_name"}).
		AddRow("customers", "public").
		AddRow("orders", "public").
		AddRow("products", "public"))
	mock.ExpectQuery(q.Columns).WillReturnRows(sqlmock.NewRows(
		[]string{"table_name", "column_name", "data_type", "is_nullable", "column_default", "max_length"}).
		AddRow("customers", "id", "integer", "NO", nil, nil).
		AddRow("orders", "id", "integer", "NO", nil, nil).
		AddRow("orders", "customer_id", "integer", "NO", nil, nil).
		AddRow("orders", "amount", "numeric", "YES", "0", nil).
		AddRow("products", "id", "integer", "NO", nil, nil).
		AddRow("products", "title", "character varying", "YES", nil, 120))
	mock.ExpectQuery(q.PrimaryKeys).WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}).
		AddRow("customers", "id").
		AddRow("orders", "id").
		AddRow("products", "id"))
	if fkErr != nil {
		mock.ExpectQuery(q.ForeignKeys).WillReturnError(fkErr)
	} else {
		mock.ExpectQuery(q.ForeignKeys).WillReturnRows(sqlmock.NewRows(
			[]string{"table_name", "column_name", "referenced_table", "referenced_column"}).
			AddRow("orders", "customer_id", "customers", "id").
			AddRow("orders", "customer_id", "customers", "id").
			AddRow("orders", "ghost_id", "ghosts", "id"))
	}
	mock.ExpectQuery(q.RowCounts).WillReturnRows(sqlmock.NewRows([]string{"table_name", "row_count"}).
		AddRow("customers", int64(1000)).
		AddRow("orders", int64(10000)).
		AddRow("products", int64(200)))
}

func TestIntrospectPostgresFiveQueries(t *testing.T) {
	r, h, mock := mockRegistry(t, adapter.DialectPostgres)
	q, err := adapter.Catalog(adapter.DialectPostgres)
	require.NoError(t, err)
	expectStar(mock, q, nil)

	s, err := New(r, nil, nil).Introspect(context.Background(), h, "shop")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []string{"customers", "orders", "products"}, s.TableNames())
	orders := s.Lookup("orders")
	require.NotNil(t, orders)
	assert.Equal(t, int64(10000), orders.RowCount)
	assert.Equal(t, []string{"id"}, orders.PrimaryKeys)
	require.Len(t, orders.ForeignKeys, 1, "duplicate and dangling FKs are dropped")
	assert.Equal(t, "customers", orders.ForeignKeys[0].ReferencedTable)
	assert.True(t, orders.Columns[1].IsFK)
	assert.Equal(t, []string{"id", "customer_id", "amount"}, orders.NumericColumns)
	require.NotNil(t, orders.Columns[2].Default)
	assert.True(t, orders.Columns[2].Nullable)

	products := s.Lookup("products")
	require.NotNil(t, products.Columns[1].MaxLength)
	assert.Equal(t, int64(120), *products.Columns[1].MaxLength)
	assert.Equal(t, []string{"id"}, products.NumericColumns)

	require.Len(t, s.Relationships, 1)
	assert.NoError(t, s.Validate())
}

func TestIntrospectPartialWhenForeignKeysFail(t *testing.T) {
	r, h, mock := mockRegistry(t, adapter.DialectPostgres)
	q, _ := adapter.Catalog(adapter.DialectPostgres)
	expectStar(mock, q, errors.New("permission denied"))

	s, err := New(r, nil, nil).Introspect(context.Background(), h, "shop")
	require.NoError(t, err)
	assert.Len(t, s.Tables, 3)
	assert.Empty(t, s.Relationships)
	assert.Equal(t, int64(1000), s.Lookup("customers").RowCount)
}

func TestIntrospectFailsWithoutColumns(t *testing.T) {
	r, h, mock := mockRegistry(t, adapter.DialectMySQL)
	q, _ := adapter.Catalog(adapter.DialectMySQL)
	mock.ExpectQuery(q.Tables).WillReturnRows(sqlmock.NewRows([]string{"table_name", "schema_name"}).AddRow("a", "shop"))
	mock.ExpectQuery(q.Columns).WillReturnError(sql.ErrConnDone)

	_, err := New(r, nil, nil).Introspect(context.Background(), h, "shop")
	assert.ErrorIs(t, err, ErrIntrospection)
}

func TestIntrospectEmptyDatabase(t *testing.T) {
	r, h, mock := mockRegistry(t, adapter.DialectMySQL)
	q, _ := adapter.Catalog(adapter.DialectMySQL)
	mock.ExpectQuery(q.Tables).WillReturnRows(sqlmock.NewRows([]string{"table_name", "schema_name"}))
	mock.ExpectQuery(q.Columns).WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}))
	mock.ExpectQuery(q.PrimaryKeys).WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}))
	mock.ExpectQuery(q.ForeignKeys).WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name"}))
	mock.ExpectQuery(q.RowCounts).WillReturnRows(sqlmock.NewRows([]string{"table_name", "row_count"}))

	s, err := New(r, nil, nil).Introspect(context.Background(), h, "shop")
	require.NoError(t, err)
	assert.NotNil(t, s.Tables)
	assert.Empty(t, s.Tables)
}

func TestIntrospectSQLiteIsStable(t *testing.T) {
	r := registry.New()
	h, err := r.Open(context.Background(), adapter.ConnConfig{DBType: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	defer r.CloseAll()

	ctx := context.Background()
	for _, ddl := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL, created_at TIMESTAMP)`,
		`CREATE TABLE accounts (id INTEGER PRIMARY KEY, user_id INTEGER REFERENCES users(id), balance REAL)`,
		`CREATE TABLE audit (id INTEGER PRIMARY KEY, account_id INTEGER REFERENCES accounts)`,
	} {
		_, err := r.Exec(ctx, h, ddl)
		require.NoError(t, err)
	}

	in := New(r, nil, nil)
	s1, err := in.Introspect(ctx, h, "bank")
	require.NoError(t, err)
	s2, err := in.Introspect(ctx, h, "bank")
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	assert.Equal(t, []string{"accounts", "audit", "users"}, s1.TableNames())
	accounts := s1.Lookup("accounts")
	require.Len(t, accounts.ForeignKeys, 1)
	assert.Equal(t, "users", accounts.ForeignKeys[0].ReferencedTable)
	assert.Equal(t, []string{"id", "user_id", "balance"}, accounts.NumericColumns)

	audit := s1.Lookup("audit")
	require.Len(t, audit.ForeignKeys, 1)
	assert.Equal(t, "id", audit.ForeignKeys[0].ReferencedColumn, "implicit reference resolves to the primary key")

	users := s1.Lookup("users")
	assert.False(t, users.Columns[1].Nullable)
	assert.True(t, users.Columns[2].Nullable)

	acts, err := in.LastInteractions(ctx, h)
	require.NoError(t, err)
	assert.Empty(t, acts)
}

func TestSynthesizeTableFromDocuments(t *testing.T) {
	docs := []adapter.Row{
		{"_id": "a", "name": "x", "amount": int32(3), "created": time.Now()},
		{"_id": "b", "amount": int64(7), "tags": []any{"x"}},
	}
	tbl := synthesizeTable("payments", docs)
	assert.Equal(t, []string{"_id", "amount", "created", "name", "tags"}, tbl.ColumnNames())
	assert.Equal(t, []string{"_id"}, tbl.PrimaryKeys)
	assert.Equal(t, []string{"amount"}, tbl.NumericColumns)
	assert.Equal(t, "int", tbl.Columns[1].Type)
	assert.False(t, tbl.Columns[1].Nullable)
	assert.True(t, tbl.Columns[3].Nullable)
	assert.Equal(t, "timestamp", tbl.Columns[2].Type)
}
