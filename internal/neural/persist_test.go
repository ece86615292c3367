package neural

import (
	"context"
	"errors"
	"testing"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/registry"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postgresRegistry(t *testing.T) (*registry.Registry, registry.Handle, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r := registry.New(registry.WithConnector(func(ctx context.Context, cfg adapter.ConnConfig) (adapter.Driver, error) {
		return adapter.NewSQLDriver(db, adapter.DialectPostgres), nil
	}))
	h, err := r.Open(context.Background(), adapter.ConnConfig{
		DBType: "postgresql", Host: "db", Port: 5432, Database: "bank", Username: "u",
	})
	require.NoError(t, err)
	return r, h, mock
}

func testSnapshot() Snapshot {
	return Snapshot{
		ConnectionID: "conn_1",
		SnapshotAt:   fixedNow,
		NeuralData:   NeuralData{Gravity: map[string]float64{"a": 2}},
		CoreMetrics:  Metrics{Status: StatusComputingGravity, TablesAnalyzed: 1, TotalTables: 1},
	}
}

func TestSnapshotStoreCreatesTableOnce(t *testing.T) {
	r, h, mock := postgresRegistry(t)
	store := NewSnapshotStore(r, h, nil)

	mock.ExpectExec(createSnapshotSchema).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createSnapshotTable).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createSnapshotIndex).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(insertSnapshot).
		WithArgs("conn_1", sqlmock.AnyArg(), `{"gravity":{"a":2},"hub_score":null,"in_degree":null,"out_degree":null}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insertSnapshot).WillReturnResult(sqlmock.NewResult(2, 1))

	require.NoError(t, store.Save(context.Background(), testSnapshot()))
	require.NoError(t, store.Save(context.Background(), testSnapshot()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotStoreRetriesAfterDDLFailure(t *testing.T) {
	r, h, mock := postgresRegistry(t)
	store := NewSnapshotStore(r, h, nil)

	mock.ExpectExec(createSnapshotSchema).WillReturnError(errors.New("permission denied for database bank"))
	assert.Error(t, store.Save(context.Background(), testSnapshot()))

	mock.ExpectExec(createSnapshotSchema).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createSnapshotTable).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(createSnapshotIndex).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(insertSnapshot).WillReturnResult(sqlmock.NewResult(1, 1))
	assert.NoError(t, store.Save(context.Background(), testSnapshot()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotStoreSkipsOtherDialects(t *testing.T) {
	r := registry.New()
	h, err := r.Open(context.Background(), adapter.ConnConfig{DBType: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	defer r.CloseAll()

	store := NewSnapshotStore(r, h, nil)
	assert.NoError(t, store.Save(context.Background(), testSnapshot()))

	rows, err := r.Query(context.Background(), h, `SELECT name FROM sqlite_master`)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
