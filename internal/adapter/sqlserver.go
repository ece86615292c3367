package adapter

import (
	"fmt"
	"net/url"

	_ "github.com/denisenkom/go-mssqldb"
)

var sqlServerCatalog = CatalogQueries{
	Tables: `
		SELECT TABLE_NAME AS table_name, TABLE_SCHEMA AS schema_name
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`,
	Columns: `
		SELECT
			TABLE_NAME AS table_name,
			COLUMN_NAME AS column_name,
			DATA_TYPE AS data_type,
			IS_NULLABLE AS is_nullable,
			COLUMN_DEFAULT AS column_default,
			CHARACTER_MAXIMUM_LENGTH AS max_length
		FROM INFORMATION_SCHEMA.COLUMNS
		ORDER BY TABLE_NAME, ORDINAL_POSITION`,
	PrimaryKeys: `
		SELECT ku.TABLE_NAME AS table_name, ku.COLUMN_NAME AS column_name
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE ku
			ON tc.CONSTRAINT_NAME = ku.CONSTRAINT_NAME
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		ORDER BY ku.TABLE_NAME, ku.ORDINAL_POSITION`,
	ForeignKeys: `
		SELECT
			OBJECT_NAME(fk.parent_object_id) AS table_name,
			COL_NAME(fkc.parent_object_id, fkc.parent_column_id) AS column_name,
			OBJECT_NAME(fk.referenced_object_id) AS referenced_table,
			COL_NAME(fkc.referenced_object_id, fkc.referenced_column_id) AS referenced_column
		FROM sys.foreign_keys fk
		JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id`,
	RowCounts: `
		SELECT t.name AS table_name, SUM(p.rows) AS row_count
		FROM sys.partitions p
		JOIN sys.tables t ON p.object_id = t.object_id
		WHERE p.index_id IN (0, 1)
		GROUP BY t.name`,
}

func sqlServerDSN(cfg ConnConfig) string {
	q := url.Values{}
	q.Set("database", cfg.Database)
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: q.Encode(),
	}
	return u.String()
}
