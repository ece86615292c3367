package adapter

import (
	_ "modernc.org/sqlite"
)

// SQLite 没有行数估算器，RowCounts 返回空集，行数记为 0
var sqliteCatalog = CatalogQueries{
	Tables: `
		SELECT name AS table_name, NULL AS schema_name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`,
	Columns: `
		SELECT
			m.name AS table_name,
			p.name AS column_name,
			lower(p.type) AS data_type,
			CASE WHEN p."notnull" = 0 AND p.pk = 0 THEN 'YES' ELSE 'NO' END AS is_nullable,
			p.dflt_value AS column_default,
			NULL AS max_length
		FROM sqlite_master m
		JOIN pragma_table_info(m.name) p
		WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
		ORDER BY m.name, p.cid`,
	PrimaryKeys: `
		SELECT m.name AS table_name, p.name AS column_name
		FROM sqlite_master m
		JOIN pragma_table_info(m.name) p
		WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%' AND p.pk > 0
		ORDER BY m.name, p.pk`,
	ForeignKeys: `
		SELECT
			m.name AS table_name,
			f."from" AS column_name,
			f."table" AS referenced_table,
			f."to" AS referenced_column
		FROM sqlite_master m
		JOIN pragma_foreign_key_list(m.name) f
		WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
		ORDER BY m.name, f.id, f.seq`,
	RowCounts: `SELECT NULL AS table_name, 0 AS row_count WHERE 0`,
}
