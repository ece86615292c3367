package adapter

import (
	"fmt"
	"net/url"

	_ "github.com/lib/pq"
)

const pgSystemSchemas = `('pg_catalog', 'information_schema', 'evolution')`

var postgresCatalog = CatalogQueries{
	Tables: `
		SELECT table_name, table_schema AS schema_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
			AND table_schema NOT IN ` + pgSystemSchemas + `
			AND table_schema NOT LIKE 'pg_toast%'
		ORDER BY table_name`,
	Columns: `
		SELECT
			table_name,
			column_name,
			data_type,
			is_nullable,
			column_default,
			character_maximum_length AS max_length
		FROM information_schema.columns
		WHERE table_schema NOT IN ` + pgSystemSchemas + `
			AND table_schema NOT LIKE 'pg_toast%'
		ORDER BY table_name, ordinal_position`,
	PrimaryKeys: `
		SELECT kcu.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema NOT IN ` + pgSystemSchemas + `
		ORDER BY kcu.table_name, kcu.ordinal_position`,
	ForeignKeys: `
		SELECT
			kcu.table_name,
			kcu.column_name,
			ccu.table_name AS referenced_table,
			ccu.column_name AS referenced_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.constraint_schema = tc.constraint_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema NOT IN ` + pgSystemSchemas + `
		ORDER BY kcu.table_name, kcu.ordinal_position`,
	RowCounts: `
		SELECT c.relname AS table_name, GREATEST(c.reltuples, 0)::bigint AS row_count
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r', 'p')
			AND n.nspname NOT IN ` + pgSystemSchemas + `
			AND n.nspname NOT LIKE 'pg_toast%'`,
	Activity: `
		SELECT relname AS table_name,
			GREATEST(last_vacuum, last_autovacuum, last_analyze, last_autoanalyze) AS last_interaction
		FROM pg_stat_user_tables
		WHERE schemaname NOT IN ` + pgSystemSchemas,
}

func postgresDSN(cfg ConnConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
