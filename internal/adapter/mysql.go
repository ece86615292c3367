package adapter

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

var mysqlCatalog = CatalogQueries{
	Tables: `
		SELECT TABLE_NAME AS table_name, TABLE_SCHEMA AS schema_name
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`,
	Columns: `
		SELECT
			TABLE_NAME AS table_name,
			COLUMN_NAME AS column_name,
			DATA_TYPE AS data_type,
			IS_NULLABLE AS is_nullable,
			COLUMN_DEFAULT AS column_default,
			CHARACTER_MAXIMUM_LENGTH AS max_length
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE()
		ORDER BY TABLE_NAME, ORDINAL_POSITION`,
	PrimaryKeys: `
		SELECT TABLE_NAME AS table_name, COLUMN_NAME AS column_name
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE() AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY TABLE_NAME, ORDINAL_POSITION`,
	ForeignKeys: `
		SELECT
			TABLE_NAME AS table_name,
			COLUMN_NAME AS column_name,
			REFERENCED_TABLE_NAME AS referenced_table,
			REFERENCED_COLUMN_NAME AS referenced_column
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = DATABASE() AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY TABLE_NAME, ORDINAL_POSITION`,
	RowCounts: `
		SELECT TABLE_NAME AS table_name, COALESCE(TABLE_ROWS, 0) AS row_count
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'`,
	Activity: `
		SELECT TABLE_NAME AS table_name, UPDATE_TIME AS last_interaction
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' AND UPDATE_TIME IS NOT NULL`,
}

func mysqlDSN(cfg ConnConfig) string {
	c := mysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Params = map[string]string{}
	for k, v := range cfg.Options {
		c.Params[strings.ToLower(k)] = v
	}
	return c.FormatDSN()
}
