package schema

import "strings"

// sqlNumericTypes PostgreSQL / 标准 SQL 数值类型
var sqlNumericTypes = map[string]bool{
	"integer":          true,
	"bigint":           true,
	"numeric":          true,
	"real":             true,
	"double precision": true,
	"money":            true,
	"smallint":         true,
}

// mysqlNumericTypes MySQL 数值类型
var mysqlNumericTypes = map[string]bool{
	"int":      true,
	"bigint":   true,
	"decimal":  true,
	"float":    true,
	"double":   true,
	"smallint": true,
	"tinyint":  true,
}

// IsNumericType 判断列类型是否为数值类型。
// mysql/mongodb 用 MySQL 白名单，postgresql/sqlite 用 SQL 白名单，sqlserver 两者皆可
func IsNumericType(dialect, dataType string) bool {
	t := strings.ToLower(strings.TrimSpace(dataType))
	switch dialect {
	case "mysql", "mongodb":
		return mysqlNumericTypes[t]
	case "sqlserver":
		return mysqlNumericTypes[t] || sqlNumericTypes[t]
	default:
		return sqlNumericTypes[t]
	}
}

// IsTemporalType 类型名是否包含 timestamp/date
func IsTemporalType(dataType string) bool {
	t := strings.ToLower(dataType)
	return strings.Contains(t, "timestamp") || strings.Contains(t, "date")
}

// IsIntegerType 整数类型（用于 year 列）
func IsIntegerType(dataType string) bool {
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "int", "integer", "bigint", "smallint", "tinyint", "year":
		return true
	}
	return false
}
