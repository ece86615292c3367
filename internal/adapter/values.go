package adapter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// 不同驱动对同一列返回的 Go 类型不同（MySQL 文本协议返回字符串，
// PostgreSQL 返回 int64/float64），这里统一转换。

// String 取字符串值，nil 返回空串
func (r Row) String(key string) string {
	return AsString(r[key])
}

// Int64 取整数值
func (r Row) Int64(key string) int64 {
	n, _ := AsInt64(r[key])
	return n
}

// Float64 取浮点值
func (r Row) Float64(key string) float64 {
	f, _ := AsFloat64(r[key])
	return f
}

// Bool 取布尔值
func (r Row) Bool(key string) bool {
	return AsBool(r[key])
}

// AsString 转字符串
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

// AsInt64 转整数
func AsInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int:
		return int64(t), true
	case int16:
		return int64(t), true
	case int8:
		return int64(t), true
	case uint64:
		return int64(t), true
	case uint32:
		return int64(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int64(t), true
	case float32:
		return int64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string, []byte:
		s := strings.TrimSpace(AsString(t))
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

// AsFloat64 转浮点
func AsFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case string, []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(AsString(t)), 64)
		return f, err == nil
	}
	n, ok := AsInt64(v)
	return float64(n), ok
}

// AsBool 转布尔，兼容 'YES'/'NO'、1/0
func AsBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	case string, []byte:
		switch strings.ToUpper(strings.TrimSpace(AsString(t))) {
		case "YES", "Y", "TRUE", "T", "1":
			return true
		}
		return false
	}
	n, ok := AsInt64(v)
	return ok && n != 0
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// AsTime 转时间。无时区信息的值按本地时区解释
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return t, true
	case string, []byte:
		s := strings.TrimSpace(AsString(t))
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}
