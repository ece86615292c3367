package schema

import (
	"fmt"
	"sort"
	"strings"
)

// TableType 表类型
type TableType string

const (
	TableTypeFact      TableType = "fact"
	TableTypeDimension TableType = "dimension"
	TableTypeUnknown   TableType = "unknown"
)

// Schema 一个数据库的结构快照
type Schema struct {
	Database      string         `json:"database"`
	Dialect       string         `json:"dialect"`
	Tables        []*Table       `json:"tables"`
	Relationships []Relationship `json:"relationships"`
}

// Table 表
type Table struct {
	Name           string       `json:"name"`
	SchemaName     string       `json:"schema_name,omitempty"`
	Columns        []Column     `json:"columns"`
	PrimaryKeys    []string     `json:"primary_keys"`
	ForeignKeys    []ForeignKey `json:"foreign_keys"`
	RowCount       int64        `json:"row_count"`
	NumericColumns []string     `json:"numeric_columns"`

	// 以下由分类器填充
	TableType       TableType `json:"table_type"`
	BusinessEntity  string    `json:"business_entity"`
	ImportanceScore int       `json:"importance_score"`
}

// Column 列
type Column struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Nullable  bool    `json:"nullable"`
	Default   *string `json:"default,omitempty"`
	MaxLength *int64  `json:"max_length,omitempty"`
	IsPK      bool    `json:"is_pk"`
	IsFK      bool    `json:"is_fk"`
}

// ForeignKey 外键
type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Relationship 由外键派生的描述性关系
type Relationship struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

// BoilerplateColumns 计算共享列时忽略的通用列
var BoilerplateColumns = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
}

// Lookup 按名称查找表
func (s *Schema) Lookup(name string) *Table {
	if s == nil {
		return nil
	}
	i := sort.Search(len(s.Tables), func(i int) bool { return s.Tables[i].Name >= name })
	if i < len(s.Tables) && s.Tables[i].Name == name {
		return s.Tables[i]
	}
	// 表未排序时退化为线性查找
	for _, t := range s.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// TableNames 表名列表（与 Tables 同序）
func (s *Schema) TableNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// Len 表数量
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Tables)
}

// TotalForeignKeys 外键总数
func (s *Schema) TotalForeignKeys() int {
	n := 0
	for _, t := range s.Tables {
		n += len(t.ForeignKeys)
	}
	return n
}

// MeanRowCount 平均行数
func (s *Schema) MeanRowCount() float64 {
	if s.Len() == 0 {
		return 0
	}
	var sum float64
	for _, t := range s.Tables {
		sum += float64(t.RowCount)
	}
	return sum / float64(len(s.Tables))
}

// IncomingForeignKeys 每张表被引用的次数
func (s *Schema) IncomingForeignKeys() map[string]int {
	in := make(map[string]int, s.Len())
	for _, t := range s.Tables {
		for _, fk := range t.ForeignKeys {
			in[fk.ReferencedTable]++
		}
	}
	return in
}

// Sort 按表名排序并重建关系列表
func (s *Schema) Sort() {
	sort.SliceStable(s.Tables, func(i, j int) bool { return s.Tables[i].Name < s.Tables[j].Name })
	s.Relationships = s.Relationships[:0]
	for _, t := range s.Tables {
		for _, fk := range t.ForeignKeys {
			s.Relationships = append(s.Relationships, Relationship{
				FromTable:  t.Name,
				FromColumn: fk.Column,
				ToTable:    fk.ReferencedTable,
				ToColumn:   fk.ReferencedColumn,
			})
		}
	}
}

// Validate 校验关系引用的表都存在
func (s *Schema) Validate() error {
	seen := make(map[string]bool, s.Len())
	for _, t := range s.Tables {
		if seen[t.Name] {
			return fmt.Errorf("表名重复: %s", t.Name)
		}
		seen[t.Name] = true
	}
	for _, r := range s.Relationships {
		if !seen[r.FromTable] || !seen[r.ToTable] {
			return fmt.Errorf("关系 %s.%s -> %s.%s 引用了不存在的表",
				r.FromTable, r.FromColumn, r.ToTable, r.ToColumn)
		}
	}
	return nil
}

// ColumnNames 列名
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumnContaining 是否存在名称包含任一关键词的列
func (t *Table) HasColumnContaining(words ...string) bool {
	for _, c := range t.Columns {
		lower := strings.ToLower(c.Name)
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
	}
	return false
}

// SharedColumns 两表共有的非通用列，按名称排序
func SharedColumns(a, b *Table) []string {
	names := make(map[string]bool, len(a.Columns))
	for _, c := range a.Columns {
		n := strings.ToLower(c.Name)
		if !BoilerplateColumns[n] {
			names[n] = true
		}
	}
	var shared []string
	for _, c := range b.Columns {
		n := strings.ToLower(c.Name)
		if names[n] {
			shared = append(shared, n)
			delete(names, n)
		}
	}
	sort.Strings(shared)
	return shared
}

// Clone 深拷贝，用于缓存原子替换
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := &Schema{
		Database:      s.Database,
		Dialect:       s.Dialect,
		Tables:        make([]*Table, len(s.Tables)),
		Relationships: append([]Relationship(nil), s.Relationships...),
	}
	for i, t := range s.Tables {
		c := *t
		c.Columns = append([]Column(nil), t.Columns...)
		c.PrimaryKeys = append([]string(nil), t.PrimaryKeys...)
		c.ForeignKeys = append([]ForeignKey(nil), t.ForeignKeys...)
		c.NumericColumns = append([]string(nil), t.NumericColumns...)
		out.Tables[i] = &c
	}
	return out
}
