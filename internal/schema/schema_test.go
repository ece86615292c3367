package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Schema {
	s := &Schema{
		Database: "shop",
		Tables: []*Table{
			{Name: "products", Columns: []Column{{Name: "id"}, {Name: "name"}, {Name: "created_at"}}},
			{Name: "orders", Columns: []Column{{Name: "id"}, {Name: "customer_id"}, {Name: "amount"}},
				ForeignKeys: []ForeignKey{{Column: "customer_id", ReferencedTable: "customers", ReferencedColumn: "id"}}},
			{Name: "customers", Columns: []Column{{Name: "id"}, {Name: "name"}, {Name: "Created_At"}}},
		},
	}
	s.Sort()
	return s
}

func TestSortAndLookup(t *testing.T) {
	s := sample()
	assert.Equal(t, []string{"customers", "orders", "products"}, s.TableNames())
	require.NotNil(t, s.Lookup("orders"))
	assert.Nil(t, s.Lookup("missing"))
	require.Len(t, s.Relationships, 1)
	assert.Equal(t, "customers", s.Relationships[0].ToTable)
	assert.NoError(t, s.Validate())
}

func TestValidateUnknownTable(t *testing.T) {
	s := sample()
	s.Relationships = append(s.Relationships, Relationship{FromTable: "orders", ToTable: "ghost"})
	assert.Error(t, s.Validate())
}

func TestSharedColumnsSkipsBoilerplate(t *testing.T) {
	s := sample()
	shared := SharedColumns(s.Lookup("customers"), s.Lookup("products"))
	assert.Equal(t, []string{"name"}, shared)
	assert.Empty(t, SharedColumns(s.Lookup("orders"), s.Lookup("customers")))
}

func TestIncomingForeignKeys(t *testing.T) {
	in := sample().IncomingForeignKeys()
	assert.Equal(t, 1, in["customers"])
	assert.Equal(t, 0, in["orders"])
}

func TestIsNumericType(t *testing.T) {
	tests := []struct {
		dialect  string
		dataType string
		expected bool
	}{
		{"postgresql", "integer", true},
		{"postgresql", "double precision", true},
		{"postgresql", "money", true},
		{"postgresql", "int", false},
		{"postgresql", "text", false},
		{"mysql", "int", true},
		{"mysql", "tinyint", true},
		{"mysql", "integer", false},
		{"mysql", "numeric", false},
		{"sqlserver", "numeric", true},
		{"sqlite", "INTEGER", true},
	}
	for _, tt := range tests {
		t.Run(tt.dialect+"_"+tt.dataType, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsNumericType(tt.dialect, tt.dataType))
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := sample()
	c := s.Clone()
	c.Tables[0].Columns[0].Name = "changed"
	c.Tables[0].RowCount = 99
	assert.Equal(t, "id", s.Tables[0].Columns[0].Name)
	assert.Zero(t, s.Tables[0].RowCount)
}
