package schema

import (
	"fmt"
	"strings"
	"testing"
)

func sampleSchema() *Schema {
	return &Schema{
		Version: "abc123",
		Tables: []Table{
			{
				Name:       "users",
				PrimaryKey: []string{"id"},
				Columns: []Column{
					{Name: "id", DataType: "integer"},
					{Name: "email", DataType: "text"},
				},
				RowEstimate: 1000,
			},
			{
				Name:       "orders",
				PrimaryKey: []string{"id"},
				Columns: []Column{
					{Name: "id", DataType: "integer"},
					{Name: "user_id", DataType: "integer", Nullable: true, References: &ForeignKey{Table: "users", Column: "id"}},
					{Name: "total", DataType: "numeric", Nullable: true},
				},
			},
		},
		Relationships: []Relationship{
			{FromTable: "orders", FromColumn: "user_id", ToTable: "users", ToColumn: "id", Cardinality: "many-to-one"},
		},
	}
}

func TestDescribeForPromptIncludesTablesAndRelationships(t *testing.T) {
	description := DescribeForPrompt(sampleSchema(), 50, "show user emails")

	for _, fragment := range []string{
		"Table users (~1000 rows):",
		"id integer (primary key, not null)",
		"email text (not null)",
		"Table orders:",
		"user_id integer (references users.id)",
		"orders.user_id references users.id (many-to-one)",
		"version abc123",
	} {
		if !strings.Contains(description, fragment) {
			t.Fatalf("description missing %q:\n%s", fragment, description)
		}
	}
}

func TestDescribeForPromptBoundsTableCount(t *testing.T) {
	s := &Schema{Version: "v"}
	for i := 0; i < 80; i++ {
		s.Tables = append(s.Tables, Table{
			Name:    fmt.Sprintf("table_%02d", i),
			Columns: []Column{{Name: "id", DataType: "integer"}},
		})
	}
	s.Tables = append(s.Tables, Table{
		Name:    "customers",
		Columns: []Column{{Name: "id", DataType: "integer"}, {Name: "region", DataType: "text", Nullable: true}},
	})

	description := DescribeForPrompt(s, 10, "count customers by region")
	if !strings.Contains(description, "Table customers") {
		t.Fatalf("keyword-matched table should survive ranking:\n%s", description)
	}
	if got := strings.Count(description, "Table "); got > 11 {
		t.Fatalf("described tables = %d, want <= 11", got)
	}
}

func TestDescribeForPromptPullsInForeignKeyTargets(t *testing.T) {
	s := &Schema{Version: "v"}
	for i := 0; i < 60; i++ {
		s.Tables = append(s.Tables, Table{
			Name:    fmt.Sprintf("noise_%02d", i),
			Columns: []Column{{Name: "id", DataType: "integer"}},
		})
	}
	s.Tables = append(s.Tables,
		Table{Name: "invoices", Columns: []Column{
			{Name: "id", DataType: "integer"},
			{Name: "account_id", DataType: "integer", References: &ForeignKey{Table: "accounts", Column: "id"}},
		}},
		Table{Name: "accounts", Columns: []Column{{Name: "id", DataType: "integer"}}},
	)

	description := DescribeForPrompt(s, 5, "unpaid invoices")
	if !strings.Contains(description, "Table invoices") {
		t.Fatalf("invoices should be selected:\n%s", description)
	}
	if !strings.Contains(description, "Table accounts") {
		t.Fatalf("foreign key target accounts should be pulled in:\n%s", description)
	}
}

func TestDescribeForPromptEmptySchema(t *testing.T) {
	if got := DescribeForPrompt(&Schema{}, 50, "anything"); !strings.Contains(got, "no tables") {
		t.Fatalf("empty schema description = %q", got)
	}
}
