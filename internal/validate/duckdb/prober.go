// Package duckdb probes candidate SQL against an in-memory DuckDB
// instance primed with the schema snapshot. DuckDB speaks a
// PostgreSQL-flavored dialect, which makes PREPARE a cheap structural
// check without touching the real data source.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querymesh/querymesh/internal/schema"
)

type Prober struct{}

func NewProber() *Prober { return &Prober{} }

// Probe creates empty shadow tables for the snapshot and prepares the
// statement against them. Preparation fails on syntax errors, unknown
// columns, and type mismatches.
func (p *Prober) Probe(ctx context.Context, sqlText string, s *schema.Schema) error {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("open probe database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if s != nil {
		for _, table := range s.Tables {
			ddl := shadowTableDDL(table)
			if _, err := db.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("create shadow table %s: %w", table.Name, err)
			}
		}
	}

	stmt, err := db.PrepareContext(ctx, sqlText)
	if err != nil {
		return err
	}
	return stmt.Close()
}

func shadowTableDDL(table schema.Table) string {
	columns := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		columns = append(columns, fmt.Sprintf("%q %s", column.Name, shadowColumnType(column.DataType)))
	}
	return fmt.Sprintf("CREATE TABLE %q (%s)", table.Name, strings.Join(columns, ", "))
}

// shadowColumnType maps source column types onto DuckDB types. Unknown
// types fall back to VARCHAR, which still catches structural errors.
func shadowColumnType(dataType string) string {
	switch strings.ToLower(strings.TrimSpace(dataType)) {
	case "smallint", "int2":
		return "SMALLINT"
	case "integer", "int", "int4", "serial":
		return "INTEGER"
	case "bigint", "int8", "bigserial":
		return "BIGINT"
	case "real", "float4":
		return "FLOAT"
	case "double precision", "float8", "double":
		return "DOUBLE"
	case "numeric", "decimal", "money":
		return "DECIMAL(18,3)"
	case "boolean", "bool":
		return "BOOLEAN"
	case "date":
		return "DATE"
	case "time", "time without time zone":
		return "TIME"
	case "timestamp", "timestamp without time zone", "timestamp with time zone", "timestamptz", "datetime":
		return "TIMESTAMP"
	case "uuid":
		return "UUID"
	case "bytea", "blob":
		return "BLOB"
	case "json", "jsonb":
		return "JSON"
	default:
		return "VARCHAR"
	}
}
