package schema

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Column is one column of an extracted table.
type Column struct {
	Name       string
	DataType   string
	Nullable   bool
	Default    string
	References *ForeignKey
}

type ForeignKey struct {
	Table  string
	Column string
}

type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  []string
	Indexes     []Index
	RowEstimate int64
}

// Relationship is a foreign-key edge between two tables.
type Relationship struct {
	FromTable   string
	FromColumn  string
	ToTable     string
	ToColumn    string
	Cardinality string
}

// Schema is an immutable snapshot of a database's structure. Version is a
// content hash; a new extraction of a changed database yields a new Version.
type Schema struct {
	Version       string
	ExtractedAt   time.Time
	Tables        []Table
	Relationships []Relationship
}

func (s *Schema) Table(name string) (Table, bool) {
	name = strings.ToLower(name)
	for _, table := range s.Tables {
		if strings.ToLower(table.Name) == name {
			return table, true
		}
	}
	return Table{}, false
}

func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

// ComputeVersion derives the snapshot version from the structural content
// only, so re-extracting an unchanged database keeps the same version and
// previously cached SQL stays valid.
func ComputeVersion(tables []Table, relationships []Relationship) string {
	hasher := sha256.New()
	sorted := make([]Table, len(tables))
	copy(sorted, tables)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, table := range sorted {
		fmt.Fprintf(hasher, "t:%s;pk:%s;", strings.ToLower(table.Name), strings.Join(table.PrimaryKey, ","))
		for _, column := range table.Columns {
			fmt.Fprintf(hasher, "c:%s:%s:%t:%s;", strings.ToLower(column.Name), column.DataType, column.Nullable, column.Default)
			if column.References != nil {
				fmt.Fprintf(hasher, "fk:%s.%s;", column.References.Table, column.References.Column)
			}
		}
	}
	rels := make([]Relationship, len(relationships))
	copy(rels, relationships)
	sort.Slice(rels, func(i, j int) bool {
		return rels[i].FromTable+rels[i].FromColumn < rels[j].FromTable+rels[j].FromColumn
	})
	for _, rel := range rels {
		fmt.Fprintf(hasher, "r:%s.%s>%s.%s;", rel.FromTable, rel.FromColumn, rel.ToTable, rel.ToColumn)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

// Extractor pulls structural metadata from a live database connection.
type Extractor interface {
	Extract(ctx context.Context) (*Schema, error)
}

// Error signals that schema extraction failed. Callers must not proceed to
// generation without a schema.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("schema %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
