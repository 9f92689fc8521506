package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/querymesh/querymesh/internal/schema"
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("schema source dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open schema source db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping schema source db: %w", err)
	}

	return db, nil
}

// Extractor reads table structure from a Postgres information_schema.
type Extractor struct {
	db      *sql.DB
	timeout time.Duration
}

func NewExtractor(db *sql.DB, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Extractor{db: db, timeout: timeout}
}

func (e *Extractor) Extract(ctx context.Context) (*schema.Schema, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	columnsByTable, tableOrder, err := e.extractColumns(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract columns: %w", err)
	}
	primaryKeys, err := e.extractPrimaryKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract primary keys: %w", err)
	}
	foreignKeys, err := e.extractForeignKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract foreign keys: %w", err)
	}
	rowEstimates, err := e.extractRowEstimates(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract row estimates: %w", err)
	}

	tables := make([]schema.Table, 0, len(tableOrder))
	relationships := make([]schema.Relationship, 0, len(foreignKeys))
	for _, name := range tableOrder {
		columns := columnsByTable[name]
		for i := range columns {
			if fk, ok := foreignKeys[name+"."+strings.ToLower(columns[i].Name)]; ok {
				columns[i].References = &schema.ForeignKey{Table: fk.ToTable, Column: fk.ToColumn}
			}
		}
		tables = append(tables, schema.Table{
			Name:        name,
			Columns:     columns,
			PrimaryKey:  primaryKeys[name],
			RowEstimate: rowEstimates[name],
		})
	}
	for _, fk := range foreignKeys {
		relationships = append(relationships, fk)
	}

	return &schema.Schema{
		Version:       schema.ComputeVersion(tables, relationships),
		ExtractedAt:   time.Now().UTC(),
		Tables:        tables,
		Relationships: relationships,
	}, nil
}

func (e *Extractor) extractColumns(ctx context.Context) (map[string][]schema.Column, []string, error) {
	rows, err := e.db.QueryContext(ctx, `
SELECT table_name, column_name, data_type, is_nullable, COALESCE(column_default, '')
FROM information_schema.columns
WHERE table_schema = 'public'
ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	byTable := map[string][]schema.Column{}
	order := make([]string, 0)
	for rows.Next() {
		var tableName, columnName, dataType, nullable, columnDefault string
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable, &columnDefault); err != nil {
			return nil, nil, fmt.Errorf("scan column row: %w", err)
		}
		tableName = strings.ToLower(tableName)
		if _, seen := byTable[tableName]; !seen {
			order = append(order, tableName)
		}
		byTable[tableName] = append(byTable[tableName], schema.Column{
			Name:     columnName,
			DataType: dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
			Default:  columnDefault,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return byTable, order, nil
}

func (e *Extractor) extractPrimaryKeys(ctx context.Context) (map[string][]string, error) {
	rows, err := e.db.QueryContext(ctx, `
SELECT tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public'
ORDER BY tc.table_name, kcu.ordinal_position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	keys := map[string][]string{}
	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return nil, fmt.Errorf("scan primary key row: %w", err)
		}
		tableName = strings.ToLower(tableName)
		keys[tableName] = append(keys[tableName], columnName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary key rows: %w", err)
	}
	return keys, nil
}

func (e *Extractor) extractForeignKeys(ctx context.Context) (map[string]schema.Relationship, error) {
	rows, err := e.db.QueryContext(ctx, `
SELECT tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public'
ORDER BY tc.table_name, kcu.column_name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	relationships := map[string]schema.Relationship{}
	for rows.Next() {
		var fromTable, fromColumn, toTable, toColumn string
		if err := rows.Scan(&fromTable, &fromColumn, &toTable, &toColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		fromTable = strings.ToLower(fromTable)
		key := fromTable + "." + strings.ToLower(fromColumn)
		relationships[key] = schema.Relationship{
			FromTable:   fromTable,
			FromColumn:  fromColumn,
			ToTable:     strings.ToLower(toTable),
			ToColumn:    toColumn,
			Cardinality: "many-to-one",
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign key rows: %w", err)
	}
	return relationships, nil
}

func (e *Extractor) extractRowEstimates(ctx context.Context) (map[string]int64, error) {
	rows, err := e.db.QueryContext(ctx, `
SELECT relname, GREATEST(reltuples::bigint, 0)
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = 'public' AND c.relkind = 'r'`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	estimates := map[string]int64{}
	for rows.Next() {
		var tableName string
		var estimate int64
		if err := rows.Scan(&tableName, &estimate); err != nil {
			return nil, fmt.Errorf("scan row estimate: %w", err)
		}
		estimates[strings.ToLower(tableName)] = estimate
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate row estimates: %w", err)
	}
	return estimates, nil
}
