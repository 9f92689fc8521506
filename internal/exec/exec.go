// Package exec runs validated queries against the schema source for
// callers that asked for results, not just SQL. Execution is strictly
// read-only and row-capped.
package exec

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var ErrNotReadOnly = fmt.Errorf("only read-only statements can be executed")

type Result struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
}

type Executor struct {
	db      *sql.DB
	rowCap  int
	timeout time.Duration
}

func NewExecutor(db *sql.DB, rowCap int, timeout time.Duration) *Executor {
	if rowCap <= 0 {
		rowCap = 200
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{db: db, rowCap: rowCap, timeout: timeout}
}

var leadingKeywordPattern = regexp.MustCompile(`(?i)^\s*([a-z]+)`)

// Execute runs the statement and returns at most rowCap rows, flagging
// truncation. Anything but SELECT or WITH is refused before it reaches
// the database.
func (e *Executor) Execute(ctx context.Context, sqlText string) (Result, error) {
	match := leadingKeywordPattern.FindStringSubmatch(sqlText)
	if match == nil {
		return Result{}, ErrNotReadOnly
	}
	switch strings.ToUpper(match[1]) {
	case "SELECT", "WITH":
	default:
		return Result{}, ErrNotReadOnly
	}

	queryCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.db.QueryContext(queryCtx, sqlText)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read columns: %w", err)
	}

	result := Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if len(result.Rows) >= e.rowCap {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		for i, value := range values {
			if raw, ok := value.([]byte); ok {
				values[i] = string(raw)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}
