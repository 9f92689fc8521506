package exec

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestExecuteReturnsRows(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db, 200, time.Second)

	mock.ExpectQuery(`SELECT id, email FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).
			AddRow(int64(1), "a@b.com").
			AddRow(int64(2), "c@d.com"))

	result, err := executor.Execute(context.Background(), "SELECT id, email FROM users")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 2 || result.Truncated {
		t.Fatalf("result = %+v", result)
	}
	if result.Columns[1] != "email" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if result.Rows[0][1] != "a@b.com" {
		t.Fatalf("Rows[0] = %v", result.Rows[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestExecuteCapsRows(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db, 2, time.Second)

	rows := sqlmock.NewRows([]string{"id"})
	for i := 1; i <= 5; i++ {
		rows.AddRow(int64(i))
	}
	mock.ExpectQuery(`SELECT id FROM users`).WillReturnRows(rows)

	result, err := executor.Execute(context.Background(), "SELECT id FROM users")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 2 || !result.Truncated {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecuteRefusesWrites(t *testing.T) {
	db, _ := newSQLMock(t)
	executor := NewExecutor(db, 200, time.Second)

	for _, stmt := range []string{
		"DELETE FROM users",
		"UPDATE users SET email = 'x'",
		"DROP TABLE users",
		"",
	} {
		if _, err := executor.Execute(context.Background(), stmt); !errors.Is(err, ErrNotReadOnly) {
			t.Fatalf("Execute(%q) error = %v, want ErrNotReadOnly", stmt, err)
		}
	}
}

func TestExecuteAllowsCTE(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := NewExecutor(db, 200, time.Second)

	mock.ExpectQuery(`WITH recent AS`).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(7)))

	result, err := executor.Execute(context.Background(), "WITH recent AS (SELECT id FROM orders) SELECT COUNT(*) AS n FROM recent")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 1 {
		t.Fatalf("RowCount = %d", result.RowCount)
	}
}
