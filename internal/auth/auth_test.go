package auth

import (
	"context"
	"testing"
)

func TestStaticValidatorParsesRolesAndTables(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:t1:sql_reader|plugin_admin:users|orders,k2:t2:sql_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}

	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("k1 should validate")
	}
	if identity.TenantID != "t1" {
		t.Fatalf("TenantID = %q", identity.TenantID)
	}
	if !identity.HasRole("sql_reader") || !identity.HasRole("plugin_admin") {
		t.Fatalf("Roles = %v", identity.Roles)
	}
	if identity.AllTables {
		t.Fatal("k1 should carry a restricted table set")
	}
	if !identity.CanAccessTable("users") || !identity.CanAccessTable("ORDERS") {
		t.Fatalf("Tables = %v", identity.Tables)
	}
	if identity.CanAccessTable("payments") {
		t.Fatal("payments should not be granted")
	}

	identity, ok = validator.Validate(context.Background(), "k2")
	if !ok {
		t.Fatal("k2 should validate")
	}
	if !identity.AllTables {
		t.Fatal("k2 without a table part should grant all tables")
	}
	if !identity.CanAccessTable("anything") {
		t.Fatal("all-table identity should access any table")
	}
}

func TestStaticValidatorWildcardTables(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:t1:sql_reader:*")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, _ := validator.Validate(context.Background(), "k1")
	if !identity.AllTables {
		t.Fatal("wildcard table grant should set AllTables")
	}
}

func TestStaticValidatorRejectsMalformedEntries(t *testing.T) {
	cases := []string{
		"justakey",
		"k1:t1",
		"k1::sql_reader",
		":t1:sql_reader",
		"k1:t1:",
		"k1:t1:sql_reader:users:extra",
	}
	for _, spec := range cases {
		if _, err := NewStaticAPIKeyValidator(spec); err == nil {
			t.Fatalf("spec %q: expected error", spec)
		}
	}
}

func TestUnknownKeyDoesNotValidate(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:t1:sql_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	if _, ok := validator.Validate(context.Background(), "other"); ok {
		t.Fatal("unknown key should not validate")
	}
}
