package template

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/querymesh/querymesh/internal/generate"
)

func userByEmailTemplate() Template {
	return Template{
		ID:      "user-by-email",
		Pattern: `find (?:the )?user (?:with|whose) email (?:is )?(?P<email>\S+)`,
		SQL:     `SELECT * FROM users WHERE email = '{email}'`,
		Parameters: []Parameter{
			{Name: "email", Type: ParamString},
		},
	}
}

func newStoreWith(t *testing.T, templates ...Template) *Store {
	t.Helper()
	store := NewStore()
	for _, tmpl := range templates {
		if _, err := store.Add(tmpl); err != nil {
			t.Fatalf("Add(%s) error = %v", tmpl.ID, err)
		}
	}
	return store
}

func TestMatchAndFillSubstitutesVerbatim(t *testing.T) {
	store := newStoreWith(t, userByEmailTemplate())

	match, err := store.Match("find the user with email alice@example.com", "postgres")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	sql, err := Fill(match)
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	if want := `SELECT * FROM users WHERE email = 'alice@example.com'`; sql != want {
		t.Fatalf("sql = %q, want %q", sql, want)
	}
	if strings.Contains(sql, "{") {
		t.Fatalf("filled sql still has a placeholder: %q", sql)
	}
}

func TestMatchReturnsErrNoMatch(t *testing.T) {
	store := newStoreWith(t, userByEmailTemplate())

	_, err := store.Match("average order value per region", "postgres")
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("error = %v, want ErrNoMatch", err)
	}
}

func TestMatchPrefersMoreSpecificTemplate(t *testing.T) {
	generic := Template{
		ID:      "count-anything",
		Pattern: `count (?P<thing>\w+)`,
		SQL:     `SELECT COUNT(*) FROM {thing}`,
		Parameters: []Parameter{
			{Name: "thing", Type: ParamString},
		},
	}
	specific := Template{
		ID:      "count-users-by-status",
		Pattern: `count users (?:with|whose) status (?:is )?(?P<status>\w+)`,
		SQL:     `SELECT COUNT(*) FROM users WHERE status = '{status}'`,
		Parameters: []Parameter{
			{Name: "status", Type: ParamString},
		},
	}
	store := newStoreWith(t, generic, specific)

	match, err := store.Match("count users with status active", "postgres")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if match.Template.ID != "count-users-by-status" {
		t.Fatalf("matched %s, want count-users-by-status", match.Template.ID)
	}
}

func TestMatchTieBreakIsDeterministic(t *testing.T) {
	first := Template{
		ID:         "twin-a",
		Pattern:    `list (?P<table>\w+) rows`,
		SQL:        `SELECT * FROM {table} -- a`,
		Parameters: []Parameter{{Name: "table", Type: ParamString}},
	}
	second := first
	second.ID = "twin-b"
	second.SQL = `SELECT * FROM {table} -- b`
	store := newStoreWith(t, first, second)

	// Same specificity and priority, so the most recently added wins,
	// every time.
	for i := 0; i < 5; i++ {
		match, err := store.Match("list orders rows", "postgres")
		if err != nil {
			t.Fatalf("Match() error = %v", err)
		}
		if match.Template.ID != "twin-b" {
			t.Fatalf("matched %s, want twin-b", match.Template.ID)
		}
	}
}

func TestMatchHonorsPriorityBeforeRecency(t *testing.T) {
	first := Template{
		ID:         "low",
		Pattern:    `list (?P<table>\w+) rows`,
		SQL:        `SELECT * FROM {table}`,
		Parameters: []Parameter{{Name: "table", Type: ParamString}},
		Priority:   5,
	}
	second := first
	second.ID = "later-but-lower"
	second.Priority = 1
	store := newStoreWith(t, first, second)

	match, err := store.Match("list orders rows", "postgres")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if match.Template.ID != "low" {
		t.Fatalf("matched %s, want low", match.Template.ID)
	}
}

func TestMatchFiltersByDialect(t *testing.T) {
	pg := userByEmailTemplate()
	pg.Dialect = "postgres"
	store := newStoreWith(t, pg)

	if _, err := store.Match("find the user with email a@b.com", "mysql"); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("error = %v, want ErrNoMatch for foreign dialect", err)
	}
	if _, err := store.Match("find the user with email a@b.com", "postgres"); err != nil {
		t.Fatalf("Match() error = %v", err)
	}
}

func TestFillRejectsInjectionSignatures(t *testing.T) {
	store := newStoreWith(t, userByEmailTemplate())

	for _, malicious := range []string{
		"x';DROP TABLE users;--",
		"a'||(SELECT 'x",
		"x'UNION SELECT password FROM users--",
		"boom;--",
	} {
		match, err := store.Match("find the user with email "+malicious, "postgres")
		if err != nil {
			t.Fatalf("Match(%q) error = %v", malicious, err)
		}
		_, err = Fill(match)
		var rejected *ParameterRejectedError
		if !errors.As(err, &rejected) {
			t.Fatalf("Fill(%q) error = %v, want ParameterRejectedError", malicious, err)
		}
		if rejected.Name != "email" {
			t.Fatalf("rejected parameter = %q", rejected.Name)
		}
	}
}

func TestFillValidatesTypedParameters(t *testing.T) {
	tmpl := Template{
		ID:      "orders-since",
		Pattern: `orders since (?P<since>\S+) limit (?P<limit>\S+) sorted (?P<direction>\S+)`,
		SQL:     `SELECT * FROM orders WHERE created_at >= '{since}' ORDER BY created_at {direction} LIMIT {limit}`,
		Parameters: []Parameter{
			{Name: "since", Type: ParamDate},
			{Name: "limit", Type: ParamNumber},
			{Name: "direction", Type: ParamEnum, Enum: []string{"ASC", "DESC"}},
		},
	}
	store := newStoreWith(t, tmpl)

	match, err := store.Match("orders since 2026-01-15 limit 25 sorted desc", "postgres")
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	sql, err := Fill(match)
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	if !strings.Contains(sql, "created_at >= '2026-01-15'") || !strings.Contains(sql, "LIMIT 25") {
		t.Fatalf("sql = %q", sql)
	}

	for query, reason := range map[string]string{
		"orders since yesterday limit 25 sorted desc":  "date",
		"orders since 2026-01-15 limit ten sorted asc": "number",
		"orders since 2026-01-15 limit 25 sorted up":   "enum",
	} {
		match, err := store.Match(query, "postgres")
		if err != nil {
			t.Fatalf("Match(%q) error = %v", query, err)
		}
		var rejected *ParameterRejectedError
		if _, err := Fill(match); !errors.As(err, &rejected) {
			t.Fatalf("Fill(%q) should reject bad %s value, got %v", query, reason, err)
		}
	}
}

func TestAddRejectsInvalidTemplates(t *testing.T) {
	store := NewStore()

	cases := map[string]Template{
		"missing id": {
			Pattern: `x`, SQL: `SELECT 1`,
		},
		"bad regex": {
			ID: "bad", Pattern: `(`, SQL: `SELECT 1`,
		},
		"undeclared placeholder": {
			ID: "undeclared", Pattern: `count (?P<thing>\w+)`,
			SQL: `SELECT COUNT(*) FROM {thing} WHERE x = {missing}`,
			Parameters: []Parameter{
				{Name: "thing", Type: ParamString},
			},
		},
		"parameter without capture group": {
			ID: "no-group", Pattern: `count things`,
			SQL:        `SELECT COUNT(*) FROM {thing}`,
			Parameters: []Parameter{{Name: "thing", Type: ParamString}},
		},
		"empty enum": {
			ID: "empty-enum", Pattern: `sort (?P<dir>\w+)`,
			SQL:        `SELECT 1 ORDER BY x {dir}`,
			Parameters: []Parameter{{Name: "dir", Type: ParamEnum}},
		},
	}
	for name, tmpl := range cases {
		if _, err := store.Add(tmpl); err == nil {
			t.Fatalf("Add should fail for %s", name)
		}
	}
	if store.Len() != 0 {
		t.Fatalf("Len = %d after rejected adds", store.Len())
	}
}

func TestAddRejectsDuplicateID(t *testing.T) {
	store := newStoreWith(t, userByEmailTemplate())
	if _, err := store.Add(userByEmailTemplate()); err == nil {
		t.Fatal("duplicate id should be rejected")
	}
}

func TestGeneratorProducesTemplateResult(t *testing.T) {
	store := newStoreWith(t, userByEmailTemplate())
	gen := NewGenerator(store, nil)

	result, err := gen.Generate(context.Background(), generate.Request{
		Query:   "find the user with email bob@example.com",
		Dialect: "postgres",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Method != generate.MethodTemplate {
		t.Fatalf("Method = %q", result.Method)
	}
	if result.SQL != `SELECT * FROM users WHERE email = 'bob@example.com'` {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if result.Confidence <= 0 || result.Confidence > 1 {
		t.Fatalf("Confidence = %v", result.Confidence)
	}
	if result.Metadata["template_id"] != "user-by-email" {
		t.Fatalf("Metadata = %v", result.Metadata)
	}
}

func TestListSortsBySpecificity(t *testing.T) {
	generic := Template{
		ID: "generic", Pattern: `count (?P<t>\w+)`, SQL: `SELECT COUNT(*) FROM {t}`,
		Parameters: []Parameter{{Name: "t", Type: ParamString}},
	}
	specific := Template{
		ID:      "specific",
		Pattern: `count (?P<t>\w+) created after (?P<d>\S+)`,
		SQL:     `SELECT COUNT(*) FROM {t} WHERE created_at > '{d}'`,
		Parameters: []Parameter{
			{Name: "t", Type: ParamString},
			{Name: "d", Type: ParamDate},
		},
	}
	store := newStoreWith(t, generic, specific)

	listed := store.List("")
	if len(listed) != 2 || listed[0].ID != "specific" {
		t.Fatalf("List order = %v", []string{listed[0].ID, listed[1].ID})
	}
}
