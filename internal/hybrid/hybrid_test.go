package hybrid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/querymesh/querymesh/internal/generate"
	"github.com/querymesh/querymesh/internal/template"
)

type fakeLLM struct {
	sql   string
	err   error
	calls int
}

func (f *fakeLLM) Generate(_ context.Context, _ generate.Request) (generate.Result, error) {
	f.calls++
	if f.err != nil {
		return generate.Result{}, f.err
	}
	return generate.Result{SQL: f.sql, Method: generate.MethodLLM, Confidence: 0.7}, nil
}

func templateGenerator(t *testing.T) *template.Generator {
	t.Helper()
	store := template.NewStore()
	_, err := store.Add(template.Template{
		ID:      "count-users",
		Pattern: `count users`,
		SQL:     `SELECT COUNT(*) FROM users`,
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return template.NewGenerator(store, nil)
}

func TestGeneratePrefersTemplate(t *testing.T) {
	llm := &fakeLLM{sql: "SELECT 1"}
	gen := NewGenerator(templateGenerator(t), llm, 3, nil, nil)

	result, err := gen.Generate(context.Background(), generate.Request{Query: "count users", Dialect: "postgres"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Method != generate.MethodHybrid {
		t.Fatalf("Method = %q", result.Method)
	}
	if result.Metadata["path"] != "template" {
		t.Fatalf("path = %v", result.Metadata["path"])
	}
	if llm.calls != 0 {
		t.Fatalf("llm calls = %d, template hit should not reach the model", llm.calls)
	}
}

func TestGenerateFallsBackToLLM(t *testing.T) {
	llm := &fakeLLM{sql: "SELECT AVG(total) FROM orders"}
	gen := NewGenerator(templateGenerator(t), llm, 3, nil, nil)

	result, err := gen.Generate(context.Background(), generate.Request{Query: "average order total", Dialect: "postgres"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Metadata["path"] != "llm" {
		t.Fatalf("path = %v", result.Metadata["path"])
	}
	if llm.calls != 1 {
		t.Fatalf("llm calls = %d", llm.calls)
	}
}

func TestGenerateDelegatesWhenTemplateOutputFailsValidation(t *testing.T) {
	llm := &fakeLLM{sql: "SELECT COUNT(*) FROM app_users"}
	reject := func(_ context.Context, sqlText string) error {
		if strings.Contains(sqlText, "FROM users") {
			return errors.New(`unknown table "users"`)
		}
		return nil
	}
	gen := NewGenerator(templateGenerator(t), llm, 3, reject, nil)

	result, err := gen.Generate(context.Background(), generate.Request{Query: "count users", Dialect: "postgres"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Metadata["path"] != "llm" {
		t.Fatalf("path = %v, rejected template output should delegate to the model", result.Metadata["path"])
	}
	if result.SQL != "SELECT COUNT(*) FROM app_users" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if llm.calls != 1 {
		t.Fatalf("llm calls = %d", llm.calls)
	}
}

func TestGenerateSurfacesBothErrorsWhenValidationAndModelFail(t *testing.T) {
	llm := &fakeLLM{err: errors.New("model unavailable")}
	reject := func(_ context.Context, _ string) error {
		return errors.New("referenced table missing")
	}
	gen := NewGenerator(templateGenerator(t), llm, 3, reject, nil)

	_, err := gen.Generate(context.Background(), generate.Request{Query: "count users", Dialect: "postgres"})
	if err == nil {
		t.Fatal("expected a combined error")
	}
	if !strings.Contains(err.Error(), "referenced table missing") || !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("error = %v", err)
	}
}

func TestGenerateCombinesErrorsWhenBothPathsFail(t *testing.T) {
	llm := &fakeLLM{err: errors.New("model unavailable")}
	gen := NewGenerator(templateGenerator(t), llm, 3, nil, nil)

	_, err := gen.Generate(context.Background(), generate.Request{Query: "average order total", Dialect: "postgres"})
	if err == nil {
		t.Fatal("expected a combined error")
	}
	if !strings.Contains(err.Error(), "template path") || !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("error = %v", err)
	}
}

func TestPromotionAfterRepeatedLLMSuccesses(t *testing.T) {
	templates := templateGenerator(t)
	llm := &fakeLLM{sql: "SELECT * FROM orders WHERE total > 100"}
	gen := NewGenerator(templates, llm, 3, nil, nil)

	// Same shape, different literals.
	for i, query := range []string{
		"orders worth more than 100",
		"orders worth more than 250",
		"orders worth more than 100",
	} {
		if _, err := gen.Generate(context.Background(), generate.Request{Query: query, Dialect: "postgres"}); err != nil {
			t.Fatalf("Generate(%d) error = %v", i, err)
		}
	}
	if llm.calls != 3 {
		t.Fatalf("llm calls = %d, want 3", llm.calls)
	}

	// The promoted template should now answer the same shape without the
	// model, with the number parameterized.
	result, err := gen.Generate(context.Background(), generate.Request{Query: "orders worth more than 999", Dialect: "postgres"})
	if err != nil {
		t.Fatalf("Generate() after promotion error = %v", err)
	}
	if result.Metadata["path"] != "template" {
		t.Fatalf("path = %v, promotion did not take", result.Metadata["path"])
	}
	if result.SQL != "SELECT * FROM orders WHERE total > 999" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if llm.calls != 3 {
		t.Fatalf("llm calls = %d after promotion", llm.calls)
	}
}

func TestPromotionInvokesPersistHook(t *testing.T) {
	templates := templateGenerator(t)
	llm := &fakeLLM{sql: "SELECT * FROM orders WHERE total > 100"}
	gen := NewGenerator(templates, llm, 2, nil, nil)

	var persisted []template.Template
	gen.OnPromote(func(tpl template.Template) error {
		persisted = append(persisted, tpl)
		return nil
	})

	for _, query := range []string{"orders worth more than 100", "orders worth more than 250"} {
		if _, err := gen.Generate(context.Background(), generate.Request{Query: query, Dialect: "postgres"}); err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
	}
	if len(persisted) != 1 {
		t.Fatalf("persisted templates = %d, want 1", len(persisted))
	}
	if persisted[0].SQL == "" || persisted[0].Pattern == "" {
		t.Fatalf("persisted template incomplete: %+v", persisted[0])
	}
}

func TestPromotionRequiresThreshold(t *testing.T) {
	templates := templateGenerator(t)
	llm := &fakeLLM{sql: "SELECT * FROM orders WHERE total > 50"}
	gen := NewGenerator(templates, llm, 3, nil, nil)

	for i := 0; i < 2; i++ {
		query := fmt.Sprintf("orders worth more than %d0", i+1)
		if _, err := gen.Generate(context.Background(), generate.Request{Query: query, Dialect: "postgres"}); err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
	}
	if templates.Store().Len() != 1 {
		t.Fatalf("template count = %d, nothing should be promoted below the threshold", templates.Store().Len())
	}
}

func TestQueryShape(t *testing.T) {
	a := QueryShape("Orders worth more than 100")
	b := QueryShape("orders  worth more than 42.5")
	if a != b {
		t.Fatalf("shapes differ: %q vs %q", a, b)
	}
	if QueryShape("orders for 'alice'") != QueryShape(`orders for "bob"`) {
		t.Fatal("quoted literals should normalize to the same shape")
	}
}
