package switcher

import (
	"context"
	"errors"
	"testing"

	"github.com/querymesh/querymesh/internal/generate"
)

type stubGenerator struct {
	method generate.Method
	err    error
	calls  int
}

func (g *stubGenerator) Generate(_ context.Context, _ generate.Request) (generate.Result, error) {
	g.calls++
	if g.err != nil {
		return generate.Result{}, g.err
	}
	return generate.Result{SQL: "SELECT 1", Method: g.method, Confidence: 0.9}, nil
}

func allMethods() (map[generate.Method]generate.Generator, map[generate.Method]*stubGenerator) {
	stubs := map[generate.Method]*stubGenerator{
		generate.MethodTemplate: {method: generate.MethodTemplate},
		generate.MethodHybrid:   {method: generate.MethodHybrid},
		generate.MethodLLM:      {method: generate.MethodLLM},
	}
	generators := map[generate.Method]generate.Generator{}
	for method, stub := range stubs {
		generators[method] = stub
	}
	return generators, stubs
}

func TestComplexityIsBoundedAndMonotone(t *testing.T) {
	cases := []string{
		"users",
		"count users",
		"count users per region",
		"count users per region last month",
		"top 5 regions by average order total last quarter excluding refunds",
	}
	previous := -1
	for _, query := range cases {
		score := Complexity(query)
		if score < 0 || score > 100 {
			t.Fatalf("Complexity(%q) = %d, out of range", query, score)
		}
		if score < previous {
			t.Fatalf("Complexity(%q) = %d, dropped below %d for a longer query", query, score, previous)
		}
		previous = score
	}
}

func TestComplexitySeparatesSimpleFromAnalytical(t *testing.T) {
	simple := Complexity("show users")
	analytical := Complexity("top 10 customers by total spend per quarter compared to last year")
	if simple >= 30 {
		t.Fatalf("Complexity(show users) = %d, want < 30", simple)
	}
	if analytical <= 60 {
		t.Fatalf("analytical score = %d, want > 60", analytical)
	}
}

func TestSelectUsesThresholds(t *testing.T) {
	generators, _ := allMethods()
	s, err := New(Config{TemplateMaxScore: 30, HybridMaxScore: 60}, generators, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cases := map[int]generate.Method{
		0:   generate.MethodTemplate,
		29:  generate.MethodTemplate,
		30:  generate.MethodHybrid,
		45:  generate.MethodHybrid,
		60:  generate.MethodHybrid,
		61:  generate.MethodLLM,
		100: generate.MethodLLM,
	}
	for score, want := range cases {
		if got := s.Select(score, "postgres"); got != want {
			t.Fatalf("Select(%d) = %q, want %q", score, got, want)
		}
	}
}

func TestSelectSkipsTemplateForUnservedDialect(t *testing.T) {
	generators, stubs := allMethods()
	s, err := New(Config{
		TemplateAvailable: func(dialect string) bool { return dialect == "postgres" },
	}, generators, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := s.Select(5, "postgres"); got != generate.MethodTemplate {
		t.Fatalf("Select(5, postgres) = %q, want template", got)
	}
	if got := s.Select(5, "duckdb"); got != generate.MethodHybrid {
		t.Fatalf("Select(5, duckdb) = %q, want hybrid when no templates serve the dialect", got)
	}

	// A failed model call must not fall back to the template method
	// for a dialect the library cannot serve.
	stubs[generate.MethodHybrid].err = errors.New("model unavailable")
	stubs[generate.MethodLLM].err = errors.New("model unavailable")
	if _, _, err := s.Generate(context.Background(), generate.Request{Query: "users", Dialect: "duckdb"}); err == nil {
		t.Fatal("expected an error with no serviceable method")
	}
	if stubs[generate.MethodTemplate].calls != 0 {
		t.Fatalf("template calls = %d, want 0 for an unserved dialect", stubs[generate.MethodTemplate].calls)
	}
}

func TestSelectDegradesWithoutModelMethods(t *testing.T) {
	templateOnly := map[generate.Method]generate.Generator{
		generate.MethodTemplate: &stubGenerator{method: generate.MethodTemplate},
	}
	s, err := New(Config{}, templateOnly, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := s.Select(95, "postgres"); got != generate.MethodTemplate {
		t.Fatalf("Select(95) = %q, want template when nothing else is registered", got)
	}
}

func TestGenerateFallsThroughChain(t *testing.T) {
	generators, stubs := allMethods()
	stubs[generate.MethodTemplate].err = errors.New("no template matched")
	s, err := New(Config{}, generators, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, score, err := s.Generate(context.Background(), generate.Request{Query: "users"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if score >= 30 {
		t.Fatalf("score = %d for a trivial query", score)
	}
	if result.Method != generate.MethodHybrid {
		t.Fatalf("Method = %q, want hybrid fallback", result.Method)
	}
	if stubs[generate.MethodTemplate].calls != 1 || stubs[generate.MethodHybrid].calls != 1 {
		t.Fatalf("calls = template %d, hybrid %d", stubs[generate.MethodTemplate].calls, stubs[generate.MethodHybrid].calls)
	}

	stats := s.Stats()
	if stats[generate.MethodTemplate].Failed != 1 {
		t.Fatalf("template failed = %d", stats[generate.MethodTemplate].Failed)
	}
	if stats[generate.MethodHybrid].Fallbacks != 1 {
		t.Fatalf("hybrid fallbacks = %d", stats[generate.MethodHybrid].Fallbacks)
	}
}

func TestGenerateReportsWhenEveryMethodFails(t *testing.T) {
	generators, stubs := allMethods()
	for _, stub := range stubs {
		stub.err = errors.New("boom")
	}
	s, err := New(Config{}, generators, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, _, err = s.Generate(context.Background(), generate.Request{Query: "users"})
	if err == nil {
		t.Fatal("expected an error when every method fails")
	}
}

func TestGenerateAnnotatesComplexity(t *testing.T) {
	generators, _ := allMethods()
	s, err := New(Config{}, generators, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, score, err := s.Generate(context.Background(), generate.Request{Query: "count users per region"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Metadata["complexity"] != score {
		t.Fatalf("metadata complexity = %v, score = %d", result.Metadata["complexity"], score)
	}
}

func TestNewRejectsInvertedThresholds(t *testing.T) {
	generators, _ := allMethods()
	if _, err := New(Config{TemplateMaxScore: 60, HybridMaxScore: 30}, generators, nil); err == nil {
		t.Fatal("inverted thresholds should be rejected")
	}
}

func TestMethodsReportsBounds(t *testing.T) {
	generators, _ := allMethods()
	s, err := New(Config{}, generators, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	infos := s.Methods()
	if len(infos) != 3 {
		t.Fatalf("methods = %d", len(infos))
	}
	if infos[0].Method != generate.MethodTemplate || infos[0].MaxScore != 29 {
		t.Fatalf("template bounds = %+v", infos[0])
	}
	if infos[2].Method != generate.MethodLLM || infos[2].MinScore != 61 {
		t.Fatalf("llm bounds = %+v", infos[2])
	}
}
