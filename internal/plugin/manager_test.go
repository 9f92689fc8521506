package plugin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/querymesh/querymesh/internal/generate"
)

type fakePlugin struct {
	info      Info
	sql       string
	callErr   error
	healthErr error
	delay     time.Duration
	calls     int
}

func (p *fakePlugin) Info() Info { return p.info }

func (p *fakePlugin) ToNativeFormat(req generate.Request) (any, error) {
	return map[string]string{"q": req.Query}, nil
}

func (p *fakePlugin) Call(ctx context.Context, native any) (any, error) {
	p.calls++
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.callErr != nil {
		return nil, p.callErr
	}
	return map[string]string{"sql": p.sql}, nil
}

func (p *fakePlugin) FromNativeFormat(native any) (generate.Result, error) {
	payload := native.(map[string]string)
	return generate.Result{SQL: payload["sql"], Confidence: 0.8}, nil
}

func (p *fakePlugin) HealthCheck(_ context.Context) error { return p.healthErr }

func newFakePlugin(name string) *fakePlugin {
	return &fakePlugin{
		info: Info{Name: name, Version: "1.0.0"},
		sql:  "SELECT 1",
	}
}

func TestRegisterValidatesInfo(t *testing.T) {
	m := NewManager(time.Second, nil)

	if err := m.Register(&fakePlugin{info: Info{Version: "1.0.0"}}); err == nil {
		t.Fatal("missing name should be rejected")
	}
	if err := m.Register(&fakePlugin{info: Info{Name: "x"}}); err == nil {
		t.Fatal("missing version should be rejected")
	}
	if err := m.Register(newFakePlugin("x")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.Register(newFakePlugin("x")); err == nil {
		t.Fatal("duplicate name should be rejected")
	}
}

func TestInvokeRunsPipeline(t *testing.T) {
	m := NewManager(time.Second, nil)
	p := newFakePlugin("sqlgen")
	if err := m.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	result, err := m.Invoke(context.Background(), "sqlgen", generate.Request{Query: "count users"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if result.SQL != "SELECT 1" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if result.Method != generate.ThirdPartyMethod("sqlgen") {
		t.Fatalf("Method = %q", result.Method)
	}
	if !result.Method.IsThirdParty() {
		t.Fatal("method should report as third party")
	}
}

func TestInvokeRejectsDisabledPlugin(t *testing.T) {
	m := NewManager(time.Second, nil)
	if err := m.Register(newFakePlugin("sqlgen")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.SetEnabled("sqlgen", false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}

	if _, err := m.Invoke(context.Background(), "sqlgen", generate.Request{Query: "q"}); err == nil {
		t.Fatal("disabled plugin should not be invocable")
	}

	if err := m.SetEnabled("sqlgen", true); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	if _, err := m.Invoke(context.Background(), "sqlgen", generate.Request{Query: "q"}); err != nil {
		t.Fatalf("Invoke() after re-enable error = %v", err)
	}
}

func TestInvokeTimesOut(t *testing.T) {
	m := NewManager(20*time.Millisecond, nil)
	p := newFakePlugin("slow")
	p.delay = 200 * time.Millisecond
	if err := m.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, err := m.Invoke(context.Background(), "slow", generate.Request{Query: "q"})
	if err == nil || !strings.Contains(err.Error(), "call") {
		t.Fatalf("error = %v, want a call failure", err)
	}
}

func TestHealthCheckAllTracksStatus(t *testing.T) {
	m := NewManager(time.Second, nil)
	healthy := newFakePlugin("healthy")
	broken := newFakePlugin("broken")
	broken.healthErr = errors.New("backend down")
	for _, p := range []*fakePlugin{healthy, broken} {
		if err := m.Register(p); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	results := m.HealthCheckAll(context.Background())
	if results["healthy"] != nil {
		t.Fatalf("healthy error = %v", results["healthy"])
	}
	if results["broken"] == nil {
		t.Fatal("broken plugin should fail its check")
	}

	statuses := m.List()
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d", len(statuses))
	}
	// Sorted by name: broken first.
	if statuses[0].Info.Name != "broken" || statuses[0].Healthy {
		t.Fatalf("broken status = %+v", statuses[0])
	}
	if statuses[0].LastError != "backend down" {
		t.Fatalf("LastError = %q", statuses[0].LastError)
	}
	if !statuses[1].Healthy || statuses[1].LastChecked == nil {
		t.Fatalf("healthy status = %+v", statuses[1])
	}

	if m.Available("broken") {
		t.Fatal("broken plugin should not be available")
	}
	if !m.Available("healthy") {
		t.Fatal("healthy plugin should be available")
	}
}

func TestGeneratorAdaptsPlugin(t *testing.T) {
	m := NewManager(time.Second, nil)
	if err := m.Register(newFakePlugin("sqlgen")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var gen generate.Generator = m.Generator("sqlgen")
	result, err := gen.Generate(context.Background(), generate.Request{Query: "q"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Method != generate.ThirdPartyMethod("sqlgen") {
		t.Fatalf("Method = %q", result.Method)
	}
}

func TestRESTPluginRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/generate":
			fmt.Fprint(w, `{"sql":"SELECT COUNT(*) FROM users","confidence":0.88}`)
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
	}))
	defer server.Close()

	p, err := NewRESTPlugin(RESTConfig{
		Info:    Info{Name: "remote", Version: "2.1.0"},
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("NewRESTPlugin() error = %v", err)
	}

	m := NewManager(time.Second, nil)
	if err := m.Register(p); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	result, err := m.Invoke(context.Background(), "remote", generate.Request{Query: "count users", Dialect: "postgres"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if result.SQL != "SELECT COUNT(*) FROM users" || result.Confidence != 0.88 {
		t.Fatalf("result = %+v", result)
	}
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
}

func TestRESTPluginSurfacesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	p, err := NewRESTPlugin(RESTConfig{Info: Info{Name: "remote", Version: "1"}, BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewRESTPlugin() error = %v", err)
	}
	if _, err := p.Call(context.Background(), restRequest{Query: "q"}); err == nil {
		t.Fatal("expected an error for status 502")
	}
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected a failing health check")
	}
}
