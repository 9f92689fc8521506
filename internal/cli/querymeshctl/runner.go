// Package querymeshctl implements the command line client for the
// QueryMesh HTTP API.
package querymeshctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("querymeshctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "QueryMesh API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout (e.g. 10s)")
	query := fs.String("query", "", "natural-language query (generate)")
	dialect := fs.String("dialect", "", "target SQL dialect (generate)")
	generationMethod := fs.String("method", "", "pin a generation method (generate)")
	sqlText := fs.String("sql", "", "SQL statement to check (validate)")
	generationID := fs.String("generation-id", "", "generation to rate (feedback)")
	judgment := fs.String("judgment", "", "correct, partially_correct, or incorrect (feedback)")
	comment := fs.String("comment", "", "optional feedback comment (feedback)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	method := ""
	path := ""
	var body any
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "generate":
		if strings.TrimSpace(*query) == "" {
			_, _ = fmt.Fprintln(stderr, "generate requires -query")
			return 2
		}
		method, path = http.MethodPost, "/v1/text-to-sql/generate"
		body = map[string]any{"query": *query}
		if *dialect != "" {
			body.(map[string]any)["dialect"] = *dialect
		}
		if *generationMethod != "" {
			body.(map[string]any)["method"] = *generationMethod
		}
	case "validate":
		if strings.TrimSpace(*sqlText) == "" {
			_, _ = fmt.Fprintln(stderr, "validate requires -sql")
			return 2
		}
		method, path = http.MethodPost, "/v1/text-to-sql/validate"
		body = map[string]any{"sql": *sqlText}
	case "feedback":
		if strings.TrimSpace(*generationID) == "" {
			_, _ = fmt.Fprintln(stderr, "feedback requires -generation-id")
			return 2
		}
		if strings.TrimSpace(*judgment) == "" {
			_, _ = fmt.Fprintln(stderr, "feedback requires -judgment")
			return 2
		}
		method, path = http.MethodPost, "/v1/text-to-sql/feedback"
		body = map[string]any{"generation_id": *generationID, "judgment": *judgment}
		if *comment != "" {
			body.(map[string]any)["comment"] = *comment
		}
	case "methods":
		method, path = http.MethodGet, "/v1/text-to-sql/methods"
	case "stats":
		method, path = http.MethodGet, "/v1/text-to-sql/metrics"
	case "templates":
		method, path = http.MethodGet, "/v1/text-to-sql/templates"
	case "plugins":
		method, path = http.MethodGet, "/v1/text-to-sql/plugins"
	case "plugin-health":
		method, path = http.MethodGet, "/v1/text-to-sql/plugins/health"
	case "schema-refresh":
		method, path = http.MethodPost, "/v1/text-to-sql/schema/refresh"
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, *apiKey, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: querymeshctl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health           GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready            GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  generate         POST /v1/text-to-sql/generate (requires -query)")
	_, _ = fmt.Fprintln(w, "  validate         POST /v1/text-to-sql/validate (requires -sql)")
	_, _ = fmt.Fprintln(w, "  feedback         POST /v1/text-to-sql/feedback (requires -generation-id, -judgment)")
	_, _ = fmt.Fprintln(w, "  methods          GET /v1/text-to-sql/methods")
	_, _ = fmt.Fprintln(w, "  stats            GET /v1/text-to-sql/metrics")
	_, _ = fmt.Fprintln(w, "  templates        GET /v1/text-to-sql/templates")
	_, _ = fmt.Fprintln(w, "  plugins          GET /v1/text-to-sql/plugins")
	_, _ = fmt.Fprintln(w, "  plugin-health    GET /v1/text-to-sql/plugins/health")
	_, _ = fmt.Fprintln(w, "  schema-refresh   POST /v1/text-to-sql/schema/refresh")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
