package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/querymesh/querymesh/internal/generate"
	"github.com/querymesh/querymesh/internal/schema"
)

// RESTPlugin adapts a remote generator that speaks a small JSON contract:
// POST /generate with {query, dialect, schema} answering {sql,
// confidence}, and GET /health answering 200.
type RESTPlugin struct {
	info    Info
	baseURL string
	apiKey  string
	client  *http.Client
}

type RESTConfig struct {
	Info    Info
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func NewRESTPlugin(cfg RESTConfig) (*RESTPlugin, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("plugin %s: base URL is required", cfg.Info.Name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTPlugin{
		info:    cfg.Info,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (p *RESTPlugin) Info() Info { return p.info }

type restRequest struct {
	Query   string `json:"query"`
	Dialect string `json:"dialect"`
	Schema  string `json:"schema,omitempty"`
}

type restResponse struct {
	SQL        string  `json:"sql"`
	Confidence float64 `json:"confidence"`
}

func (p *RESTPlugin) ToNativeFormat(req generate.Request) (any, error) {
	native := restRequest{Query: req.Query, Dialect: req.Dialect}
	if req.Schema != nil {
		native.Schema = schema.DescribeForPrompt(req.Schema, 50, req.Query)
	}
	return native, nil
}

func (p *RESTPlugin) Call(ctx context.Context, native any) (any, error) {
	payload, err := json.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (p *RESTPlugin) FromNativeFormat(native any) (generate.Result, error) {
	body, ok := native.([]byte)
	if !ok {
		return generate.Result{}, fmt.Errorf("unexpected native payload type %T", native)
	}
	var parsed restResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return generate.Result{}, fmt.Errorf("decode response: %w", err)
	}
	return generate.Result{
		SQL:        strings.TrimSpace(parsed.SQL),
		Confidence: parsed.Confidence,
		Metadata:   map[string]any{"plugin": p.info.Name},
	}, nil
}

func (p *RESTPlugin) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status=%d", resp.StatusCode)
	}
	return nil
}
