package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/querymesh/querymesh/internal/generate"
	"github.com/querymesh/querymesh/internal/observability"
)

// Status is what the registry reports about one plugin.
type Status struct {
	Info        Info       `json:"info"`
	Enabled     bool       `json:"enabled"`
	Healthy     bool       `json:"healthy"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type registration struct {
	plugin      Plugin
	enabled     bool
	healthy     bool
	lastChecked time.Time
	lastError   string
}

type Manager struct {
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	plugins map[string]*registration
}

func NewManager(invokeTimeout time.Duration, logger *slog.Logger) *Manager {
	if invokeTimeout <= 0 {
		invokeTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{timeout: invokeTimeout, logger: logger, plugins: map[string]*registration{}}
}

// Register validates and adds a plugin, enabled but unproven: the first
// health check decides whether it can serve.
func (m *Manager) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin is nil")
	}
	info := p.Info()
	if strings.TrimSpace(info.Name) == "" {
		return fmt.Errorf("plugin name is required")
	}
	if strings.TrimSpace(info.Version) == "" {
		return fmt.Errorf("plugin %s: version is required", info.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[info.Name]; exists {
		return fmt.Errorf("plugin %s already registered", info.Name)
	}
	m.plugins[info.Name] = &registration{plugin: p, enabled: true}
	m.logger.Info("plugin registered",
		slog.String("plugin", info.Name),
		slog.String("version", info.Version))
	return nil
}

func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plugins[name]; !exists {
		return fmt.Errorf("plugin %s is not registered", name)
	}
	delete(m.plugins, name)
	return nil
}

func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, exists := m.plugins[name]
	if !exists {
		return fmt.Errorf("plugin %s is not registered", name)
	}
	reg.enabled = enabled
	return nil
}

// Invoke runs the full pipeline for one plugin under the manager's
// timeout. The result method is rewritten to third_party:<name> so the
// caller can tell where the SQL came from.
func (m *Manager) Invoke(ctx context.Context, name string, req generate.Request) (generate.Result, error) {
	m.mu.RLock()
	reg, exists := m.plugins[name]
	m.mu.RUnlock()
	if !exists {
		return generate.Result{}, fmt.Errorf("plugin %s is not registered", name)
	}
	if !reg.enabled {
		return generate.Result{}, fmt.Errorf("plugin %s is disabled", name)
	}

	started := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	native, err := reg.plugin.ToNativeFormat(req)
	if err != nil {
		return generate.Result{}, fmt.Errorf("plugin %s: translate request: %w", name, err)
	}
	answer, err := reg.plugin.Call(callCtx, native)
	if err != nil {
		return generate.Result{}, fmt.Errorf("plugin %s: call: %w", name, err)
	}
	result, err := reg.plugin.FromNativeFormat(answer)
	if err != nil {
		return generate.Result{}, fmt.Errorf("plugin %s: translate response: %w", name, err)
	}
	if strings.TrimSpace(result.SQL) == "" {
		return generate.Result{}, fmt.Errorf("plugin %s returned empty SQL", name)
	}

	result.Method = generate.ThirdPartyMethod(name)
	result.Elapsed = time.Since(started)
	return result, nil
}

// Generator adapts one registered plugin to the common generation
// interface so the switcher can route to it.
func (m *Manager) Generator(name string) generate.Generator {
	return generatorFunc(func(ctx context.Context, req generate.Request) (generate.Result, error) {
		return m.Invoke(ctx, name, req)
	})
}

type generatorFunc func(ctx context.Context, req generate.Request) (generate.Result, error)

func (f generatorFunc) Generate(ctx context.Context, req generate.Request) (generate.Result, error) {
	return f(ctx, req)
}

// HealthCheckAll probes every registered plugin and records the outcome.
// Disabled plugins are still probed; a broken plugin should be visible
// before someone re-enables it.
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]error {
	m.mu.RLock()
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	m.mu.RUnlock()

	results := map[string]error{}
	for _, name := range names {
		results[name] = m.healthCheck(ctx, name)
	}
	return results
}

func (m *Manager) healthCheck(ctx context.Context, name string) error {
	m.mu.RLock()
	reg, exists := m.plugins[name]
	m.mu.RUnlock()
	if !exists {
		return fmt.Errorf("plugin %s is not registered", name)
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := reg.plugin.HealthCheck(checkCtx)

	m.mu.Lock()
	reg.healthy = err == nil
	reg.lastChecked = time.Now()
	if err != nil {
		reg.lastError = err.Error()
	} else {
		reg.lastError = ""
	}
	m.mu.Unlock()

	observability.SetPluginHealth(name, err == nil)
	if err != nil {
		m.logger.Warn("plugin health check failed",
			slog.String("plugin", name),
			slog.String("error", err.Error()))
	}
	return err
}

// RunHealthLoop probes all plugins on the given interval until the
// context ends.
func (m *Manager) RunHealthLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.HealthCheckAll(ctx)
		}
	}
}

// List reports every plugin's status, sorted by name.
func (m *Manager) List() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]Status, 0, len(m.plugins))
	for _, reg := range m.plugins {
		status := Status{
			Info:      reg.plugin.Info(),
			Enabled:   reg.enabled,
			Healthy:   reg.healthy,
			LastError: reg.lastError,
		}
		if !reg.lastChecked.IsZero() {
			checked := reg.lastChecked
			status.LastChecked = &checked
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Info.Name < statuses[j].Info.Name
	})
	return statuses
}

// Available reports whether a plugin exists, is enabled, and passed its
// last health check.
func (m *Manager) Available(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, exists := m.plugins[name]
	return exists && reg.enabled && reg.healthy
}
