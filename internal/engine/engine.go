// Package engine is the façade the API serves: it ties the schema
// provider, cache, method switcher, validator, metastore, and plugin
// registry into one generation pipeline.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/querymesh/querymesh/internal/auth"
	"github.com/querymesh/querymesh/internal/cache"
	"github.com/querymesh/querymesh/internal/exec"
	"github.com/querymesh/querymesh/internal/generate"
	"github.com/querymesh/querymesh/internal/observability"
	"github.com/querymesh/querymesh/internal/plugin"
	"github.com/querymesh/querymesh/internal/schema"
	"github.com/querymesh/querymesh/internal/store"
	"github.com/querymesh/querymesh/internal/switcher"
	"github.com/querymesh/querymesh/internal/template"
	"github.com/querymesh/querymesh/internal/validate"
)

// ErrInvalidSQL marks a generation whose output failed validation. The
// response still carries the violation report.
var ErrInvalidSQL = errors.New("generated SQL failed validation")

type Engine struct {
	schemas   *schema.Provider
	switcher  *switcher.Switcher
	validator *validate.Validator
	cache     cache.Store
	templates *template.Store
	plugins   *plugin.Manager
	repo      store.Repository
	archiver  Recorder
	executor  *exec.Executor
	logger    *slog.Logger

	executeEnabled bool
}

// Recorder receives a copy of every audit row, typically the parquet
// archiver.
type Recorder interface {
	Record(ctx context.Context, record store.GenerationRecord)
}

type Config struct {
	ExecuteEnabled bool
}

type Options struct {
	Schemas   *schema.Provider
	Switcher  *switcher.Switcher
	Validator *validate.Validator
	Cache     cache.Store
	Templates *template.Store
	Plugins   *plugin.Manager
	// Repo and Archiver are optional; without them the audit trail is
	// not persisted.
	Repo     store.Repository
	Archiver Recorder
	// Executor is optional; without it execute requests are refused.
	Executor *exec.Executor
	Logger   *slog.Logger
}

func New(cfg Config, opts Options) (*Engine, error) {
	if opts.Schemas == nil {
		return nil, fmt.Errorf("schema provider is required")
	}
	if opts.Switcher == nil {
		return nil, fmt.Errorf("switcher is required")
	}
	if opts.Validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if opts.Templates == nil {
		return nil, fmt.Errorf("template store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		schemas:        opts.Schemas,
		switcher:       opts.Switcher,
		validator:      opts.Validator,
		cache:          opts.Cache,
		templates:      opts.Templates,
		plugins:        opts.Plugins,
		repo:           opts.Repo,
		archiver:       opts.Archiver,
		executor:       opts.Executor,
		logger:         logger,
		executeEnabled: cfg.ExecuteEnabled,
	}, nil
}

type GenerateRequest struct {
	Query   string `json:"query"`
	Dialect string `json:"dialect"`
	// Method pins a specific method instead of letting complexity
	// scoring pick one. Accepts template, hybrid, llm, or
	// third_party:<name>.
	Method string `json:"method,omitempty"`
	// SkipValidation returns the raw candidate without the validation
	// gate. The result is never cached.
	SkipValidation bool `json:"skip_validation,omitempty"`
	// SkipCache bypasses the lookup but still writes the result back.
	SkipCache bool `json:"skip_cache,omitempty"`
	// Execute runs the validated query and returns rows.
	Execute bool `json:"execute,omitempty"`
}

type GenerateResponse struct {
	GenerationID  string          `json:"generation_id"`
	SQL           string          `json:"sql"`
	Method        generate.Method `json:"method"`
	Confidence    float64         `json:"confidence"`
	Complexity    int             `json:"complexity"`
	SchemaVersion string          `json:"schema_version"`
	CacheHit      bool            `json:"cache_hit"`
	// ValidationSkipped marks an unvalidated preview. Such results are
	// never cached and never executed.
	ValidationSkipped bool             `json:"validation_skipped,omitempty"`
	Validation        *validate.Result `json:"validation,omitempty"`
	ElapsedMS         int64            `json:"elapsed_ms"`
	Results           *exec.Result     `json:"results,omitempty"`
}

/// GenerateSQL is the main pipeline: schema, cache, generation,
// validation, caching, audit.
func (e *Engine) GenerateSQL(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	started := time.Now()
	if strings.TrimSpace(req.Query) == "" {
		return GenerateResponse{}, fmt.Errorf("query is required")
	}
	dialect := strings.ToLower(strings.TrimSpace(req.Dialect))
	if dialect == "" {
		dialect = "postgres"
	}

	snapshot, err := e.schemas.Get(ctx)
	if err != nil {
		return GenerateResponse{}, err
	}

	identity := identityFromContext(ctx)
	key := cache.Key(req.Query, dialect, snapshot.Version)

	if !req.SkipCache && !req.SkipValidation {
		if entry, hit, cerr := e.cache.Get(ctx, key); cerr == nil && hit {
			observability.ObserveCacheLookup(true)
			// Cached SQL was validated at insert time, but table grants
			// are per caller, so the permission gate runs again.
			validation := e.validator.Validate(ctx, entry.SQL, snapshot, identity)
			e.auditValidation(ctx, entry.SQL, snapshot.Version, validationSourceGenerate, validation, identity)
			if !validation.Valid {
				return GenerateResponse{Validation: &validation}, ErrInvalidSQL
			}
			response := GenerateResponse{
				GenerationID:  uuid.NewString(),
				SQL:           entry.SQL,
				Method:        entry.Method,
				Confidence:    entry.Confidence,
				Complexity:    switcher.Complexity(req.Query),
				SchemaVersion: snapshot.Version,
				CacheHit:      true,
				Validation:    &validation,
				ElapsedMS:     time.Since(started).Milliseconds(),
			}
			e.audit(ctx, req, dialect, snapshot.Version, response, identity)
			return e.maybeExecute(ctx, req, response)
		} else if cerr != nil {
			e.logger.Warn("cache lookup failed", slog.String("error", cerr.Error()))
		}
		observability.ObserveCacheLookup(false)
	}

	genReq := generate.Request{Query: req.Query, Dialect: dialect, Schema: snapshot}
	result, complexity, err := e.generateWithMethod(ctx, req.Method, genReq)
	if err != nil {
		return GenerateResponse{}, err
	}

	response := GenerateResponse{
		GenerationID:  uuid.NewString(),
		SQL:           result.SQL,
		Method:        result.Method,
		Confidence:    result.Confidence,
		Complexity:    complexity,
		SchemaVersion: snapshot.Version,
		ElapsedMS:     time.Since(started).Milliseconds(),
	}

	if req.SkipValidation {
		response.ValidationSkipped = true
		return response, nil
	}

	validation := e.validator.Validate(ctx, result.SQL, snapshot, identity)
	response.Validation = &validation
	e.auditValidation(ctx, result.SQL, snapshot.Version, validationSourceGenerate, validation, identity)
	if !validation.Valid {
		e.auditInvalid(ctx, req, dialect, snapshot.Version, response, identity)
		return response, ErrInvalidSQL
	}

	if err := e.cache.Set(ctx, key, cache.Entry{
		SQL:        result.SQL,
		Method:     result.Method,
		Confidence: result.Confidence,
		CreatedAt:  time.Now(),
	}); err != nil {
		e.logger.Warn("cache write failed", slog.String("error", err.Error()))
	}

	e.audit(ctx, req, dialect, snapshot.Version, response, identity)
	return e.maybeExecute(ctx, req, response)
}

func (e *Engine) generateWithMethod(ctx context.Context, method string, req generate.Request) (generate.Result, int, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		result, score, err := e.switcher.Generate(ctx, req)
		if err == nil || ctx.Err() != nil {
			return result, score, err
		}
		fallback, pluginErrs, ok := e.pluginFallback(ctx, req)
		if ok {
			return fallback, score, nil
		}
		if len(pluginErrs) > 0 {
			err = fmt.Errorf("%w; plugin fallback failed: %w", err, errors.Join(pluginErrs...))
		}
		return result, score, err
	}

	pinned := generate.Method(method)
	if pinned.IsThirdParty() {
		if e.plugins == nil {
			return generate.Result{}, 0, fmt.Errorf("no plugins are registered")
		}
		name := strings.TrimPrefix(method, generate.ThirdPartyPrefix)
		result, err := e.plugins.Invoke(ctx, name, req)
		if err != nil {
			return generate.Result{}, 0, err
		}
		return result, switcher.Complexity(req.Query), nil
	}
	return e.switcher.GenerateWith(ctx, pinned, req)
}

// pluginFallback tries enabled, healthy plugins in name order after every
// native method has failed. Plugins that declare dialects are skipped for
// dialects they do not serve. When no plugin serves the query, the
// per-plugin failure causes are returned so the caller can surface them.
func (e *Engine) pluginFallback(ctx context.Context, req generate.Request) (generate.Result, []error, bool) {
	if e.plugins == nil {
		return generate.Result{}, nil, false
	}
	var errs []error
	for _, status := range e.plugins.List() {
		name := status.Info.Name
		if !e.plugins.Available(name) {
			continue
		}
		if len(status.Info.Dialects) > 0 && !containsFold(status.Info.Dialects, req.Dialect) {
			continue
		}
		result, err := e.plugins.Invoke(ctx, name, req)
		if err != nil {
			e.logger.Warn("plugin fallback failed",
				slog.String("plugin", name),
				slog.String("error", err.Error()))
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		e.logger.Info("plugin fallback served the query", slog.String("plugin", name))
		return result, nil, true
	}
	return generate.Result{}, errs, false
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func (e *Engine) maybeExecute(ctx context.Context, req GenerateRequest, response GenerateResponse) (GenerateResponse, error) {
	if !req.Execute {
		return response, nil
	}
	if !e.executeEnabled || e.executor == nil {
		return response, fmt.Errorf("query execution is disabled")
	}
	results, err := e.executor.Execute(ctx, response.SQL)
	if err != nil {
		return response, fmt.Errorf("execute generated query: %w", err)
	}
	response.Results = &results
	return response, nil
}

func (e *Engine) audit(ctx context.Context, req GenerateRequest, dialect, schemaVersion string, response GenerateResponse, identity *auth.Identity) {
	e.writeAudit(ctx, store.InsertGenerationInput{
		ID:            response.GenerationID,
		TenantID:      tenantID(identity),
		Query:         req.Query,
		Dialect:       dialect,
		SchemaVersion: schemaVersion,
		Method:        string(response.Method),
		SQL:           response.SQL,
		Confidence:    response.Confidence,
		Complexity:    response.Complexity,
		CacheHit:      response.CacheHit,
		Valid:         true,
		ElapsedMS:     response.ElapsedMS,
	})
}

func (e *Engine) auditInvalid(ctx context.Context, req GenerateRequest, dialect, schemaVersion string, response GenerateResponse, identity *auth.Identity) {
	e.writeAudit(ctx, store.InsertGenerationInput{
		ID:            response.GenerationID,
		TenantID:      tenantID(identity),
		Query:         req.Query,
		Dialect:       dialect,
		SchemaVersion: schemaVersion,
		Method:        string(response.Method),
		SQL:           response.SQL,
		Confidence:    response.Confidence,
		Complexity:    response.Complexity,
		Valid:         false,
		ElapsedMS:     response.ElapsedMS,
	})
}

func (e *Engine) writeAudit(ctx context.Context, in store.InsertGenerationInput) {
	record := store.GenerationRecord{
		ID:            in.ID,
		TenantID:      in.TenantID,
		Query:         in.Query,
		Dialect:       in.Dialect,
		SchemaVersion: in.SchemaVersion,
		Method:        in.Method,
		SQL:           in.SQL,
		Confidence:    in.Confidence,
		Complexity:    in.Complexity,
		CacheHit:      in.CacheHit,
		Valid:         in.Valid,
		ElapsedMS:     in.ElapsedMS,
		CreatedAt:     time.Now().UTC(),
	}
	if e.repo != nil {
		if stored, err := e.repo.InsertGeneration(ctx, in); err != nil {
			e.logger.Warn("audit insert failed", slog.String("error", err.Error()))
		} else {
			record.CreatedAt = stored.CreatedAt
		}
	}
	if e.archiver != nil {
		e.archiver.Record(ctx, record)
	}
}

const (
	validationSourceGenerate = "generate"
	validationSourceValidate = "validate"
)

// auditValidation appends one row to the validation audit trail. Every
// validation attempt lands here, pass or fail, pipeline or standalone.
func (e *Engine) auditValidation(ctx context.Context, sqlText, schemaVersion, source string, result validate.Result, identity *auth.Identity) {
	if e.repo == nil {
		return
	}
	violationsJSON, err := json.Marshal(result.Violations)
	if err != nil {
		violationsJSON = []byte("[]")
	}
	if _, err := e.repo.InsertValidation(ctx, store.InsertValidationInput{
		ID:             uuid.NewString(),
		TenantID:       tenantID(identity),
		SQL:            sqlText,
		Valid:          result.Valid,
		ViolationsJSON: violationsJSON,
		Source:         source,
		SchemaVersion:  schemaVersion,
	}); err != nil {
		e.logger.Warn("validation audit insert failed", slog.String("error", err.Error()))
	}
}

func identityFromContext(ctx context.Context) *auth.Identity {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil
	}
	return &identity
}

func tenantID(identity *auth.Identity) string {
	if identity == nil {
		return "anonymous"
	}
	return identity.TenantID
}

type FeedbackRequest struct {
	GenerationID string `json:"generation_id"`
	// Judgment is one of correct, partially_correct, or incorrect.
	Judgment string `json:"judgment"`
	Comment  string `json:"comment,omitempty"`
}

// Feedback records how right a generated query actually was. It feeds
// later tuning of complexity thresholds and template promotion.
func (e *Engine) Feedback(ctx context.Context, req FeedbackRequest) (store.FeedbackRecord, error) {
	if e.repo == nil {
		return store.FeedbackRecord{}, fmt.Errorf("feedback requires a metastore")
	}
	if _, err := uuid.Parse(req.GenerationID); err != nil {
		return store.FeedbackRecord{}, fmt.Errorf("invalid generation id %q", req.GenerationID)
	}
	judgment := store.Judgment(strings.ToLower(strings.TrimSpace(req.Judgment)))
	if !judgment.Known() {
		return store.FeedbackRecord{}, fmt.Errorf("invalid judgment %q, want correct, partially_correct, or incorrect", req.Judgment)
	}
	return e.repo.InsertFeedback(ctx, store.InsertFeedbackInput{
		ID:           uuid.NewString(),
		GenerationID: req.GenerationID,
		Judgment:     judgment,
		Comment:      req.Comment,
	})
}

type Metrics struct {
	Methods      map[generate.Method]switcher.MethodStats `json:"methods"`
	Aggregates   []store.MethodAggregate                  `json:"aggregates,omitempty"`
	CacheEntries int                                      `json:"cache_entries"`
	Templates    int                                      `json:"templates"`
	Plugins      []plugin.Status                          `json:"plugins,omitempty"`
}

// MetricsFilter narrows the persisted aggregates. Empty Method and
// Dialect match everything; the live switcher counters are unfiltered.
type MetricsFilter struct {
	Since   time.Time
	Method  string
	Dialect string
}

// Metrics combines live switcher counters with the persisted audit
// aggregates over the filtered window.
func (e *Engine) Metrics(ctx context.Context, filter MetricsFilter) (Metrics, error) {
	metrics := Metrics{
		Methods:   e.switcher.Stats(),
		Templates: e.templates.Len(),
	}
	if n, err := e.cache.Len(ctx); err == nil {
		metrics.CacheEntries = n
	}
	if e.repo != nil {
		aggregates, err := e.repo.MethodAggregates(ctx, store.AggregateFilter{
			Since:   filter.Since,
			Method:  filter.Method,
			Dialect: filter.Dialect,
		})
		if err != nil {
			return Metrics{}, err
		}
		metrics.Aggregates = aggregates
	}
	if e.plugins != nil {
		metrics.Plugins = e.plugins.List()
	}
	return metrics, nil
}

// Methods exposes the switcher's routing table.
func (e *Engine) Methods() []switcher.MethodInfo {
	return e.switcher.Methods()
}

// ValidateSQL checks caller-supplied SQL without generating anything.
// The attempt is audited like any pipeline validation.
func (e *Engine) ValidateSQL(ctx context.Context, sqlText string) (validate.Result, error) {
	snapshot, err := e.schemas.Get(ctx)
	if err != nil {
		return validate.Result{}, err
	}
	identity := identityFromContext(ctx)
	result := e.validator.Validate(ctx, sqlText, snapshot, identity)
	e.auditValidation(ctx, sqlText, snapshot.Version, validationSourceValidate, result, identity)
	return result, nil
}

// RefreshSchema forces a re-extraction. The provider's invalidation hook
// clears the cache when the version changes.
func (e *Engine) RefreshSchema(ctx context.Context) (*schema.Schema, error) {
	return e.schemas.Refresh(ctx)
}

type TemplateInput struct {
	ID         string               `json:"id"`
	Pattern    string               `json:"pattern"`
	SQL        string               `json:"sql"`
	Parameters []template.Parameter `json:"parameters,omitempty"`
	Dialect    string               `json:"dialect,omitempty"`
	Priority   int                  `json:"priority,omitempty"`
}

// AddTemplate registers a template and, when a metastore is configured,
// persists it so it survives restarts.
func (e *Engine) AddTemplate(ctx context.Context, in TemplateInput) (*template.Template, error) {
	added, err := e.templates.Add(template.Template{
		ID:         in.ID,
		Pattern:    in.Pattern,
		SQL:        in.SQL,
		Parameters: in.Parameters,
		Dialect:    in.Dialect,
		Priority:   in.Priority,
	})
	if err != nil {
		return nil, err
	}
	if e.repo != nil {
		paramsJSON, merr := json.Marshal(in.Parameters)
		if merr != nil {
			paramsJSON = []byte("[]")
		}
		if _, err := e.repo.CreateTemplate(ctx, store.CreateTemplateInput{
			ID:         in.ID,
			Pattern:    in.Pattern,
			SQL:        in.SQL,
			ParamsJSON: paramsJSON,
			Dialect:    in.Dialect,
			Priority:   in.Priority,
		}); err != nil {
			e.logger.Warn("template persist failed",
				slog.String("template_id", in.ID),
				slog.String("error", err.Error()))
		}
	}
	return added, nil
}

// ListTemplates lists registered templates, most specific first.
func (e *Engine) ListTemplates(dialect string) []template.Template {
	return e.templates.List(dialect)
}

// DeleteTemplate removes a template from the store and, when a metastore
// is configured, from persistence. It reports whether the template existed.
func (e *Engine) DeleteTemplate(ctx context.Context, id string) (bool, error) {
	removed := e.templates.Remove(id)
	if e.repo != nil {
		deleted, err := e.repo.DeleteTemplate(ctx, id)
		if err != nil {
			return removed, err
		}
		removed = removed || deleted
	}
	return removed, nil
}

// SetPluginEnabled toggles a plugin in the registry and the metastore.
func (e *Engine) SetPluginEnabled(ctx context.Context, name string, enabled bool) error {
	if e.plugins == nil {
		return fmt.Errorf("plugin manager is not configured")
	}
	if err := e.plugins.SetEnabled(name, enabled); err != nil {
		return err
	}
	if e.repo != nil {
		if err := e.repo.SetPluginEnabled(ctx, name, enabled); err != nil && !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("plugin state persist failed",
				slog.String("plugin", name),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// LoadPersistedTemplates replays the metastore's template table into the
// in-memory store at startup. Broken rows are skipped, not fatal.
func (e *Engine) LoadPersistedTemplates(ctx context.Context) (int, error) {
	if e.repo == nil {
		return 0, nil
	}
	records, err := e.repo.ListTemplates(ctx)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, record := range records {
		var params []template.Parameter
		if len(record.ParamsJSON) > 0 {
			if err := json.Unmarshal(record.ParamsJSON, &params); err != nil {
				e.logger.Warn("skipping template with bad params",
					slog.String("template_id", record.ID),
					slog.String("error", err.Error()))
				continue
			}
		}
		if _, err := e.templates.Add(template.Template{
			ID:         record.ID,
			Pattern:    record.Pattern,
			SQL:        record.SQL,
			Parameters: params,
			Dialect:    record.Dialect,
			Priority:   record.Priority,
		}); err != nil {
			e.logger.Warn("skipping invalid persisted template",
				slog.String("template_id", record.ID),
				slog.String("error", err.Error()))
			continue
		}
		loaded++
	}
	return loaded, nil
}

// PluginStatuses lists the registered plugins, or nothing when no
// manager is configured.
func (e *Engine) PluginStatuses() []plugin.Status {
	if e.plugins == nil {
		return nil
	}
	return e.plugins.List()
}

// HealthCheckPlugins probes every registered plugin now and returns the
// refreshed statuses.
func (e *Engine) HealthCheckPlugins(ctx context.Context) []plugin.Status {
	if e.plugins == nil {
		return nil
	}
	e.plugins.HealthCheckAll(ctx)
	return e.plugins.List()
}

// UnregisterPlugin removes a plugin from the registry and disables its
// persisted registration so it stays gone across restarts.
func (e *Engine) UnregisterPlugin(ctx context.Context, name string) error {
	if e.plugins == nil {
		return fmt.Errorf("plugin manager is not configured")
	}
	if err := e.plugins.Unregister(name); err != nil {
		return err
	}
	if e.repo != nil {
		if err := e.repo.SetPluginEnabled(ctx, name, false); err != nil && !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("plugin state persist failed",
				slog.String("plugin", name),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// RegisterPlugin adds a REST plugin and persists its registration.
func (e *Engine) RegisterPlugin(ctx context.Context, cfg plugin.RESTConfig) error {
	if e.plugins == nil {
		return fmt.Errorf("plugin manager is not configured")
	}
	p, err := plugin.NewRESTPlugin(cfg)
	if err != nil {
		return err
	}
	if err := e.plugins.Register(p); err != nil {
		return err
	}
	if e.repo != nil {
		if _, err := e.repo.UpsertPlugin(ctx, store.UpsertPluginInput{
			Name:        cfg.Info.Name,
			Version:     cfg.Info.Version,
			Description: cfg.Info.Description,
			BaseURL:     cfg.BaseURL,
			Enabled:     true,
		}); err != nil {
			e.logger.Warn("plugin persist failed",
				slog.String("plugin", cfg.Info.Name),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// UpdatePlugin replaces an existing plugin registration. The old
// registration must exist; health state starts over for the new one.
func (e *Engine) UpdatePlugin(ctx context.Context, name string, cfg plugin.RESTConfig) error {
	if e.plugins == nil {
		return fmt.Errorf("plugin manager is not configured")
	}
	if cfg.Info.Name == "" {
		cfg.Info.Name = name
	}
	if cfg.Info.Name != name {
		return fmt.Errorf("plugin name %q does not match %q", cfg.Info.Name, name)
	}
	p, err := plugin.NewRESTPlugin(cfg)
	if err != nil {
		return err
	}
	if err := e.plugins.Unregister(name); err != nil {
		return err
	}
	if err := e.plugins.Register(p); err != nil {
		return err
	}
	if e.repo != nil {
		if _, err := e.repo.UpsertPlugin(ctx, store.UpsertPluginInput{
			Name:        cfg.Info.Name,
			Version:     cfg.Info.Version,
			Description: cfg.Info.Description,
			BaseURL:     cfg.BaseURL,
			Enabled:     true,
		}); err != nil {
			e.logger.Warn("plugin persist failed",
				slog.String("plugin", cfg.Info.Name),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// LoadPersistedPlugins restores plugin registrations from the metastore.
func (e *Engine) LoadPersistedPlugins(ctx context.Context) (int, error) {
	if e.repo == nil || e.plugins == nil {
		return 0, nil
	}
	records, err := e.repo.ListPlugins(ctx)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, record := range records {
		p, err := plugin.NewRESTPlugin(plugin.RESTConfig{
			Info: plugin.Info{
				Name:        record.Name,
				Version:     record.Version,
				Description: record.Description,
			},
			BaseURL: record.BaseURL,
		})
		if err != nil {
			e.logger.Warn("skipping persisted plugin",
				slog.String("plugin", record.Name),
				slog.String("error", err.Error()))
			continue
		}
		if err := e.plugins.Register(p); err != nil {
			e.logger.Warn("skipping persisted plugin",
				slog.String("plugin", record.Name),
				slog.String("error", err.Error()))
			continue
		}
		if !record.Enabled {
			_ = e.plugins.SetEnabled(record.Name, false)
		}
		loaded++
	}
	return loaded, nil
}
