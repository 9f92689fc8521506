// Package api exposes the generation engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querymesh/querymesh/internal/config"
	"github.com/querymesh/querymesh/internal/observability"
)

type ReadinessCheck func(ctx context.Context) error

type Dependencies struct {
	Logger           *slog.Logger
	Readiness        ReadinessCheck
	AuthMiddleware   func(http.Handler) http.Handler
	DependencyTimout time.Duration
	Engine           GenerationEngine
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/text-to-sql/generate", func(w http.ResponseWriter, r *http.Request) {
		handleGenerate(deps, w, r)
	})
	protected.HandleFunc("POST /v1/text-to-sql/validate", func(w http.ResponseWriter, r *http.Request) {
		handleValidate(deps, w, r)
	})
	protected.HandleFunc("GET /v1/text-to-sql/methods", func(w http.ResponseWriter, r *http.Request) {
		handleMethods(deps, w, r)
	})
	protected.HandleFunc("POST /v1/text-to-sql/feedback", func(w http.ResponseWriter, r *http.Request) {
		handleFeedback(deps, w, r)
	})
	protected.HandleFunc("GET /v1/text-to-sql/metrics", func(w http.ResponseWriter, r *http.Request) {
		handleStats(deps, w, r)
	})
	protected.HandleFunc("GET /v1/text-to-sql/templates", func(w http.ResponseWriter, r *http.Request) {
		handleListTemplates(deps, w, r)
	})
	protected.HandleFunc("POST /v1/text-to-sql/templates", func(w http.ResponseWriter, r *http.Request) {
		handleCreateTemplate(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/text-to-sql/templates/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteTemplate(deps, w, r)
	})
	protected.HandleFunc("GET /v1/text-to-sql/plugins", func(w http.ResponseWriter, r *http.Request) {
		handleListPlugins(deps, w, r)
	})
	protected.HandleFunc("POST /v1/text-to-sql/plugins", func(w http.ResponseWriter, r *http.Request) {
		handleRegisterPlugin(deps, w, r)
	})
	protected.HandleFunc("GET /v1/text-to-sql/plugins/health", func(w http.ResponseWriter, r *http.Request) {
		handlePluginHealth(deps, w, r)
	})
	protected.HandleFunc("PUT /v1/text-to-sql/plugins/{name}", func(w http.ResponseWriter, r *http.Request) {
		handleUpdatePlugin(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/text-to-sql/plugins/{name}", func(w http.ResponseWriter, r *http.Request) {
		handleUnregisterPlugin(deps, w, r)
	})
	protected.HandleFunc("POST /v1/text-to-sql/plugins/{name}/enable", func(w http.ResponseWriter, r *http.Request) {
		handleSetPluginEnabled(deps, w, r, true)
	})
	protected.HandleFunc("POST /v1/text-to-sql/plugins/{name}/disable", func(w http.ResponseWriter, r *http.Request) {
		handleSetPluginEnabled(deps, w, r, false)
	})
	protected.HandleFunc("POST /v1/text-to-sql/schema/refresh", func(w http.ResponseWriter, r *http.Request) {
		handleSchemaRefresh(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("/v1/text-to-sql/", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckMetastoreDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Metastore.DSN == "" {
			return errors.New("metastore dsn is not configured")
		}
		return nil
	}
}

func CheckSchemaSourceDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.SchemaSource.DSN == "" {
			return errors.New("schema source dsn is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any, suggestions ...string) {
	if suggestions == nil {
		suggestions = []string{}
	}
	writeJSON(w, status, map[string]any{
		"error_code":  code,
		"message":     message,
		"retryable":   retryable,
		"context":     extra,
		"suggestions": suggestions,
		"trace_id":    observability.TraceIDFromContext(ctx),
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}
