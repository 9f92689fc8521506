package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/querymesh/querymesh/internal/engine"
	"github.com/querymesh/querymesh/internal/plugin"
	"github.com/querymesh/querymesh/internal/schema"
	"github.com/querymesh/querymesh/internal/store"
	"github.com/querymesh/querymesh/internal/switcher"
	"github.com/querymesh/querymesh/internal/template"
	"github.com/querymesh/querymesh/internal/validate"
)

// GenerationEngine is the surface the HTTP layer drives. The concrete
// implementation lives in the engine package.
type GenerationEngine interface {
	GenerateSQL(ctx context.Context, req engine.GenerateRequest) (engine.GenerateResponse, error)
	ValidateSQL(ctx context.Context, sqlText string) (validate.Result, error)
	Methods() []switcher.MethodInfo
	Feedback(ctx context.Context, req engine.FeedbackRequest) (store.FeedbackRecord, error)
	Metrics(ctx context.Context, filter engine.MetricsFilter) (engine.Metrics, error)
	AddTemplate(ctx context.Context, in engine.TemplateInput) (*template.Template, error)
	ListTemplates(dialect string) []template.Template
	DeleteTemplate(ctx context.Context, id string) (bool, error)
	PluginStatuses() []plugin.Status
	HealthCheckPlugins(ctx context.Context) []plugin.Status
	RegisterPlugin(ctx context.Context, cfg plugin.RESTConfig) error
	UpdatePlugin(ctx context.Context, name string, cfg plugin.RESTConfig) error
	UnregisterPlugin(ctx context.Context, name string) error
	SetPluginEnabled(ctx context.Context, name string, enabled bool) error
	RefreshSchema(ctx context.Context) (*schema.Schema, error)
}

func handleGenerate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request engine.GenerateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid generate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil,
			"set the query field to a natural-language question")
		return
	}

	response, err := deps.Engine.GenerateSQL(r.Context(), request)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidSQL) {
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "GENERATION_INVALID", "generated SQL failed validation", false, map[string]any{
				"validation":    response.Validation,
				"generation_id": response.GenerationID,
			}, "rephrase the query or review the validation violations")
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_FAILED", "SQL generation failed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, response)
}

type validateRequest struct {
	SQL string `json:"sql"`
}

func handleValidate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request validateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid validate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil,
			"set the sql field to the statement to check")
		return
	}

	result, err := deps.Engine.ValidateSQL(r.Context(), request.SQL)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "VALIDATION_FAILED", "validation could not run", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleMethods(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"methods": deps.Engine.Methods(),
		"plugins": deps.Engine.PluginStatuses(),
	})
}

func handleFeedback(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request engine.FeedbackRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid feedback request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.GenerationID) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "GENERATION_ID_REQUIRED", "generation_id is required", false, nil)
		return
	}

	record, err := deps.Engine.Feedback(r.Context(), request)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "GENERATION_NOT_FOUND", "no generation with that id", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "FEEDBACK_REJECTED", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"feedback_id":   record.ID,
		"generation_id": record.GenerationID,
		"created_at":    record.CreatedAt,
	})
}

func handleStats(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	filter := engine.MetricsFilter{
		Since:   time.Now().Add(-24 * time.Hour),
		Method:  strings.TrimSpace(r.URL.Query().Get("method")),
		Dialect: strings.TrimSpace(r.URL.Query().Get("dialect")),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SINCE", "since must be RFC 3339", false, nil,
				"format since like 2026-08-23T00:00:00Z")
			return
		}
		filter.Since = parsed
	}

	metrics, err := deps.Engine.Metrics(r.Context(), filter)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "STATS_FAILED", "failed to collect stats", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func handleSchemaRefresh(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	snapshot, err := deps.Engine.RefreshSchema(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "SCHEMA_REFRESH_FAILED", "schema extraction failed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":      snapshot.Version,
		"extracted_at": snapshot.ExtractedAt,
		"tables":       len(snapshot.Tables),
	})
}
