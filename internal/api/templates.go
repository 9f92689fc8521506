package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/querymesh/querymesh/internal/engine"
	"github.com/querymesh/querymesh/internal/plugin"
	"github.com/querymesh/querymesh/internal/template"
)

type templateParameter struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	Enum []string `json:"enum,omitempty"`
}

type templatePayload struct {
	ID         string              `json:"id"`
	Pattern    string              `json:"pattern"`
	SQL        string              `json:"sql"`
	Parameters []templateParameter `json:"parameters,omitempty"`
	Dialect    string              `json:"dialect,omitempty"`
	Priority   int                 `json:"priority,omitempty"`
}

const defaultTemplatePageSize = 50

func handleListTemplates(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	limit, err := positiveIntParam(r, "limit", defaultTemplatePageSize)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
		return
	}
	offset, err := positiveIntParam(r, "offset", 0)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_OFFSET", "offset must be a non-negative integer", false, nil)
		return
	}

	templates := deps.Engine.ListTemplates(r.URL.Query().Get("dialect"))
	total := len(templates)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := templates[offset:end]

	payload := make([]templatePayload, 0, len(page))
	for _, t := range page {
		payload = append(payload, templateToPayload(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": payload,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

func positiveIntParam(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return value, nil
}

func handleCreateTemplate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request templatePayload
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid template body", false, map[string]any{"details": err.Error()})
		return
	}

	parameters := make([]template.Parameter, 0, len(request.Parameters))
	for _, p := range request.Parameters {
		parameters = append(parameters, template.Parameter{
			Name: p.Name,
			Type: template.ParamType(p.Type),
			Enum: p.Enum,
		})
	}

	added, err := deps.Engine.AddTemplate(r.Context(), engine.TemplateInput{
		ID:         request.ID,
		Pattern:    request.Pattern,
		SQL:        request.SQL,
		Parameters: parameters,
		Dialect:    request.Dialect,
		Priority:   request.Priority,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "TEMPLATE_REJECTED", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusCreated, templateToPayload(*added))
}

func handleDeleteTemplate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	removed, err := deps.Engine.DeleteTemplate(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "TEMPLATE_DELETE_FAILED", err.Error(), true, nil)
		return
	}
	if !removed {
		writeError(r.Context(), w, http.StatusNotFound, "TEMPLATE_NOT_FOUND", "no template with that id", false, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func templateToPayload(t template.Template) templatePayload {
	parameters := make([]templateParameter, 0, len(t.Parameters))
	for _, p := range t.Parameters {
		parameters = append(parameters, templateParameter{
			Name: p.Name,
			Type: string(p.Type),
			Enum: p.Enum,
		})
	}
	return templatePayload{
		ID:         t.ID,
		Pattern:    t.Pattern,
		SQL:        t.SQL,
		Parameters: parameters,
		Dialect:    t.Dialect,
		Priority:   t.Priority,
	}
}

type pluginPayload struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Dialects    []string `json:"dialects,omitempty"`
	BaseURL     string   `json:"base_url"`
	APIKey      string   `json:"api_key,omitempty"`
	TimeoutMs   int      `json:"timeout_ms,omitempty"`
}

func handleListPlugins(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plugins": deps.Engine.PluginStatuses()})
}

func handleRegisterPlugin(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request pluginPayload
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid plugin body", false, map[string]any{"details": err.Error()})
		return
	}

	err := deps.Engine.RegisterPlugin(r.Context(), plugin.RESTConfig{
		Info: plugin.Info{
			Name:        request.Name,
			Version:     request.Version,
			Description: request.Description,
			Dialects:    request.Dialects,
		},
		BaseURL: request.BaseURL,
		APIKey:  request.APIKey,
		Timeout: time.Duration(request.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "PLUGIN_REJECTED", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": request.Name, "enabled": true})
}

func handleUpdatePlugin(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	var request pluginPayload
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid plugin body", false, map[string]any{"details": err.Error()})
		return
	}

	err := deps.Engine.UpdatePlugin(r.Context(), name, plugin.RESTConfig{
		Info: plugin.Info{
			Name:        request.Name,
			Version:     request.Version,
			Description: request.Description,
			Dialects:    request.Dialects,
		},
		BaseURL: request.BaseURL,
		APIKey:  request.APIKey,
		Timeout: time.Duration(request.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "PLUGIN_UPDATE_REJECTED", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": true})
}

func handlePluginHealth(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plugins": deps.Engine.HealthCheckPlugins(r.Context())})
}

func handleUnregisterPlugin(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if err := deps.Engine.UnregisterPlugin(r.Context(), name); err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "PLUGIN_NOT_FOUND", err.Error(), false, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleSetPluginEnabled(deps Dependencies, w http.ResponseWriter, r *http.Request, enabled bool) {
	name := strings.TrimSpace(r.PathValue("name"))
	if err := deps.Engine.SetPluginEnabled(r.Context(), name, enabled); err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "PLUGIN_NOT_FOUND", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": enabled})
}
