// Package hybrid tries the template library first and falls back to the
// model. Queries the model answers repeatedly get promoted into new
// templates, so the expensive path teaches the cheap one.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querymesh/querymesh/internal/generate"
	"github.com/querymesh/querymesh/internal/observability"
	"github.com/querymesh/querymesh/internal/template"
)

const defaultPromotionThreshold = 3

// ValidateFunc checks a filled template's SQL before it is accepted. A
// non-nil error sends the query to the model instead.
type ValidateFunc func(ctx context.Context, sqlText string) error

type Generator struct {
	templates *template.Generator
	llm       generate.Generator
	threshold int
	validate  ValidateFunc
	logger    *slog.Logger

	mu        sync.Mutex
	successes map[string]*promotionState
	persist   func(template.Template) error
}

type promotionState struct {
	count     int
	lastQuery string
	lastSQL   string
	promoted  bool
}

func NewGenerator(templates *template.Generator, llm generate.Generator, promotionThreshold int, validate ValidateFunc, logger *slog.Logger) *Generator {
	if promotionThreshold <= 0 {
		promotionThreshold = defaultPromotionThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		templates: templates,
		llm:       llm,
		threshold: promotionThreshold,
		validate:  validate,
		logger:    logger,
		successes: map[string]*promotionState{},
	}
}

// OnPromote registers a hook called with each newly promoted template.
// Callers use it to persist promotions across restarts.
func (g *Generator) OnPromote(fn func(template.Template) error) {
	g.persist = fn
}

// Generate prefers a template match and only pays for the model when no
// template applies, the match rejects its captured values, or the filled
// SQL fails validation.
func (g *Generator) Generate(ctx context.Context, req generate.Request) (generate.Result, error) {
	started := time.Now()

	delegate := false
	result, templateErr := g.templates.Generate(ctx, req)
	if templateErr == nil {
		if g.validate != nil {
			if verr := g.validate(ctx, result.SQL); verr != nil {
				templateErr = fmt.Errorf("template output rejected: %w", verr)
				delegate = true
				g.logger.Info("template output failed validation, delegating to model",
					slog.String("query", req.Query),
					slog.String("error", verr.Error()))
			}
		}
		if templateErr == nil {
			result.Method = generate.MethodHybrid
			result.Elapsed = time.Since(started)
			result.Metadata["path"] = "template"
			return result, nil
		}
	} else {
		var rejected *template.ParameterRejectedError
		delegate = errors.Is(templateErr, template.ErrNoMatch) || errors.As(templateErr, &rejected)
	}
	if !delegate {
		return generate.Result{}, templateErr
	}

	result, llmErr := g.llm.Generate(ctx, req)
	if llmErr != nil {
		return generate.Result{}, fmt.Errorf("template path: %v; llm path: %w", templateErr, llmErr)
	}

	g.recordSuccess(req, result.SQL)

	result.Method = generate.MethodHybrid
	result.Elapsed = time.Since(started)
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["path"] = "llm"
	return result, nil
}

// recordSuccess counts model answers per query shape and promotes a
// shape into a template once it crosses the threshold. Promotion is
// one-shot per shape.
func (g *Generator) recordSuccess(req generate.Request, sql string) {
	shape := QueryShape(req.Query)

	g.mu.Lock()
	state, ok := g.successes[shape]
	if !ok {
		state = &promotionState{}
		g.successes[shape] = state
	}
	state.count++
	state.lastQuery = req.Query
	state.lastSQL = sql
	shouldPromote := !state.promoted && state.count >= g.threshold
	if shouldPromote {
		state.promoted = true
	}
	g.mu.Unlock()

	if !shouldPromote {
		return
	}
	promoted, err := g.promote(state.lastQuery, state.lastSQL, req.Dialect)
	if err != nil {
		g.logger.Warn("template promotion failed",
			slog.String("shape", shape),
			slog.String("error", err.Error()))
		return
	}
	observability.IncrementTemplatePromotion()
	g.logger.Info("promoted query shape to template",
		slog.String("template_id", promoted.ID),
		slog.String("shape", shape))
	if g.persist != nil {
		if err := g.persist(*promoted); err != nil {
			g.logger.Warn("promoted template persist failed",
				slog.String("template_id", promoted.ID),
				slog.String("error", err.Error()))
		}
	}
}

// promote synthesizes a template from the query and the SQL the model
// produced for it. Numeric literals shared by both become parameters;
// everything else is matched literally.
func (g *Generator) promote(query, sql, dialect string) (*template.Template, error) {
	pattern := regexp.QuoteMeta(strings.TrimSpace(query))
	body := sql
	var params []template.Parameter

	index := 0
	for _, literal := range numberPattern.FindAllString(query, -1) {
		if !strings.Contains(sql, literal) {
			continue
		}
		index++
		name := fmt.Sprintf("p%d", index)
		pattern = strings.Replace(pattern, regexp.QuoteMeta(literal), fmt.Sprintf(`(?P<%s>\d+(?:\.\d+)?)`, name), 1)
		body = strings.Replace(body, literal, "{"+name+"}", 1)
		params = append(params, template.Parameter{Name: name, Type: template.ParamNumber})
	}

	return g.templates.Store().Add(template.Template{
		ID:         "promoted-" + uuid.NewString(),
		Pattern:    "^" + pattern + "$",
		SQL:        body,
		Parameters: params,
		Dialect:    dialect,
		Examples:   []template.Example{{Query: query, SQL: sql}},
	})
}

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// QueryShape normalizes a query for promotion counting: lowercased,
// whitespace collapsed, numbers and quoted strings replaced by markers.
func QueryShape(query string) string {
	shape := strings.ToLower(strings.TrimSpace(query))
	shape = quotedPattern.ReplaceAllString(shape, "<str>")
	shape = numberPattern.ReplaceAllString(shape, "<num>")
	return strings.Join(strings.Fields(shape), " ")
}

var quotedPattern = regexp.MustCompile(`'[^']*'|"[^"]*"`)
