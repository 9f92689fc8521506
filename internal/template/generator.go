package template

import (
	"context"
	"log/slog"
	"time"

	"github.com/querymesh/querymesh/internal/generate"
)

// Generator adapts the template store to the common generation interface.
type Generator struct {
	store  *Store
	logger *slog.Logger
}

func NewGenerator(store *Store, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{store: store, logger: logger}
}

func (g *Generator) Store() *Store { return g.store }

// Generate matches the query against the template library and fills the
// best match. It fails fast with ErrNoMatch when nothing applies, leaving
// the caller free to fall back to another strategy.
func (g *Generator) Generate(ctx context.Context, req generate.Request) (generate.Result, error) {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return generate.Result{}, err
	}

	match, err := g.store.Match(req.Query, req.Dialect)
	if err != nil {
		return generate.Result{}, err
	}
	sql, err := Fill(match)
	if err != nil {
		g.logger.Warn("template fill rejected",
			slog.String("template_id", match.Template.ID),
			slog.String("error", err.Error()))
		return generate.Result{}, err
	}

	return generate.Result{
		SQL:        sql,
		Method:     generate.MethodTemplate,
		Confidence: templateConfidence(match.Template),
		Elapsed:    time.Since(started),
		Metadata: map[string]any{
			"template_id": match.Template.ID,
			"specificity": match.Template.specificity(),
		},
	}, nil
}

// templateConfidence reflects how constrained the matched pattern is. A
// pattern with more literal structure leaves less room for a wrong match.
func templateConfidence(t *Template) float64 {
	confidence := 0.85 + float64(t.specificity())/1000
	if confidence > 0.98 {
		confidence = 0.98
	}
	return confidence
}
