package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/querymesh/querymesh/internal/generate"
	"github.com/querymesh/querymesh/internal/observability"
)

// ErrTimeout reports that the completion backend did not answer within
// the configured per-attempt deadline.
var ErrTimeout = errors.New("llm generation timed out")

// GenerationError carries the full refinement history when every attempt
// was rejected or failed.
type GenerationError struct {
	Attempts int
	LastSQL  string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("llm generation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ValidateFunc checks a candidate query. A non-nil error sends the query
// back to the model with the error text as refinement feedback.
type ValidateFunc func(ctx context.Context, sql string) error

type GeneratorConfig struct {
	// Model is recorded in result metadata.
	Model string
	// Timeout bounds each completion attempt. Defaults to 5s.
	Timeout time.Duration
	// MaxRetries is the number of refinement rounds after the first
	// attempt. Defaults to 3.
	MaxRetries int
	// MaxPromptTables bounds the schema description in the prompt.
	MaxPromptTables int
}

type Generator struct {
	provider Provider
	cfg      GeneratorConfig
	validate ValidateFunc
	logger   *slog.Logger
}

func NewGenerator(provider Provider, cfg GeneratorConfig, validate ValidateFunc, logger *slog.Logger) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxPromptTables <= 0 {
		cfg.MaxPromptTables = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{provider: provider, cfg: cfg, validate: validate, logger: logger}
}

// Generate prompts the model and, when a candidate fails validation,
// feeds the rejection back for up to MaxRetries refinement rounds. The
// final error keeps the last candidate for the audit trail.
func (g *Generator) Generate(ctx context.Context, req generate.Request) (generate.Result, error) {
	started := time.Now()
	system := systemPrompt(req.Dialect)

	var history []attempt
	var lastErr error
	maxAttempts := 1 + g.cfg.MaxRetries
	for attemptNo := 1; attemptNo <= maxAttempts; attemptNo++ {
		if attemptNo > 1 {
			observability.IncrementLLMRetry()
		}

		sql, err := g.complete(ctx, system, userPrompt(req, g.cfg.MaxPromptTables, history))
		if err != nil {
			// Timeouts and transport failures are not refinable; retrying
			// with the same prompt is the only option left.
			lastErr = err
			if errors.Is(err, ErrTimeout) || ctx.Err() != nil {
				break
			}
			g.logger.Warn("llm completion failed",
				slog.Int("attempt", attemptNo),
				slog.String("error", err.Error()))
			continue
		}

		if g.validate != nil {
			if verr := g.validate(ctx, sql); verr != nil {
				lastErr = verr
				history = append(history, attempt{SQL: sql, Reason: verr.Error()})
				g.logger.Info("llm candidate rejected, refining",
					slog.Int("attempt", attemptNo),
					slog.String("reason", verr.Error()))
				continue
			}
		}

		return generate.Result{
			SQL:        sql,
			Method:     generate.MethodLLM,
			Confidence: llmConfidence(attemptNo),
			Elapsed:    time.Since(started),
			Metadata: map[string]any{
				"model":    g.cfg.Model,
				"attempts": attemptNo,
			},
		}, nil
	}

	genErr := &GenerationError{Attempts: maxAttempts, Err: lastErr}
	if len(history) > 0 {
		genErr.LastSQL = history[len(history)-1].SQL
	}
	return generate.Result{}, genErr
}

func (g *Generator) complete(ctx context.Context, system, user string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	raw, err := g.provider.Complete(attemptCtx, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s", ErrTimeout, g.cfg.Timeout)
		}
		return "", err
	}

	sql := stripMarkdownSQL(raw)
	if strings.TrimSpace(sql) == "" {
		return "", fmt.Errorf("model returned empty SQL")
	}
	return sql, nil
}

// llmConfidence drops with each refinement round. A query the model got
// right first time deserves more trust than one it had to correct twice.
func llmConfidence(attemptNo int) float64 {
	confidence := 0.75 - 0.1*float64(attemptNo-1)
	if confidence < 0.4 {
		confidence = 0.4
	}
	return confidence
}
