// Package switcher routes each query to a generation method based on its
// complexity score, and falls through a fixed chain when the chosen
// method fails.
package switcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/querymesh/querymesh/internal/generate"
	"github.com/querymesh/querymesh/internal/observability"
)

type Config struct {
	// TemplateMaxScore is the exclusive upper bound for the template
	// method. Defaults to 30.
	TemplateMaxScore int
	// HybridMaxScore is the inclusive upper bound for the hybrid method.
	// Defaults to 60. Anything above goes straight to the model.
	HybridMaxScore int
	// TemplateAvailable reports whether the template library can serve
	// a dialect. When set, a dialect with no templates skips the
	// template method in selection and in the fallback chain.
	TemplateAvailable func(dialect string) bool
}

// MethodStats is a snapshot of one method's counters.
type MethodStats struct {
	Selected   int64         `json:"selected"`
	Succeeded  int64         `json:"succeeded"`
	Failed     int64         `json:"failed"`
	Fallbacks  int64         `json:"fallbacks"`
	AvgLatency time.Duration `json:"avg_latency"`
}

type methodCounters struct {
	selected  int64
	succeeded int64
	failed    int64
	fallbacks int64
	elapsed   time.Duration
}

type Switcher struct {
	cfg        Config
	generators map[generate.Method]generate.Generator
	logger     *slog.Logger

	mu    sync.Mutex
	stats map[generate.Method]*methodCounters
}

func New(cfg Config, generators map[generate.Method]generate.Generator, logger *slog.Logger) (*Switcher, error) {
	if cfg.TemplateMaxScore <= 0 {
		cfg.TemplateMaxScore = 30
	}
	if cfg.HybridMaxScore <= 0 {
		cfg.HybridMaxScore = 60
	}
	if cfg.TemplateMaxScore >= cfg.HybridMaxScore {
		return nil, fmt.Errorf("template threshold %d must be below hybrid threshold %d", cfg.TemplateMaxScore, cfg.HybridMaxScore)
	}
	if generators[generate.MethodTemplate] == nil {
		return nil, fmt.Errorf("a template generator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Switcher{
		cfg:        cfg,
		generators: generators,
		logger:     logger,
		stats:      map[generate.Method]*methodCounters{},
	}, nil
}

// Select maps a complexity score to a method, degrading to whatever is
// actually registered when the model-backed methods are unavailable.
// The candidate set is narrowed by dialect first: a dialect the template
// library cannot serve never selects the template method.
func (s *Switcher) Select(score int, dialect string) generate.Method {
	var want generate.Method
	switch {
	case score < s.cfg.TemplateMaxScore:
		want = generate.MethodTemplate
	case score <= s.cfg.HybridMaxScore:
		want = generate.MethodHybrid
	default:
		want = generate.MethodLLM
	}
	if want == generate.MethodTemplate && !s.templateServes(dialect) {
		want = generate.MethodHybrid
	}
	for _, method := range []generate.Method{want, generate.MethodHybrid, generate.MethodTemplate} {
		if s.generators[method] != nil {
			return method
		}
	}
	return generate.MethodTemplate
}

func (s *Switcher) templateServes(dialect string) bool {
	if s.cfg.TemplateAvailable == nil {
		return true
	}
	return s.cfg.TemplateAvailable(dialect)
}

// fallbackChain lists the methods to try after the chosen one fails.
// Hybrid already subsumes the template path, so it never falls back to
// it; a failed model call still gets one cheap shot at the library.
func (s *Switcher) fallbackChain(chosen generate.Method, dialect string) []generate.Method {
	var chain []generate.Method
	switch chosen {
	case generate.MethodTemplate:
		chain = []generate.Method{generate.MethodHybrid, generate.MethodLLM}
	case generate.MethodHybrid:
		chain = []generate.Method{generate.MethodLLM}
	case generate.MethodLLM:
		chain = []generate.Method{generate.MethodTemplate}
	}
	available := make([]generate.Method, 0, len(chain))
	for _, method := range chain {
		if s.generators[method] == nil {
			continue
		}
		if method == generate.MethodTemplate && !s.templateServes(dialect) {
			continue
		}
		available = append(available, method)
	}
	return available
}

// Generate scores the query, runs the selected method, and walks the
// fallback chain on failure. The returned result reports the method that
// actually produced it.
func (s *Switcher) Generate(ctx context.Context, req generate.Request) (generate.Result, int, error) {
	score := Complexity(req.Query)
	chosen := s.Select(score, req.Dialect)
	s.recordSelected(chosen)

	var errs []error
	methods := append([]generate.Method{chosen}, s.fallbackChain(chosen, req.Dialect)...)
	for i, method := range methods {
		if i > 0 {
			s.recordFallback(method)
			s.logger.Info("falling back",
				slog.String("from", string(methods[i-1])),
				slog.String("to", string(method)),
				slog.Int("complexity", score))
		}

		started := time.Now()
		result, err := s.generators[method].Generate(ctx, req)
		elapsed := time.Since(started)
		if err != nil {
			s.recordOutcome(method, elapsed, false)
			observability.ObserveGeneration(string(method), false, elapsed)
			errs = append(errs, fmt.Errorf("%s: %w", method, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		s.recordOutcome(method, elapsed, true)
		observability.ObserveGeneration(string(method), true, elapsed)
		if result.Metadata == nil {
			result.Metadata = map[string]any{}
		}
		result.Metadata["complexity"] = score
		return result, score, nil
	}
	return generate.Result{}, score, fmt.Errorf("all generation methods failed: %w", errors.Join(errs...))
}

// GenerateWith runs one specific method with no fallback, for callers
// that pinned the method explicitly.
func (s *Switcher) GenerateWith(ctx context.Context, method generate.Method, req generate.Request) (generate.Result, int, error) {
	gen := s.generators[method]
	if gen == nil {
		return generate.Result{}, 0, fmt.Errorf("method %s is not available", method)
	}
	score := Complexity(req.Query)
	s.recordSelected(method)

	started := time.Now()
	result, err := gen.Generate(ctx, req)
	elapsed := time.Since(started)
	if err != nil {
		s.recordOutcome(method, elapsed, false)
		observability.ObserveGeneration(string(method), false, elapsed)
		return generate.Result{}, score, fmt.Errorf("%s: %w", method, err)
	}
	s.recordOutcome(method, elapsed, true)
	observability.ObserveGeneration(string(method), true, elapsed)
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["complexity"] = score
	return result, score, nil
}

func (s *Switcher) recordSelected(method generate.Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countersLocked(method).selected++
}

func (s *Switcher) recordFallback(method generate.Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countersLocked(method).fallbacks++
}

func (s *Switcher) recordOutcome(method generate.Method, elapsed time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counters := s.countersLocked(method)
	counters.elapsed += elapsed
	if ok {
		counters.succeeded++
	} else {
		counters.failed++
	}
}

func (s *Switcher) countersLocked(method generate.Method) *methodCounters {
	counters, ok := s.stats[method]
	if !ok {
		counters = &methodCounters{}
		s.stats[method] = counters
	}
	return counters
}

// Stats snapshots the per-method counters.
func (s *Switcher) Stats() map[generate.Method]MethodStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[generate.Method]MethodStats, len(s.stats))
	for method, counters := range s.stats {
		stats := MethodStats{
			Selected:  counters.selected,
			Succeeded: counters.succeeded,
			Failed:    counters.failed,
			Fallbacks: counters.fallbacks,
		}
		if attempts := counters.succeeded + counters.failed; attempts > 0 {
			stats.AvgLatency = counters.elapsed / time.Duration(attempts)
		}
		out[method] = stats
	}
	return out
}

// Methods lists the registered methods with their selection bounds.
func (s *Switcher) Methods() []MethodInfo {
	infos := make([]MethodInfo, 0, len(s.generators))
	for _, method := range []generate.Method{generate.MethodTemplate, generate.MethodHybrid, generate.MethodLLM} {
		if s.generators[method] == nil {
			continue
		}
		info := MethodInfo{Method: method}
		switch method {
		case generate.MethodTemplate:
			info.MinScore, info.MaxScore = 0, s.cfg.TemplateMaxScore-1
		case generate.MethodHybrid:
			info.MinScore, info.MaxScore = s.cfg.TemplateMaxScore, s.cfg.HybridMaxScore
		case generate.MethodLLM:
			info.MinScore, info.MaxScore = s.cfg.HybridMaxScore+1, 100
		}
		infos = append(infos, info)
	}
	return infos
}

type MethodInfo struct {
	Method   generate.Method `json:"method"`
	MinScore int             `json:"min_score"`
	MaxScore int             `json:"max_score"`
}
