package schema

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// InvalidateFunc is called with the superseded version when a refresh
// produces a schema with a different version hash.
type InvalidateFunc func(oldVersion string)

// Provider caches the extracted schema snapshot and rate-limits extraction
// against the source database to one refresh per TTL window.
type Provider struct {
	extractor    Extractor
	ttl          time.Duration
	logger       *slog.Logger
	onInvalidate InvalidateFunc

	mu        sync.Mutex
	current   *Schema
	fetchedAt time.Time
}

type ProviderOption func(*Provider)

func WithInvalidateFunc(fn InvalidateFunc) ProviderOption {
	return func(p *Provider) { p.onInvalidate = fn }
}

func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) { p.logger = logger }
}

func NewProvider(extractor Extractor, ttl time.Duration, opts ...ProviderOption) *Provider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	provider := &Provider{extractor: extractor, ttl: ttl}
	for _, opt := range opts {
		opt(provider)
	}
	return provider
}

// Get returns the cached snapshot while fresh, otherwise extracts a new one.
// When the new snapshot's version differs from the previous one, the
// invalidation callback fires with the superseded version.
func (p *Provider) Get(ctx context.Context) (*Schema, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && time.Since(p.fetchedAt) < p.ttl {
		return p.current, nil
	}
	return p.refreshLocked(ctx)
}

// Refresh forces a new extraction regardless of TTL.
func (p *Provider) Refresh(ctx context.Context) (*Schema, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshLocked(ctx)
}

func (p *Provider) refreshLocked(ctx context.Context) (*Schema, error) {
	extracted, err := p.extractor.Extract(ctx)
	if err != nil {
		// A stale snapshot is better than none when the source is
		// briefly unreachable.
		if p.current != nil {
			if p.logger != nil {
				p.logger.WarnContext(ctx, "schema refresh failed, serving stale snapshot",
					slog.String("version", p.current.Version),
					slog.Any("error", err),
				)
			}
			return p.current, nil
		}
		return nil, &Error{Op: "extract", Err: err}
	}

	previous := p.current
	p.current = extracted
	p.fetchedAt = time.Now()

	if previous != nil && previous.Version != extracted.Version {
		if p.logger != nil {
			p.logger.InfoContext(ctx, "schema version changed",
				slog.String("old_version", previous.Version),
				slog.String("new_version", extracted.Version),
			)
		}
		if p.onInvalidate != nil {
			p.onInvalidate(previous.Version)
		}
	}
	return extracted, nil
}

// CurrentVersion returns the cached version without triggering extraction.
func (p *Provider) CurrentVersion() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return ""
	}
	return p.current.Version
}
