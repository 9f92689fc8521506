// Package store defines the metastore: persisted templates, plugin
// registrations, the generation audit trail, and user feedback.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

type Repository interface {
	HealthCheck(ctx context.Context) error

	CreateTemplate(ctx context.Context, in CreateTemplateInput) (TemplateRecord, error)
	ListTemplates(ctx context.Context) ([]TemplateRecord, error)
	DeleteTemplate(ctx context.Context, id string) (bool, error)

	UpsertPlugin(ctx context.Context, in UpsertPluginInput) (PluginRecord, error)
	ListPlugins(ctx context.Context) ([]PluginRecord, error)
	SetPluginEnabled(ctx context.Context, name string, enabled bool) error

	InsertGeneration(ctx context.Context, in InsertGenerationInput) (GenerationRecord, error)
	InsertValidation(ctx context.Context, in InsertValidationInput) (ValidationRecord, error)
	InsertFeedback(ctx context.Context, in InsertFeedbackInput) (FeedbackRecord, error)
	MethodAggregates(ctx context.Context, filter AggregateFilter) ([]MethodAggregate, error)
}

type TemplateRecord struct {
	ID         string
	Pattern    string
	SQL        string
	ParamsJSON []byte
	Dialect    string
	Priority   int
	Promoted   bool
	CreatedAt  time.Time
}

type CreateTemplateInput struct {
	ID         string
	Pattern    string
	SQL        string
	ParamsJSON []byte
	Dialect    string
	Priority   int
	Promoted   bool
}

type PluginRecord struct {
	Name        string
	Version     string
	Description string
	BaseURL     string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type UpsertPluginInput struct {
	Name        string
	Version     string
	Description string
	BaseURL     string
	Enabled     bool
}

// GenerationRecord is one audit row per generation attempt, cached or
// not, valid or not.
type GenerationRecord struct {
	ID            string
	TenantID      string
	Query         string
	Dialect       string
	SchemaVersion string
	Method        string
	SQL           string
	Confidence    float64
	Complexity    int
	CacheHit      bool
	Valid         bool
	ElapsedMS     int64
	CreatedAt     time.Time
}

type InsertGenerationInput struct {
	ID            string
	TenantID      string
	Query         string
	Dialect       string
	SchemaVersion string
	Method        string
	SQL           string
	Confidence    float64
	Complexity    int
	CacheHit      bool
	Valid         bool
	ElapsedMS     int64
}

// ValidationRecord is one audit row per validation attempt, whether it
// came from the generation pipeline or a standalone validate call.
type ValidationRecord struct {
	ID             string
	TenantID       string
	SQL            string
	Valid          bool
	ViolationsJSON []byte
	Source         string
	SchemaVersion  string
	CreatedAt      time.Time
}

type InsertValidationInput struct {
	ID             string
	TenantID       string
	SQL            string
	Valid          bool
	ViolationsJSON []byte
	Source         string
	SchemaVersion  string
}

// Judgment is the three-valued accuracy rating a user gives a
// generation.
type Judgment string

const (
	JudgmentCorrect          Judgment = "correct"
	JudgmentPartiallyCorrect Judgment = "partially_correct"
	JudgmentIncorrect        Judgment = "incorrect"
)

func (j Judgment) Known() bool {
	switch j {
	case JudgmentCorrect, JudgmentPartiallyCorrect, JudgmentIncorrect:
		return true
	}
	return false
}

type FeedbackRecord struct {
	ID           string
	GenerationID string
	Judgment     Judgment
	Comment      string
	CreatedAt    time.Time
}

type InsertFeedbackInput struct {
	ID           string
	GenerationID string
	Judgment     Judgment
	Comment      string
}

// AggregateFilter narrows the audit window for MethodAggregates. Empty
// Method and Dialect match everything.
type AggregateFilter struct {
	Since   time.Time
	Method  string
	Dialect string
}

// MethodAggregate summarizes the audit trail per method over a window.
type MethodAggregate struct {
	Method       string
	Generations  int64
	ValidCount   int64
	CacheHits    int64
	AvgElapsedMS float64
}
