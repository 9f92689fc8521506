// Package generate holds the types shared by every SQL generation strategy.
package generate

import (
	"context"
	"time"

	"github.com/querymesh/querymesh/internal/schema"
)

// Method identifies the strategy that produced a result. Third-party
// plugins report as "third_party:<name>".
type Method string

const (
	MethodTemplate Method = "template"
	MethodLLM      Method = "llm"
	MethodHybrid   Method = "hybrid"
)

const ThirdPartyPrefix = "third_party:"

func ThirdPartyMethod(name string) Method {
	return Method(ThirdPartyPrefix + name)
}

func (m Method) IsThirdParty() bool {
	return len(m) > len(ThirdPartyPrefix) && m[:len(ThirdPartyPrefix)] == ThirdPartyPrefix
}

// Request carries one natural-language query through a generator.
type Request struct {
	Query   string
	Dialect string
	Schema  *schema.Schema
}

// Result is the unified shape every generator returns. Results reach
// callers only after validation unless the caller explicitly asked for an
// unvalidated preview.
type Result struct {
	SQL        string
	Method     Method
	Confidence float64
	Elapsed    time.Duration
	Metadata   map[string]any
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}
