// Package plugin lets third-party SQL generators participate in method
// switching. A plugin translates the request into its native payload,
// calls out, and translates the answer back into the common result shape.
package plugin

import (
	"context"

	"github.com/querymesh/querymesh/internal/generate"
)

type Info struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Dialects    []string `json:"dialects,omitempty"`
}

// Plugin is the contract a third-party generator implements. The manager
// drives the three-step pipeline and never hands a native payload from
// one plugin to another.
type Plugin interface {
	Info() Info
	ToNativeFormat(req generate.Request) (any, error)
	Call(ctx context.Context, native any) (any, error)
	FromNativeFormat(native any) (generate.Result, error)
	HealthCheck(ctx context.Context) error
}
