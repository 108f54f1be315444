// Package provider abstracts the upstream AI providers behind a
// single completion capability. Provider selection and fallback
// policy live here; the queue stays provider-agnostic.
package provider

import (
	"context"

	"github.com/resumeforge/aiqueue/pkg/types"
)

// Client is the facade contract the queue depends on.
type Client interface {
	GenerateCompletion(ctx context.Context, req *types.Request) (*types.Response, error)
	AvailableProviders() []string
	HealthStatus() map[string]types.ProviderHealth
}

// Completion is the raw result of one upstream call, before the
// facade wraps it into a types.Response.
type Completion struct {
	Content string
	Model   string
	Usage   types.TokenUsage
}

// Adapter is one concrete upstream provider.
type Adapter interface {
	Name() string
	Complete(ctx context.Context, req *types.Request) (*Completion, error)
}
