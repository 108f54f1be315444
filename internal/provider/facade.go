package provider

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/resumeforge/aiqueue/pkg/types"
)

// Facade implements Client over an ordered list of adapters. The
// first adapter is preferred; when fallback is enabled, a retryable
// failure moves on to the next provider that is not down.
type Facade struct {
	adapters        []Adapter
	health          *healthTracker
	fallbackEnabled bool
}

func NewFacade(fallbackEnabled bool, adapters ...Adapter) (*Facade, error) {
	if len(adapters) == 0 {
		return nil, errors.New("at least one provider adapter is required")
	}

	names := make([]string, len(adapters))
	for i, a := range adapters {
		names[i] = a.Name()
	}

	return &Facade{
		adapters:        adapters,
		health:          newHealthTracker(names),
		fallbackEnabled: fallbackEnabled,
	}, nil
}

func (f *Facade) AvailableProviders() []string {
	names := make([]string, len(f.adapters))
	for i, a := range f.adapters {
		names[i] = a.Name()
	}
	return names
}

func (f *Facade) HealthStatus() map[string]types.ProviderHealth {
	return f.health.all()
}

// GenerateCompletion runs req against the preferred provider,
// falling back across the remaining ones when enabled. The last
// provider error is returned unchanged.
func (f *Facade) GenerateCompletion(ctx context.Context, req *types.Request) (*types.Response, error) {
	started := time.Now()

	var lastErr error
	for i, adapter := range f.adapters {
		// Skip providers marked down, unless nothing better remains.
		if f.health.status(adapter.Name()).Status == types.ProviderDown && f.hasCandidateAfter(i) {
			continue
		}

		callStart := time.Now()
		completion, err := adapter.Complete(ctx, req)
		latency := time.Since(callStart)

		if err != nil {
			f.health.record(adapter.Name(), latency, false)
			lastErr = err

			if !f.fallbackEnabled || !IsRetryable(err) {
				return nil, err
			}
			log.Printf("[%s] provider %s failed, trying next: %v", req.ID, adapter.Name(), err)
			continue
		}

		f.health.record(adapter.Name(), latency, true)

		return &types.Response{
			ID:             "resp_" + uuid.New().String(),
			RequestID:      req.ID,
			Content:        completion.Content,
			Provider:       adapter.Name(),
			Model:          completion.Model,
			Usage:          completion.Usage,
			ProcessingTime: time.Since(started).Milliseconds(),
		}, nil
	}

	if lastErr == nil {
		lastErr = &Error{Message: "no provider available", Retryable: true}
	}
	return nil, lastErr
}

func (f *Facade) hasCandidateAfter(i int) bool {
	for j := i + 1; j < len(f.adapters); j++ {
		if f.health.status(f.adapters[j].Name()).Status != types.ProviderDown {
			return true
		}
	}
	return false
}
