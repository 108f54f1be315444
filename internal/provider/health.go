package provider

import (
	"sync"
	"time"

	"github.com/resumeforge/aiqueue/pkg/types"
)

const (
	healthWindow         = 20
	degradedErrorRate    = 0.25
	downAfterConsecutive = 3
)

type providerHealth struct {
	outcomes    []bool // ring of recent successes, true = ok
	next        int
	filled      int
	consecutive int // consecutive failures
	lastLatency time.Duration
	lastCheck   time.Time
}

// healthTracker derives a per-provider status from observed call
// outcomes. A provider is down after three consecutive failures,
// degraded when the recent error rate passes 25%.
type healthTracker struct {
	mu        sync.Mutex
	providers map[string]*providerHealth
}

func newHealthTracker(names []string) *healthTracker {
	providers := make(map[string]*providerHealth, len(names))
	for _, name := range names {
		providers[name] = &providerHealth{outcomes: make([]bool, healthWindow)}
	}
	return &healthTracker{providers: providers}
}

func (t *healthTracker) record(name string, latency time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, exists := t.providers[name]
	if !exists {
		return
	}

	h.outcomes[h.next] = ok
	h.next = (h.next + 1) % healthWindow
	if h.filled < healthWindow {
		h.filled++
	}

	if ok {
		h.consecutive = 0
		h.lastLatency = latency
	} else {
		h.consecutive++
	}
	h.lastCheck = time.Now()
}

func (t *healthTracker) status(name string) types.ProviderHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked(name)
}

func (t *healthTracker) statusLocked(name string) types.ProviderHealth {
	h, exists := t.providers[name]
	if !exists {
		return types.ProviderHealth{Status: types.ProviderDown}
	}

	errorRate := 0.0
	if h.filled > 0 {
		failures := 0
		for i := 0; i < h.filled; i++ {
			if !h.outcomes[i] {
				failures++
			}
		}
		errorRate = float64(failures) / float64(h.filled)
	}

	status := types.ProviderHealthy
	switch {
	case h.consecutive >= downAfterConsecutive:
		status = types.ProviderDown
	case errorRate > degradedErrorRate:
		status = types.ProviderDegraded
	}

	return types.ProviderHealth{
		Status:       status,
		ResponseTime: h.lastLatency.Milliseconds(),
		ErrorRate:    errorRate,
		LastCheck:    h.lastCheck,
	}
}

func (t *healthTracker) all() map[string]types.ProviderHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make(map[string]types.ProviderHealth, len(t.providers))
	for name := range t.providers {
		result[name] = t.statusLocked(name)
	}
	return result
}
