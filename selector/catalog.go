// Package selector implements ModelSelector (C4): model catalog caching,
// circuit-breaker-aware selection, and diverse-cohort selection for
// competitive-consensus strategies.
package selector

import (
	"context"
	"sync"
	"time"

	"github.com/nexusai/orchestrator/core"
)

// catalogTTL is the 1h cache lifetime from spec §4.3.
const catalogTTL = time.Hour

// catalog caches the gateway's ListModels result, serving a stale copy
// if a refresh fails rather than failing selection outright — grounded
// on the teacher's ai/registry.go ProviderRegistry (a process-wide,
// mutex-guarded map built once and read many times), adapted here into
// a TTL-refreshing cache instead of a static registration table since
// the model catalog changes over time while the provider registry does
// not.
type catalog struct {
	mu        sync.RWMutex
	models    []core.ModelInfo
	byID      map[string]core.ModelInfo
	fetchedAt time.Time
	gateway   core.ModelGateway
	logger    core.ComponentLogger
	clock     core.Clock
}

func newCatalog(gateway core.ModelGateway, logger core.ComponentLogger, clock core.Clock) *catalog {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &catalog{gateway: gateway, logger: logger, clock: clock, byID: make(map[string]core.ModelInfo)}
}

// get returns the cached catalog, refreshing it if stale. On refresh
// failure with an existing non-empty cache, the stale cache is returned
// and the error is swallowed (logged) per §4.3's fallback rule; a
// refresh failure with no prior cache is returned as an error.
func (c *catalog) get(ctx context.Context) ([]core.ModelInfo, error) {
	c.mu.RLock()
	fresh := !c.fetchedAt.IsZero() && c.clock.Now().Sub(c.fetchedAt) < catalogTTL
	cached := c.models
	c.mu.RUnlock()

	if fresh {
		return cached, nil
	}

	models, err := c.gateway.ListModels(ctx)
	if err != nil {
		if len(cached) > 0 {
			c.logger.Warn("model catalog refresh failed, serving stale cache", map[string]interface{}{"error": err.Error()})
			return cached, nil
		}
		return nil, core.NewTaskError("selector.catalog.get", core.CodeGatewayUnavailable, err)
	}

	c.mu.Lock()
	c.models = models
	c.byID = make(map[string]core.ModelInfo, len(models))
	for _, m := range models {
		c.byID[m.ID] = m
	}
	c.fetchedAt = c.clock.Now()
	c.mu.Unlock()

	return models, nil
}

func (c *catalog) lookup(modelID string) (core.ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[modelID]
	return m, ok
}
