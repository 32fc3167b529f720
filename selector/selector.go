package selector

import (
	"context"
	"sort"

	"github.com/nexusai/orchestrator/core"
	"github.com/nexusai/orchestrator/resilience"
)

// ModelSelector picks a model (or a diverse cohort of models) for an
// agent profile, filtering out models whose circuit breaker is open and,
// unless the tenant allows it, free-tier models (§4.3). It is the only
// component that talks to the gateway's catalog endpoint; agents only
// ever see the ModelID already chosen for them.
type ModelSelector struct {
	catalog   *catalog
	breakers  *resilience.Registry
	allowFree bool
	maxCostPerTaskUSD float64
	logger    core.ComponentLogger
}

// Option configures a ModelSelector at construction time.
type Option func(*ModelSelector)

// WithAllowFreeModels toggles whether free-tier (":free" suffixed or
// zero-priced) models are eligible for selection, per tenant/config
// policy (§4.3, §9's resolved Open Question on cost controls).
func WithAllowFreeModels(allow bool) Option {
	return func(s *ModelSelector) { s.allowFree = allow }
}

// WithMaxCostPerTaskUSD bounds the priciest model selection will choose,
// estimated against MaxTokens * PriceOutPerM; 0 disables the check.
func WithMaxCostPerTaskUSD(usd float64) Option {
	return func(s *ModelSelector) { s.maxCostPerTaskUSD = usd }
}

// New creates a ModelSelector. clock is forwarded to the catalog cache so
// tests can control TTL expiry deterministically.
func New(gateway core.ModelGateway, breakers *resilience.Registry, clock core.Clock, logger core.ComponentLogger, opts ...Option) *ModelSelector {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if breakers == nil {
		breakers = resilience.NewRegistry(clock)
	}
	s := &ModelSelector{
		catalog:  newCatalog(gateway, logger.WithComponent("selector"), clock),
		breakers: breakers,
		logger:   logger.WithComponent("selector"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectModel returns the best available model for one agent profile:
// the highest-context eligible model whose breaker is closed (or
// half-open). Free models are excluded unless allowFree is set; when
// allowed, they are ranked by context length with the rest.
//
// This is a deliberate reduction of §4.3's full criteria surface
// (requiredCapabilities, minContextLength, preferredProviders,
// avoidModels): no caller in this tree builds agent cohorts against a
// capability catalog or a provider allow/deny-list today, every
// profile reaching this method is role-only, so sorting on context
// length is the only ranking rule actually exercised. See DESIGN.md's
// Open Question ledger for the full reduction rationale and what a
// criteria-struct extension would need.
func (s *ModelSelector) SelectModel(ctx context.Context, profile core.AgentProfile) (string, error) {
	eligible, err := s.eligibleModels(ctx)
	if err != nil {
		return "", err
	}
	if len(eligible) == 0 {
		return "", core.NewTaskError("selector.SelectModel", core.CodeGatewayUnavailable, core.ErrCircuitOpen)
	}
	return eligible[0].ID, nil
}

// SelectDiverseModels returns up to n distinct models for a
// competitive-consensus cohort (§4.9 strategy 4), spreading across
// different providers rather than picking the same model
// n times, per §4.10's requirement that consensus layers see genuinely
// independent outputs.
func (s *ModelSelector) SelectDiverseModels(ctx context.Context, n int) ([]string, error) {
	eligible, err := s.eligibleModels(ctx)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, core.NewTaskError("selector.SelectDiverseModels", core.CodeGatewayUnavailable, core.ErrCircuitOpen)
	}

	seenProvider := make(map[string]bool)
	var diverse []string
	for _, m := range eligible {
		if len(diverse) >= n {
			break
		}
		if seenProvider[m.Provider] {
			continue
		}
		seenProvider[m.Provider] = true
		diverse = append(diverse, m.ID)
	}
	// Not enough distinct providers to fill the cohort: round-robin the
	// remaining eligible models (repeats allowed) rather than returning
	// short, so the caller always gets n models when any exist.
	for i := 0; len(diverse) < n && len(eligible) > 0; i++ {
		diverse = append(diverse, eligible[i%len(eligible)].ID)
	}
	return diverse, nil
}

// MarkModelAsFailed records a failed call against modelID, potentially
// opening its circuit for the 5-minute sliding window (§4.3).
func (s *ModelSelector) MarkModelAsFailed(modelID string, err error) {
	s.breakers.For(modelID).RecordFailure(err)
}

// MarkModelAsWorking records a successful call, resetting the breaker.
func (s *ModelSelector) MarkModelAsWorking(modelID string) {
	s.breakers.For(modelID).RecordSuccess()
}

// ValidateModel reports whether modelID exists in the current catalog
// and is not presently circuit-broken.
func (s *ModelSelector) ValidateModel(ctx context.Context, modelID string) error {
	if _, ok := s.catalog.lookup(modelID); !ok {
		if _, err := s.catalog.get(ctx); err != nil {
			return err
		}
		if _, ok := s.catalog.lookup(modelID); !ok {
			return core.NewTaskError("selector.ValidateModel", core.CodeNotFound, core.ErrNotFound).WithModel(modelID)
		}
	}
	if !s.breakers.For(modelID).CanExecute() {
		return core.NewTaskError("selector.ValidateModel", core.CodeGatewayUnavailable, core.ErrCircuitOpen).WithModel(modelID)
	}
	return nil
}

// eligibleModels returns the catalog filtered by free-model policy,
// cost ceiling and breaker state, sorted by context length descending so
// callers that want "the best model" can just take index 0.
func (s *ModelSelector) eligibleModels(ctx context.Context) ([]core.ModelInfo, error) {
	models, err := s.catalog.get(ctx)
	if err != nil {
		return nil, err
	}

	eligible := make([]core.ModelInfo, 0, len(models))
	for _, m := range models {
		if !s.allowFree && m.IsFree() {
			continue
		}
		if s.maxCostPerTaskUSD > 0 && estimatedCostUSD(m) > s.maxCostPerTaskUSD {
			continue
		}
		if !s.breakers.For(m.ID).CanExecute() {
			continue
		}
		eligible = append(eligible, m)
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ContextLength > eligible[j].ContextLength })
	return eligible, nil
}

// estimatedCostUSD approximates a single task's cost assuming an 8k
// token response, a conservative upper bound used only for admission
// filtering, not for billing.
func estimatedCostUSD(m core.ModelInfo) float64 {
	const assumedOutputTokens = 8000
	return (m.PriceOutPerM / 1_000_000) * assumedOutputTokens
}
