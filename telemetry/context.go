package telemetry

import "context"

type baggageKey struct{}

// WithBaggage attaches a small correlation map (request_id, task_id, ...)
// to ctx, ported from the teacher's telemetry.GetBaggage/WithBaggage
// pattern used throughout orchestration/orchestrator.go for log
// correlation.
func WithBaggage(ctx context.Context, baggage map[string]string) context.Context {
	if baggage == nil {
		return ctx
	}
	existing := GetBaggage(ctx)
	merged := make(map[string]string, len(existing)+len(baggage))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range baggage {
		merged[k] = v
	}
	return context.WithValue(ctx, baggageKey{}, merged)
}

// GetBaggage returns the correlation map previously attached, or nil.
func GetBaggage(ctx context.Context) map[string]string {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(baggageKey{}).(map[string]string); ok {
		return v
	}
	return nil
}
