// Package core holds the foundational values shared by every other
// package in the engine: tenant identity, clocks, ID generation and the
// error taxonomy. Nothing here depends on any other internal package.
package core

import (
	"context"
	"fmt"
)

// TenantContext is the immutable (company, app, user, correlation)
// identity that must be threaded explicitly through every call that can
// suspend. It is deliberately a plain value, not stored on any shared
// struct field, so that concurrent tasks can never observe each other's
// tenant by racing on an ambient pointer.
type TenantContext struct {
	CompanyID     string
	AppID         string
	UserID        string
	CorrelationID string
}

// Validate reports whether the tenant carries the minimum identity
// required to key a memory write (I3).
func (t TenantContext) Validate() error {
	if t.CompanyID == "" || t.AppID == "" {
		return fmt.Errorf("%w: companyId and appId are required", ErrInvalidConfiguration)
	}
	return nil
}

// Key returns the namespace prefix used for every store write keyed by
// this tenant, e.g. "acme:billing".
func (t TenantContext) Key() string {
	return t.CompanyID + ":" + t.AppID
}

type tenantContextKey struct{}

// WithTenant attaches a TenantContext to ctx for callers that need it
// available to deeply nested code that doesn't take it as a parameter
// (e.g. an http.Handler). Core algorithms MUST still take TenantContext
// as an explicit parameter; this is ingress-only sugar.
func WithTenant(ctx context.Context, t TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, t)
}

// TenantFromContext retrieves a TenantContext previously attached with
// WithTenant. Returns false if none is present.
func TenantFromContext(ctx context.Context) (TenantContext, bool) {
	if ctx == nil {
		return TenantContext{}, false
	}
	t, ok := ctx.Value(tenantContextKey{}).(TenantContext)
	return t, ok
}
