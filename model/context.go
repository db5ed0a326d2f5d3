package model

import (
	"context"
	"fmt"
)

// RequestContext carries the caller's identity and the credentials that are
// forwarded verbatim to the case service. It is immutable after construction
// and safe for concurrent reads.
type RequestContext struct {
	SubjectID     string
	Email         string
	TenantID      string
	Claims        map[string]any
	Token         string
	Cookie        string
	CorrelationID string
	TraceID       string
	Locale        string
}

// Validate checks that the context can be used to reach the case service.
// A bearer token or a session cookie must be present; identity claims are
// optional because the case service is the authority.
func (rc *RequestContext) Validate() error {
	if rc.Token == "" && rc.Cookie == "" {
		return fmt.Errorf("either a bearer token or a session cookie is required")
	}
	return nil
}

// Claim returns the value of the given claim key, or nil if not present.
func (rc *RequestContext) Claim(key string) any {
	if rc.Claims == nil {
		return nil
	}
	return rc.Claims[key]
}

// Owner returns the identifier used to scope sessions and resume positions.
// It falls back to the tenant when no subject claim is present.
func (rc *RequestContext) Owner() string {
	if rc == nil {
		return ""
	}
	if rc.SubjectID != "" {
		return rc.SubjectID
	}
	return rc.TenantID
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from the context, panicking if
// it is not present. Only call it behind the credential middleware.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
