// Package requestcontext provides transport-independent accessors for
// request-scoped values.
//
// Middleware and pipeline stages set values; services read them without
// importing net/http:
//
//	actor, ok := requestcontext.Actor(ctx)
//	orgID := requestcontext.OrgID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithActor(ctx, actor)
package requestcontext

import (
	"context"
	"time"

	"carecore/pkg/domain"
)

type (
	actorKey       struct{}
	orgIDKey       struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
	clientIPKey    struct{}
)

// -----------------------------------------------------------------------------
// Principal
// -----------------------------------------------------------------------------

// Actor retrieves the authenticated actor placed by the authentication stage.
func Actor(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok
}

// WithActor injects the authenticated actor.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// OrgID retrieves the tenant resolved for this request. Returns the zero
// value if tenant resolution has not run.
func OrgID(ctx context.Context) domain.OrgID {
	if id, ok := ctx.Value(orgIDKey{}).(domain.OrgID); ok {
		return id
	}
	return domain.OrgID{}
}

// WithOrgID attaches the resolved tenant.
func WithOrgID(ctx context.Context, orgID domain.OrgID) context.Context {
	return context.WithValue(ctx, orgIDKey{}, orgID)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the correlation id.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// ClientIP retrieves the caller address recorded by the transport.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

// WithClientIP injects the caller address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time. Falls back to time.Now() outside a
// request (workers, sweeps, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the request time, e.g. for a sweep batch or a test.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
