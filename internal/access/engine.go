// Package access decides whether an actor may act on a resource. It combines
// the permission matrix with consent gating for Part2 records.
package access

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"carecore/internal/access/metrics"
	consentModels "carecore/internal/consent/models"
	"carecore/internal/permission"
	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
	"carecore/pkg/requestcontext"
)

const tracerName = "carecore/internal/access"

// ConsentLookup returns every consent for a resident and recipient, newest
// first. The consent service satisfies it.
type ConsentLookup interface {
	Lookup(ctx context.Context, orgID domain.OrgID, residentID domain.ResidentID, recipient string) ([]*consentModels.Consent, error)
}

//go:generate mockgen -source=engine.go -destination=mocks/mocks.go -package=mocks ConsentLookup

type Engine struct {
	consents ConsentLookup
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

func NewEngine(consents ConsentLookup, opts ...Option) *Engine {
	e := &Engine{
		consents: consents,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide evaluates, in order: tenant boundary, subject access to the own
// record, RBAC, actor scope, and finally Part2 gating. A sensitivity denial
// always overrides an RBAC allow. The error is reserved for infrastructure
// failures; denials come back as Decision values.
func (e *Engine) Decide(ctx context.Context, actor domain.Actor, resource Resource) (Decision, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "access.Decide", trace.WithAttributes(
		attribute.String("actor.role", actor.Role),
		attribute.String("resource.type", string(resource.Type)),
		attribute.String("resource.action", string(resource.Action)),
	))
	defer span.End()

	d, err := e.decide(ctx, actor, resource)
	e.metrics.ObserveDecideLatency(time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision failed")
		return Decision{}, err
	}

	span.SetAttributes(
		attribute.Bool("decision.allow", d.Allow),
		attribute.String("decision.reason", string(d.Reason)),
		attribute.String("decision.sensitivity", string(d.Sensitivity)),
	)
	e.metrics.IncrementDecision(d.Allow, string(d.Reason))
	if !d.Allow {
		e.logger.InfoContext(ctx, "access denied",
			"actor_id", actor.ID.String(),
			"role", actor.Role,
			"org_id", resource.OrgID.String(),
			"resource_type", string(resource.Type),
			"resource_id", resource.ID.String(),
			"action", string(resource.Action),
			"reason", string(d.Reason),
		)
	}
	return d, nil
}

func (e *Engine) decide(ctx context.Context, actor domain.Actor, resource Resource) (Decision, error) {
	sensitivity := resource.EffectiveSensitivity()

	if actor.OrgID.IsNil() || actor.OrgID != resource.OrgID {
		return deny(ReasonTenantMismatch, sensitivity), nil
	}

	if actor.ActsAs(resource.OwnerResidentID) {
		return allow(ReasonSubjectOwnRecord, sensitivity), nil
	}

	role := permission.Role(actor.Role)
	if !permission.HasPermission(role, resource.Action, resource.Type) {
		return deny(ReasonForbidden, sensitivity), nil
	}

	if !inScope(actor.Scope, resource) {
		return deny(ReasonOutOfScope, sensitivity), nil
	}

	if sensitivity != permission.SensitivityPart2 {
		return allow(ReasonRBAC, sensitivity), nil
	}

	switch permission.ClassOf(role) {
	case permission.ClassOperational:
		d := allow(ReasonOperationalPart2, sensitivity)
		if !resource.RedactionExempt {
			d.Redaction = &Redaction{Fields: permission.ProtectedFields(resource.Type)}
		}
		return d, nil
	case permission.ClassExternal:
		return e.decideByConsent(ctx, actor, resource, sensitivity)
	default:
		return deny(ReasonPart2Ceiling, sensitivity), nil
	}
}

// decideByConsent lets an external actor through only with an authorizing
// consent naming them. Otherwise the newest settled consent explains the
// denial.
func (e *Engine) decideByConsent(ctx context.Context, actor domain.Actor, resource Resource, sensitivity permission.Sensitivity) (Decision, error) {
	if resource.OwnerResidentID.IsNil() {
		return deny(ReasonConsentRequired, sensitivity), nil
	}
	if e.consents == nil {
		return Decision{}, dErrors.New(dErrors.CodeInternal, "consent lookup is not configured")
	}

	consents, err := e.consents.Lookup(ctx, resource.OrgID, resource.OwnerResidentID, actor.ID.String())
	if err != nil {
		e.metrics.IncrementConsentLookupError()
		e.logger.ErrorContext(ctx, "consent lookup failed", "error", err, "org_id", resource.OrgID.String())
		return Decision{}, dErrors.Wrap(err, dErrors.CodeInternal, "consent lookup failed")
	}

	now := requestcontext.Now(ctx)
	for _, c := range consents {
		if c.Authorizes(now) {
			d := allow(ReasonConsent, sensitivity)
			id := c.ID
			d.ConsentID = &id
			return d, nil
		}
	}
	for _, c := range consents {
		switch {
		case c.Status == consentModels.StatusPending:
			continue
		case consentModels.IsExpired(c, now):
			return deny(ReasonConsentExpired, sensitivity), nil
		case consentModels.IsRevoked(c):
			return deny(ReasonConsentRevoked, sensitivity), nil
		}
	}
	return deny(ReasonConsentRequired, sensitivity), nil
}

// inScope reports whether the actor's scope covers the resource. An actor
// without a scope, or with organization scope, covers every record. A
// resource without a scope path only fails resident-scoped actors whose
// resident differs.
func inScope(scope *domain.Scope, resource Resource) bool {
	if scope == nil {
		return true
	}
	switch scope.Type {
	case domain.ScopeOrganization:
		return true
	case domain.ScopeProperty:
		return resource.Scope == nil || resource.Scope.PropertyID == uuid.Nil || resource.Scope.PropertyID == scope.ID
	case domain.ScopeHouse:
		return resource.Scope == nil || resource.Scope.HouseID == uuid.Nil || resource.Scope.HouseID == scope.ID
	case domain.ScopeResident:
		return resource.OwnerResidentID.IsNil() || uuid.UUID(resource.OwnerResidentID) == scope.ID
	default:
		return false
	}
}
