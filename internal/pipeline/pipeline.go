// Package pipeline composes authentication, tenant resolution, the access
// decision, the business handler and the audit write into one call.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"carecore/internal/access"
	"carecore/internal/audit"
	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
	"carecore/pkg/requestcontext"
)

const tracerName = "carecore/internal/pipeline"

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Actor, error)
}

// TenantResolver checks the actor against the resource's organization and
// returns a context carrying the org id.
type TenantResolver interface {
	Resolve(ctx context.Context, actor domain.Actor, orgID domain.OrgID) (context.Context, error)
}

type Decider interface {
	Decide(ctx context.Context, actor domain.Actor, resource access.Resource) (access.Decision, error)
}

type FieldEncrypter interface {
	EncryptField(plaintext string, orgID domain.OrgID) (string, error)
}

// AuditSink queues entries without blocking the request.
type AuditSink interface {
	Enqueue(ctx context.Context, entry audit.Entry) bool
}

// Operation is one guarded call. OldValue and NewValue are plaintext; they
// are encrypted with the organization's key before reaching the audit log.
type Operation struct {
	Token       string
	Resource    access.Resource
	Description string
	OldValue    string
	NewValue    string
}

// Change lets a handler report values it only learns while running. Empty
// fields keep the Operation's values.
type Change struct {
	OldValue string
	NewValue string
}

// Handler runs only after an allow decision. The decision carries any
// redaction obligation the handler must apply.
type Handler func(ctx context.Context, decision access.Decision) (*Change, error)

type Pipeline struct {
	authn   Authenticator
	tenants TenantResolver
	engine  Decider
	cipher  FieldEncrypter
	audit   AuditSink
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

func New(authn Authenticator, tenants TenantResolver, engine Decider, cipher FieldEncrypter, sink AuditSink, opts ...Option) *Pipeline {
	p := &Pipeline{
		authn:   authn,
		tenants: tenants,
		engine:  engine,
		cipher:  cipher,
		audit:   sink,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes authenticate, resolve tenant, decide, handler and audit in
// that order. A failing stage stops the ones after it, except the audit
// write, which records every attempt. An actor already present in ctx skips
// token authentication.
func (p *Pipeline) Run(ctx context.Context, op Operation, handler Handler) (access.Decision, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("resource.type", string(op.Resource.Type)),
		attribute.String("resource.action", string(op.Resource.Action)),
	))
	defer span.End()

	actor, ok := requestcontext.Actor(ctx)
	if !ok {
		var err error
		actor, err = p.authn.Authenticate(ctx, op.Token)
		if err != nil {
			p.metrics.incRun(outcomeUnauthenticated)
			p.record(ctx, domain.Actor{}, op, access.Decision{}, audit.ActionAccessDenied, stageDescription("authenticate", err))
			return p.fail(span, access.Decision{}, err)
		}
		ctx = requestcontext.WithActor(ctx, actor)
	}
	span.SetAttributes(attribute.String("actor.role", actor.Role))

	ctx, err := p.tenants.Resolve(ctx, actor, op.Resource.OrgID)
	if err != nil {
		p.metrics.incRun(outcomeRejected)
		p.record(ctx, actor, op, access.Decision{}, audit.ActionAccessDenied, stageDescription("resolve_tenant", err))
		return p.fail(span, access.Decision{}, err)
	}

	decision, err := p.engine.Decide(ctx, actor, op.Resource)
	if err != nil {
		p.metrics.incRun(outcomeRejected)
		p.record(ctx, actor, op, decision, audit.ActionAccessDenied, stageDescription("decide", err))
		return p.fail(span, decision, err)
	}
	if !decision.Allow {
		p.metrics.incRun(outcomeDenied)
		p.record(ctx, actor, op, decision, audit.ActionAccessDenied, "denied: "+string(decision.Reason))
		return p.fail(span, decision, decision.Err())
	}

	change, err := handler(ctx, decision)
	if change != nil {
		if change.OldValue != "" {
			op.OldValue = change.OldValue
		}
		if change.NewValue != "" {
			op.NewValue = change.NewValue
		}
	}
	action := string(op.Resource.Action)
	if err != nil {
		p.metrics.incRun(outcomeFailed)
		p.record(ctx, actor, op, decision, action, fmt.Sprintf("%s_failed: %s", action, dErrors.CodeOf(err)))
		return p.fail(span, decision, err)
	}

	p.metrics.incRun(outcomeSucceeded)
	p.record(ctx, actor, op, decision, action, op.Description)
	return decision, nil
}

func (p *Pipeline) fail(span trace.Span, d access.Decision, err error) (access.Decision, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	return d, err
}

// record builds the audit entry and queues it. Attempts without a resource
// org have no chain to land on and are only logged.
func (p *Pipeline) record(ctx context.Context, actor domain.Actor, op Operation, d access.Decision, action, description string) {
	orgID := op.Resource.OrgID
	if orgID.IsNil() {
		p.logger.WarnContext(ctx, "audit entry skipped: resource has no organization",
			"action", action,
			"request_id", requestcontext.RequestID(ctx),
		)
		return
	}

	sensitivity := d.Sensitivity
	if sensitivity == "" {
		sensitivity = op.Resource.EffectiveSensitivity()
	}
	entry := audit.Entry{
		OrgID:        orgID,
		ActorType:    audit.ActorTypeAnonymous,
		Action:       action,
		ResourceType: string(op.Resource.Type),
		ResourceID:   op.Resource.ID.String(),
		Sensitivity:  string(sensitivity),
		Description:  description,
		CreatedAt:    requestcontext.Now(ctx),
	}
	if !actor.ID.IsNil() {
		entry.ActorID = actor.ID.String()
		entry.ActorType = string(actor.Kind)
	}
	entry.OldValue = p.seal(ctx, op.OldValue, orgID)
	entry.NewValue = p.seal(ctx, op.NewValue, orgID)

	if !p.audit.Enqueue(ctx, entry) {
		p.metrics.incAuditDrop()
	}
}

// seal encrypts a value for the audit log. A value that cannot be encrypted
// is left out rather than written in plaintext.
func (p *Pipeline) seal(ctx context.Context, value string, orgID domain.OrgID) string {
	if value == "" {
		return ""
	}
	sealed, err := p.cipher.EncryptField(value, orgID)
	if err != nil {
		p.metrics.incValueEncryptionFailure()
		p.logger.ErrorContext(ctx, "CRITICAL: audit value encryption failed",
			"org_id", orgID.String(),
			"error", err,
		)
		return ""
	}
	return sealed
}

func stageDescription(stage string, err error) string {
	return fmt.Sprintf("%s: %s", stage, dErrors.CodeOf(err))
}
