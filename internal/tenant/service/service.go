package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"carecore/internal/audit"
	tenantmetrics "carecore/internal/tenant/metrics"
	"carecore/internal/tenant/models"
	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
	"carecore/pkg/platform/sentinel"
	"carecore/pkg/requestcontext"
)

type Store interface {
	CreateIfNameAvailable(ctx context.Context, org *models.Organization) error
	FindByID(ctx context.Context, orgID domain.OrgID) (*models.Organization, error)
	Execute(ctx context.Context, orgID domain.OrgID, validate func(*models.Organization) error, mutate func(*models.Organization)) (*models.Organization, error)
}

// AuditEmitter records organization lifecycle events. Enqueue must not block.
type AuditEmitter interface {
	Enqueue(ctx context.Context, entry audit.Entry) bool
}

// Service resolves the tenant of each request and manages organization
// status.
type Service struct {
	orgs    Store
	audit   AuditEmitter
	logger  *slog.Logger
	metrics *tenantmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditEmitter(emitter AuditEmitter) Option {
	return func(s *Service) {
		s.audit = emitter
	}
}

func WithMetrics(m *tenantmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(orgs Store, opts ...Option) *Service {
	s := &Service{orgs: orgs}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve binds the request to the organization that owns the resource. The
// actor must belong to that organization and the organization must be
// active. The returned context carries the org id.
func (s *Service) Resolve(ctx context.Context, actor domain.Actor, orgID domain.OrgID) (context.Context, error) {
	start := time.Now()
	defer s.metrics.ObserveResolve(start)

	if orgID.IsNil() {
		s.metrics.IncrementResolution("invalid")
		return ctx, dErrors.New(dErrors.CodeInvalidInput, "resource organization is required")
	}
	if actor.OrgID.IsNil() || actor.OrgID != orgID {
		s.metrics.IncrementResolution("mismatch")
		return ctx, dErrors.New(dErrors.CodeTenantMismatch, "actor does not belong to the resource organization")
	}

	org, err := s.orgs.FindByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.metrics.IncrementResolution("not_found")
			return ctx, dErrors.New(dErrors.CodeNotFound, "organization not found")
		}
		s.metrics.IncrementResolution("error")
		return ctx, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load organization")
	}
	if !org.IsActive() {
		s.metrics.IncrementResolution("suspended")
		return ctx, dErrors.New(dErrors.CodeForbidden, "organization is suspended")
	}

	s.metrics.IncrementResolution("ok")
	return requestcontext.WithOrgID(ctx, org.ID), nil
}

func (s *Service) CreateOrganization(ctx context.Context, name string) (*models.Organization, error) {
	org, err := models.NewOrganization(domain.NewOrgID(), name, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.orgs.CreateIfNameAvailable(ctx, org); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "organization name must be unique")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create organization")
	}
	s.emit(ctx, audit.ActionOrgCreated, org)
	return org, nil
}

func (s *Service) GetOrganization(ctx context.Context, orgID domain.OrgID) (*models.Organization, error) {
	if orgID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "org id is required")
	}
	org, err := s.orgs.FindByID(ctx, orgID)
	if err != nil {
		return nil, wrapOrgErr(err)
	}
	return org, nil
}

// Suspend blocks every request against the organization until it is
// reactivated.
func (s *Service) Suspend(ctx context.Context, orgID domain.OrgID) (*models.Organization, error) {
	now := requestcontext.Now(ctx)
	org, err := s.orgs.Execute(ctx, orgID,
		func(o *models.Organization) error { return o.CanSuspend() },
		func(o *models.Organization) { o.ApplySuspension(now) },
	)
	if err != nil {
		return nil, wrapOrgErr(err)
	}
	s.emit(ctx, audit.ActionOrgSuspended, org)
	return org, nil
}

func (s *Service) Reactivate(ctx context.Context, orgID domain.OrgID) (*models.Organization, error) {
	now := requestcontext.Now(ctx)
	org, err := s.orgs.Execute(ctx, orgID,
		func(o *models.Organization) error { return o.CanReactivate() },
		func(o *models.Organization) { o.ApplyReactivation(now) },
	)
	if err != nil {
		return nil, wrapOrgErr(err)
	}
	s.emit(ctx, audit.ActionOrgReactivated, org)
	return org, nil
}

func (s *Service) emit(ctx context.Context, action string, org *models.Organization) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, action,
			"org_id", org.ID.String(),
			"status", string(org.Status),
			"log_type", "audit",
		)
	}
	if s.audit == nil {
		return
	}
	entry := audit.Entry{
		OrgID:        org.ID,
		ActorType:    audit.ActorTypeSystem,
		Action:       action,
		ResourceType: "organization",
		ResourceID:   org.ID.String(),
		CreatedAt:    requestcontext.Now(ctx),
	}
	if actor, ok := requestcontext.Actor(ctx); ok {
		entry.ActorID = actor.ID.String()
		entry.ActorType = string(actor.Kind)
	}
	if !s.audit.Enqueue(ctx, entry) && s.logger != nil {
		s.logger.ErrorContext(ctx, "CRITICAL: organization audit entry dropped",
			"action", action,
			"org_id", org.ID.String(),
		)
	}
}

func wrapOrgErr(err error) error {
	var coded *dErrors.Error
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "organization not found")
	case errors.As(err, &coded):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update organization")
	}
}
