package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"carecore/internal/audit"
	tenantmetrics "carecore/internal/tenant/metrics"
	"carecore/internal/tenant/models"
	"carecore/internal/tenant/store"
	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
	"carecore/pkg/requestcontext"
)

type recordingEmitter struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingEmitter) Enqueue(_ context.Context, e audit.Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return true
}

type brokenStore struct{ *store.InMemory }

func (brokenStore) FindByID(context.Context, domain.OrgID) (*models.Organization, error) {
	return nil, errors.New("connection refused")
}

type TenantServiceSuite struct {
	suite.Suite
	ctx     context.Context
	store   *store.InMemory
	emitter *recordingEmitter
	metrics *tenantmetrics.Metrics
	service *Service
}

func TestTenantServiceSuite(t *testing.T) {
	suite.Run(t, new(TenantServiceSuite))
}

func (s *TenantServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	s.store = store.NewInMemory()
	s.emitter = &recordingEmitter{}
	s.metrics = tenantmetrics.New(prometheus.NewRegistry())
	s.service = New(s.store, WithAuditEmitter(s.emitter), WithMetrics(s.metrics))
}

func (s *TenantServiceSuite) actorIn(orgID domain.OrgID) domain.Actor {
	return domain.Actor{ID: domain.NewActorID(), Kind: domain.ActorKindStaffUser, Role: "house_manager", OrgID: orgID}
}

func (s *TenantServiceSuite) TestResolve() {
	org, err := s.service.CreateOrganization(s.ctx, "Willow Recovery")
	s.Require().NoError(err)

	s.Run("attaches org id for a member", func() {
		ctx, err := s.service.Resolve(s.ctx, s.actorIn(org.ID), org.ID)
		s.Require().NoError(err)
		s.Equal(org.ID, requestcontext.OrgID(ctx))
	})

	s.Run("actor from another org is a tenant mismatch", func() {
		_, err := s.service.Resolve(s.ctx, s.actorIn(domain.NewOrgID()), org.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeTenantMismatch))
	})

	s.Run("actor without org is a tenant mismatch", func() {
		_, err := s.service.Resolve(s.ctx, domain.Actor{ID: domain.NewActorID()}, org.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeTenantMismatch))
	})

	s.Run("missing resource org", func() {
		_, err := s.service.Resolve(s.ctx, s.actorIn(org.ID), domain.OrgID{})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown org", func() {
		unknown := domain.NewOrgID()
		_, err := s.service.Resolve(s.ctx, s.actorIn(unknown), unknown)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("suspended org is forbidden", func() {
		_, err := s.service.Suspend(s.ctx, org.ID)
		s.Require().NoError(err)
		ctx, err := s.service.Resolve(s.ctx, s.actorIn(org.ID), org.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.True(requestcontext.OrgID(ctx).IsNil())
	})

	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.Resolutions.WithLabelValues("ok")))
	s.Equal(2.0, promtestutil.ToFloat64(s.metrics.Resolutions.WithLabelValues("mismatch")))
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.Resolutions.WithLabelValues("suspended")))
}

func (s *TenantServiceSuite) TestResolveStoreFailure() {
	svc := New(brokenStore{store.NewInMemory()})
	orgID := domain.NewOrgID()
	_, err := svc.Resolve(s.ctx, s.actorIn(orgID), orgID)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *TenantServiceSuite) TestCreateOrganization() {
	org, err := s.service.CreateOrganization(s.ctx, "Birch Lane")
	s.Require().NoError(err)
	s.Equal(models.StatusActive, org.Status)

	_, err = s.service.CreateOrganization(s.ctx, "BIRCH LANE")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.service.CreateOrganization(s.ctx, "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	s.Require().Len(s.emitter.entries, 1)
	s.Equal(audit.ActionOrgCreated, s.emitter.entries[0].Action)
	s.Equal(org.ID, s.emitter.entries[0].OrgID)
	s.Equal(audit.ActorTypeSystem, s.emitter.entries[0].ActorType)
}

func (s *TenantServiceSuite) TestSuspendAndReactivate() {
	org, err := s.service.CreateOrganization(s.ctx, "Maple")
	s.Require().NoError(err)

	admin := s.actorIn(org.ID)
	ctx := requestcontext.WithActor(s.ctx, admin)

	suspended, err := s.service.Suspend(ctx, org.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSuspended, suspended.Status)

	_, err = s.service.Suspend(ctx, org.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	active, err := s.service.Reactivate(ctx, org.ID)
	s.Require().NoError(err)
	s.True(active.IsActive())

	_, err = s.service.Reactivate(ctx, domain.NewOrgID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	last := s.emitter.entries[len(s.emitter.entries)-1]
	s.Equal(audit.ActionOrgReactivated, last.Action)
	s.Equal(admin.ID.String(), last.ActorID)
}

func (s *TenantServiceSuite) TestGetOrganization() {
	_, err := s.service.GetOrganization(s.ctx, domain.OrgID{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.service.GetOrganization(s.ctx, domain.NewOrgID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
