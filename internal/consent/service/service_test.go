package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"carecore/internal/audit"
	"carecore/internal/consent/models"
	"carecore/internal/consent/service/mocks"
	"carecore/internal/consent/store"
	"carecore/internal/encryption"
	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
	"carecore/pkg/requestcontext"
)

// =============================================================================
// Consent Service Test Suite
// =============================================================================

type ConsentServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	store   *store.InMemory
	cipher  *encryption.Service
	emitter *mocks.MockAuditEmitter
	service *Service

	mu      sync.Mutex
	entries []audit.Entry

	ctx      context.Context
	now      time.Time
	org      domain.OrgID
	resident domain.ResidentID
	actor    domain.ActorID
}

func TestConsentServiceSuite(t *testing.T) {
	suite.Run(t, new(ConsentServiceSuite))
}

func (s *ConsentServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = store.NewInMemory()

	var err error
	s.cipher, err = encryption.New(bytes.Repeat([]byte{3}, 32), encryption.NewKeyCache())
	s.Require().NoError(err)

	s.entries = nil
	s.emitter = mocks.NewMockAuditEmitter(s.ctrl)
	s.emitter.EXPECT().Enqueue(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Entry) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.entries = append(s.entries, e)
		return true
	}).AnyTimes()

	s.service, err = New(s.store, s.cipher, WithAuditEmitter(s.emitter))
	s.Require().NoError(err)

	s.now = time.Date(2025, 5, 10, 14, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.org = domain.NewOrgID()
	s.resident = domain.NewResidentID()
	s.actor = domain.NewActorID()
}

func (s *ConsentServiceSuite) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Action)
	}
	return out
}

func (s *ConsentServiceSuite) request(recipient string, expiresAt *time.Time) models.CreateRequest {
	return models.CreateRequest{
		OrgID:              s.org,
		ResidentID:         s.resident,
		Recipient:          recipient,
		Purpose:            "continuity of care",
		ScopeOfInformation: []string{"drug_tests", " case_notes ", "drug_tests"},
		ExpiresAt:          expiresAt,
	}
}

func (s *ConsentServiceSuite) activeConsent(recipient string, expiresAt *time.Time) *models.Consent {
	c, err := s.service.Create(s.ctx, s.request(recipient, expiresAt))
	s.Require().NoError(err)
	c, err = s.service.Activate(s.ctx, c.ID, s.now)
	s.Require().NoError(err)
	return c
}

func (s *ConsentServiceSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *ConsentServiceSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil, s.cipher)
		s.ErrorContains(err, "consent store is required")
	})

	s.Run("nil cipher returns error", func() {
		_, err := New(s.store, nil)
		s.ErrorContains(err, "field cipher is required")
	})
}

// =============================================================================
// Create / Activate
// =============================================================================

func (s *ConsentServiceSuite) TestCreate() {
	s.Run("stores a pending consent with an encrypted recipient", func() {
		c, err := s.service.Create(s.ctx, s.request("  Dr.Smith@Clinic.example ", nil))
		s.Require().NoError(err)

		s.Equal(models.StatusPending, c.Status)
		s.NotContains(c.Recipient, "smith")
		s.Equal([]string{"drug_tests", "case_notes"}, c.ScopeOfInformation)

		plaintext, err := s.cipher.DecryptField(s.ctx, c.Recipient, s.org)
		s.Require().NoError(err)
		s.Equal("dr.smith@clinic.example", plaintext)

		digest, err := s.cipher.Digest("dr.smith@clinic.example", s.org)
		s.Require().NoError(err)
		s.Equal(digest, c.RecipientDigest)
		s.Contains(s.actions(), audit.ActionConsentCreated)
	})

	s.Run("rejects invalid requests", func() {
		past := s.now.Add(-time.Hour)
		cases := map[string]func(r *models.CreateRequest){
			"missing org":      func(r *models.CreateRequest) { r.OrgID = domain.OrgID{} },
			"missing resident": func(r *models.CreateRequest) { r.ResidentID = domain.ResidentID{} },
			"blank recipient":  func(r *models.CreateRequest) { r.Recipient = "   " },
			"blank purpose":    func(r *models.CreateRequest) { r.Purpose = "" },
			"empty scope":      func(r *models.CreateRequest) { r.ScopeOfInformation = []string{" "} },
			"past expiration":  func(r *models.CreateRequest) { r.ExpiresAt = &past },
		}
		for name, mutate := range cases {
			req := s.request("partner", nil)
			mutate(&req)
			_, err := s.service.Create(s.ctx, req)
			s.Truef(dErrors.HasCode(err, dErrors.CodeInvalidInput), "%s: %v", name, err)
		}
	})
}

func (s *ConsentServiceSuite) TestActivate() {
	s.Run("pending becomes active", func() {
		c, err := s.service.Create(s.ctx, s.request("partner", nil))
		s.Require().NoError(err)

		active, err := s.service.Activate(s.ctx, c.ID, s.now)
		s.Require().NoError(err)
		s.Equal(models.StatusActive, active.Status)
		s.Require().NotNil(active.GrantedAt)
		s.Equal(s.now, *active.GrantedAt)
	})

	s.Run("active cannot be activated again", func() {
		c := s.activeConsent("partner-2", nil)
		_, err := s.service.Activate(s.ctx, c.ID, s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown consent", func() {
		_, err := s.service.Activate(s.ctx, domain.NewConsentID(), s.now)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ConsentServiceSuite) TestGet() {
	c, err := s.service.Create(s.ctx, s.request("partner", nil))
	s.Require().NoError(err)

	got, err := s.service.Get(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(c.ID, got.ID)
	s.NotEqual("partner", got.Recipient)

	_, err = s.service.Get(s.ctx, domain.NewConsentID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.service.Get(s.ctx, domain.ConsentID{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

// =============================================================================
// Lookup / ActiveConsent
// =============================================================================

func (s *ConsentServiceSuite) TestActiveConsent() {
	expires := s.now.Add(24 * time.Hour)
	c := s.activeConsent("Family@Example.org", &expires)

	s.Run("matches the recipient regardless of case", func() {
		got, err := s.service.ActiveConsent(s.ctx, s.org, s.resident, "family@example.org")
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(c.ID, got.ID)
	})

	s.Run("no consent for another recipient", func() {
		got, err := s.service.ActiveConsent(s.ctx, s.org, s.resident, "stranger@example.org")
		s.Require().NoError(err)
		s.Nil(got)
	})

	s.Run("no consent in another org", func() {
		got, err := s.service.ActiveConsent(s.ctx, domain.NewOrgID(), s.resident, "family@example.org")
		s.Require().NoError(err)
		s.Nil(got)
	})

	s.Run("expired consent no longer authorizes before the sweep runs", func() {
		got, err := s.service.ActiveConsent(s.at(expires.Add(time.Second)), s.org, s.resident, "family@example.org")
		s.Require().NoError(err)
		s.Nil(got)
	})

	s.Run("lookup returns the full history", func() {
		all, err := s.service.Lookup(s.ctx, s.org, s.resident, "FAMILY@example.org")
		s.Require().NoError(err)
		s.Len(all, 1)
	})
}

// =============================================================================
// Revoke
// =============================================================================

func (s *ConsentServiceSuite) TestRevoke() {
	s.Run("active consent is revoked immediately", func() {
		c := s.activeConsent("revoke-1", nil)

		revoked, err := s.service.Revoke(s.ctx, c.ID, "resident request", s.actor)
		s.Require().NoError(err)
		s.Equal(models.StatusRevoked, revoked.Status)
		s.Equal("resident request", revoked.RevocationReason)
		s.Require().NotNil(revoked.RevokedBy)
		s.Equal(s.actor, *revoked.RevokedBy)
		s.Require().NotNil(revoked.RevokedAt)
		s.Equal(s.now, *revoked.RevokedAt)

		got, err := s.service.ActiveConsent(s.ctx, s.org, s.resident, "revoke-1")
		s.Require().NoError(err)
		s.Nil(got)
		s.Contains(s.actions(), audit.ActionConsentRevoked)
	})

	s.Run("revoking twice conflicts", func() {
		c := s.activeConsent("revoke-2", nil)
		_, err := s.service.Revoke(s.ctx, c.ID, "first", s.actor)
		s.Require().NoError(err)

		_, err = s.service.Revoke(s.ctx, c.ID, "second", s.actor)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("expired consent cannot be revoked", func() {
		expires := s.now.Add(time.Hour)
		c := s.activeConsent("revoke-3", &expires)

		_, err := s.service.Revoke(s.at(expires.Add(time.Minute)), c.ID, "late", s.actor)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("pending consent can be withdrawn", func() {
		c, err := s.service.Create(s.ctx, s.request("revoke-4", nil))
		s.Require().NoError(err)

		revoked, err := s.service.Revoke(s.ctx, c.ID, "changed mind", s.actor)
		s.Require().NoError(err)
		s.Equal(models.StatusRevoked, revoked.Status)
	})

	s.Run("reason is required", func() {
		c := s.activeConsent("revoke-5", nil)
		_, err := s.service.Revoke(s.ctx, c.ID, " ", s.actor)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown consent", func() {
		_, err := s.service.Revoke(s.ctx, domain.NewConsentID(), "gone", s.actor)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// ExpireDue
// =============================================================================

func (s *ConsentServiceSuite) TestExpireDue() {
	soon := s.now.Add(time.Hour)
	later := s.now.Add(48 * time.Hour)
	a := s.activeConsent("expire-a", &soon)
	b := s.activeConsent("expire-b", &soon)
	c := s.activeConsent("expire-c", &later)
	revoked := s.activeConsent("expire-d", &soon)
	_, err := s.service.Revoke(s.ctx, revoked.ID, "withdrawn", s.actor)
	s.Require().NoError(err)

	sweepAt := soon.Add(time.Minute)
	n, err := s.service.ExpireDue(s.at(sweepAt), sweepAt)
	s.Require().NoError(err)
	s.Equal(2, n)

	for _, id := range []domain.ConsentID{a.ID, b.ID} {
		got, err := s.store.FindByID(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, got.Status)
		s.Equal(models.ReasonAutoExpired, got.RevocationReason)
		s.Nil(got.RevokedAt)
	}

	untouched, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, untouched.Status)

	stillRevoked, err := s.store.FindByID(s.ctx, revoked.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, stillRevoked.Status)

	expiredEvents := 0
	for _, action := range s.actions() {
		if action == audit.ActionConsentExpired {
			expiredEvents++
		}
	}
	s.Equal(2, expiredEvents)

	n, err = s.service.ExpireDue(s.at(sweepAt), sweepAt)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *ConsentServiceSuite) TestExpireDueStoreFailure() {
	mockStore := mocks.NewMockStore(s.ctrl)
	svc, err := New(mockStore, s.cipher)
	s.Require().NoError(err)

	mockStore.EXPECT().ListDue(gomock.Any(), s.now).Return(nil, errors.New("connection refused"))

	_, err = svc.ExpireDue(s.ctx, s.now)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

// =============================================================================
// Renew
// =============================================================================

func (s *ConsentServiceSuite) TestRenew() {
	next := s.now.Add(90 * 24 * time.Hour)

	s.Run("revoked consent renews into a new active record", func() {
		c := s.activeConsent("renew-1", nil)
		_, err := s.service.Revoke(s.ctx, c.ID, "paused", s.actor)
		s.Require().NoError(err)

		renewed, err := s.service.Renew(s.ctx, c.ID, next)
		s.Require().NoError(err)
		s.NotEqual(c.ID, renewed.ID)
		s.Equal(models.StatusActive, renewed.Status)
		s.Require().NotNil(renewed.RenewedFrom)
		s.Equal(c.ID, *renewed.RenewedFrom)
		s.Equal(c.RecipientDigest, renewed.RecipientDigest)
		s.Equal(c.ScopeOfInformation, renewed.ScopeOfInformation)
		s.Equal(next, *renewed.ExpiresAt)

		source, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusRevoked, source.Status)
		s.Contains(s.actions(), audit.ActionConsentRenewed)
	})

	s.Run("expired consent renews", func() {
		soon := s.now.Add(time.Hour)
		c := s.activeConsent("renew-2", &soon)
		later := soon.Add(time.Minute)
		_, err := s.service.ExpireDue(s.at(later), later)
		s.Require().NoError(err)

		renewed, err := s.service.Renew(s.at(later), c.ID, next)
		s.Require().NoError(err)
		s.Equal(models.StatusActive, renewed.Status)
	})

	s.Run("active consent cannot be renewed", func() {
		c := s.activeConsent("renew-3", nil)
		_, err := s.service.Renew(s.ctx, c.ID, next)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("pending consent cannot be renewed", func() {
		c, err := s.service.Create(s.ctx, s.request("renew-4", nil))
		s.Require().NoError(err)
		_, err = s.service.Renew(s.ctx, c.ID, next)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("past expiration is invalid", func() {
		c := s.activeConsent("renew-5", nil)
		_, err := s.service.Revoke(s.ctx, c.ID, "x", s.actor)
		s.Require().NoError(err)
		_, err = s.service.Renew(s.ctx, c.ID, s.now.Add(-time.Second))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown consent", func() {
		_, err := s.service.Renew(s.ctx, domain.NewConsentID(), next)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("concurrent renewals of one source produce one record", func() {
		c := s.activeConsent("renew-6", nil)
		_, err := s.service.Revoke(s.ctx, c.ID, "x", s.actor)
		s.Require().NoError(err)

		var wg sync.WaitGroup
		var ok, conflicts atomic.Int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.service.Renew(s.ctx, c.ID, next)
				switch {
				case err == nil:
					ok.Add(1)
				case dErrors.HasCode(err, dErrors.CodeConflict):
					conflicts.Add(1)
				}
			}()
		}
		wg.Wait()
		s.Equal(int32(1), ok.Load())
		s.Equal(int32(9), conflicts.Load())
	})
}

func (s *ConsentServiceSuite) TestAuditEntriesCarryActor() {
	actor := domain.Actor{ID: s.actor, Kind: domain.ActorKindStaffUser, Role: "case_manager", OrgID: s.org}
	ctx := requestcontext.WithActor(s.ctx, actor)

	_, err := s.service.Create(ctx, s.request("actor-check", nil))
	s.Require().NoError(err)

	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.entries[len(s.entries)-1]
	s.Equal(s.actor.String(), last.ActorID)
	s.Equal("staff_user", last.ActorType)
	s.Equal(s.org, last.OrgID)
	s.Equal("consent", last.ResourceType)
	s.Equal("part2", last.Sensitivity)
}
