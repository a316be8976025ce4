package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"carecore/internal/audit"
	"carecore/internal/consent/models"
	"carecore/internal/permission"
	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
	"carecore/pkg/platform/sentinel"
	platformstrings "carecore/pkg/platform/strings"
	"carecore/pkg/requestcontext"
)

// Store persists consents. FindByID and Execute return sentinel.ErrNotFound
// for unknown ids. ListByRecipient returns newest first.
type Store interface {
	Create(ctx context.Context, consent *models.Consent) error
	FindByID(ctx context.Context, id domain.ConsentID) (*models.Consent, error)
	ListByRecipient(ctx context.Context, orgID domain.OrgID, residentID domain.ResidentID, recipientDigest string) ([]*models.Consent, error)
	ListDue(ctx context.Context, now time.Time) ([]*models.Consent, error)
	// Execute loads the consent under a row lock, runs validate, and applies
	// mutate only when validate passes.
	Execute(ctx context.Context, id domain.ConsentID, validate func(*models.Consent) error, mutate func(*models.Consent)) (*models.Consent, error)
}

// FieldCipher encrypts the recipient and computes its lookup digest.
type FieldCipher interface {
	EncryptField(plaintext string, orgID domain.OrgID) (string, error)
	Digest(value string, orgID domain.OrgID) (string, error)
}

// AuditEmitter records lifecycle events. Enqueue must not block.
type AuditEmitter interface {
	Enqueue(ctx context.Context, entry audit.Entry) bool
}

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store FieldCipher AuditEmitter

type Service struct {
	store   Store
	tx      ConsentStoreTx
	cipher  FieldCipher
	audit   AuditEmitter
	logger  *slog.Logger
	metrics *Metrics
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

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTx replaces the default in-memory sharded transaction, e.g. with a
// Postgres-backed one.
func WithTx(tx ConsentStoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func New(store Store, cipher FieldCipher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("consent store is required")
	}
	if cipher == nil {
		return nil, errors.New("field cipher is required")
	}
	svc := &Service{
		store:  store,
		cipher: cipher,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.tx == nil {
		svc.tx = NewShardedConsentTx(store, 0)
	}
	return svc, nil
}

// NormalizeRecipient canonicalizes a recipient before digesting so that
// case and surrounding whitespace do not split one recipient into many.
func NormalizeRecipient(recipient string) string {
	return strings.ToLower(strings.TrimSpace(recipient))
}

// Create records a pending consent awaiting signature.
func (s *Service) Create(ctx context.Context, req models.CreateRequest) (*models.Consent, error) {
	now := requestcontext.Now(ctx)
	scope := platformstrings.DedupeAndTrim(req.ScopeOfInformation)
	switch {
	case req.OrgID.IsNil():
		return nil, dErrors.New(dErrors.CodeInvalidInput, "org id is required")
	case req.ResidentID.IsNil():
		return nil, dErrors.New(dErrors.CodeInvalidInput, "resident id is required")
	case NormalizeRecipient(req.Recipient) == "":
		return nil, dErrors.New(dErrors.CodeInvalidInput, "recipient is required")
	case strings.TrimSpace(req.Purpose) == "":
		return nil, dErrors.New(dErrors.CodeInvalidInput, "purpose is required")
	case len(scope) == 0:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "scope of information must list at least one category")
	case req.ExpiresAt != nil && !req.ExpiresAt.After(now):
		return nil, dErrors.New(dErrors.CodeInvalidInput, "expiration must be in the future")
	}

	ciphertext, digest, err := s.protectRecipient(req.Recipient, req.OrgID)
	if err != nil {
		return nil, err
	}

	consent := &models.Consent{
		ID:                 domain.NewConsentID(),
		OrgID:              req.OrgID,
		ResidentID:         req.ResidentID,
		Status:             models.StatusPending,
		ExpiresAt:          req.ExpiresAt,
		Recipient:          ciphertext,
		RecipientDigest:    digest,
		Purpose:            strings.TrimSpace(req.Purpose),
		ScopeOfInformation: scope,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(ctx, consent); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create consent")
	}

	s.metrics.incTransition(models.StatusPending)
	s.emit(ctx, audit.ActionConsentCreated, consent, "consent recorded, awaiting signature")
	return consent, nil
}

func (s *Service) protectRecipient(recipient string, orgID domain.OrgID) (string, string, error) {
	normalized := NormalizeRecipient(recipient)
	ciphertext, err := s.cipher.EncryptField(normalized, orgID)
	if err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to encrypt recipient")
	}
	digest, err := s.cipher.Digest(normalized, orgID)
	if err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to digest recipient")
	}
	return ciphertext, digest, nil
}

// Activate moves a pending consent to active once it is signed.
func (s *Service) Activate(ctx context.Context, id domain.ConsentID, signedAt time.Time) (*models.Consent, error) {
	now := requestcontext.Now(ctx)
	consent, err := s.store.Execute(ctx, id,
		func(c *models.Consent) error {
			if c.Status != models.StatusPending {
				return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("consent is %s, only pending consents can be activated", c.Status))
			}
			if c.ExpiresAt != nil && !c.ExpiresAt.After(signedAt) {
				return dErrors.New(dErrors.CodeInvalidInput, "consent expires before it was signed")
			}
			return nil
		},
		func(c *models.Consent) {
			signed := signedAt
			c.Status = models.StatusActive
			c.GrantedAt = &signed
			c.UpdatedAt = now
		},
	)
	if err != nil {
		return nil, translateStoreErr(err, "failed to activate consent")
	}

	s.metrics.incTransition(models.StatusActive)
	s.emit(ctx, audit.ActionConsentActivated, consent, "consent signed and activated")
	return consent, nil
}

// Get loads one consent. The recipient stays encrypted.
func (s *Service) Get(ctx context.Context, id domain.ConsentID) (*models.Consent, error) {
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "consent id is required")
	}
	c, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
	}
	return c, nil
}

// Lookup returns every consent for the resident and recipient, newest first.
func (s *Service) Lookup(ctx context.Context, orgID domain.OrgID, residentID domain.ResidentID, recipient string) ([]*models.Consent, error) {
	digest, err := s.cipher.Digest(NormalizeRecipient(recipient), orgID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to digest recipient")
	}
	consents, err := s.store.ListByRecipient(ctx, orgID, residentID, digest)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consents")
	}
	return consents, nil
}

// ActiveConsent returns the consent currently authorizing disclosure to
// recipient, or nil when none does.
func (s *Service) ActiveConsent(ctx context.Context, orgID domain.OrgID, residentID domain.ResidentID, recipient string) (*models.Consent, error) {
	consents, err := s.Lookup(ctx, orgID, residentID, recipient)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	for _, c := range consents {
		if c.Authorizes(now) {
			return c, nil
		}
	}
	return nil, nil
}

// Revoke withdraws a pending or active consent immediately. Disclosures
// made before revocation are unaffected.
func (s *Service) Revoke(ctx context.Context, id domain.ConsentID, reason string, actor domain.ActorID) (*models.Consent, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "revocation reason is required")
	}
	now := requestcontext.Now(ctx)
	consent, err := s.store.Execute(ctx, id,
		func(c *models.Consent) error {
			switch {
			case models.IsRevoked(c):
				return dErrors.New(dErrors.CodeConflict, "consent already revoked")
			case models.IsExpired(c, now):
				return dErrors.New(dErrors.CodeConflict, "consent already expired")
			}
			return nil
		},
		func(c *models.Consent) {
			revokedAt := now
			by := actor
			c.Status = models.StatusRevoked
			c.RevokedAt = &revokedAt
			c.RevokedBy = &by
			c.RevocationReason = reason
			c.UpdatedAt = now
		},
	)
	if err != nil {
		return nil, translateStoreErr(err, "failed to revoke consent")
	}

	s.metrics.incTransition(models.StatusRevoked)
	s.emit(ctx, audit.ActionConsentRevoked, consent, "consent revoked: "+reason)
	return consent, nil
}

var errNoLongerDue = errors.New("consent no longer due")

// ExpireDue marks every active consent whose expiration has passed as
// expired and returns how many it changed. Consents revoked concurrently are
// skipped.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list due consents")
	}

	expired := 0
	for _, candidate := range due {
		consent, err := s.store.Execute(ctx, candidate.ID,
			func(c *models.Consent) error {
				if c.Status != models.StatusActive || c.RevokedAt != nil || c.ExpiresAt == nil || c.ExpiresAt.After(now) {
					return errNoLongerDue
				}
				return nil
			},
			func(c *models.Consent) {
				c.Status = models.StatusExpired
				c.RevocationReason = models.ReasonAutoExpired
				c.UpdatedAt = now
			},
		)
		if errors.Is(err, errNoLongerDue) || errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return expired, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire consent")
		}
		expired++
		s.metrics.incTransition(models.StatusExpired)
		s.emit(ctx, audit.ActionConsentExpired, consent, "consent reached its expiration")
	}

	if expired > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "consents expired", "count", expired)
	}
	return expired, nil
}

// Renew creates a new active consent from a revoked or expired one,
// carrying its recipient, purpose and scope forward.
func (s *Service) Renew(ctx context.Context, id domain.ConsentID, newExpiration time.Time) (*models.Consent, error) {
	now := requestcontext.Now(ctx)
	if !newExpiration.After(now) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "new expiration must be in the future")
	}

	var renewed *models.Consent
	err := s.tx.RunInTx(withShardKey(ctx, id.String()), func(store Store) error {
		source, err := store.FindByID(ctx, id)
		if err != nil {
			return translateStoreErr(err, "failed to load consent")
		}
		if source.Status == models.StatusPending || source.Authorizes(now) {
			return dErrors.New(dErrors.CodeConflict, "consent is still "+string(source.Status)+"; revoke it or let it expire before renewing")
		}

		granted := now
		expires := newExpiration
		from := source.ID
		renewed = &models.Consent{
			ID:                 domain.NewConsentID(),
			OrgID:              source.OrgID,
			ResidentID:         source.ResidentID,
			Status:             models.StatusActive,
			GrantedAt:          &granted,
			ExpiresAt:          &expires,
			Recipient:          source.Recipient,
			RecipientDigest:    source.RecipientDigest,
			Purpose:            source.Purpose,
			ScopeOfInformation: append([]string(nil), source.ScopeOfInformation...),
			RenewedFrom:        &from,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := store.Create(ctx, renewed); err != nil {
			return translateStoreErr(err, "failed to create renewed consent")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.incTransition(models.StatusActive)
	s.emit(ctx, audit.ActionConsentRenewed, renewed, "consent renewed from "+id.String())
	return renewed, nil
}

func translateStoreErr(err error, msg string) error {
	var coded *dErrors.Error
	switch {
	case errors.As(err, &coded):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "consent not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "consent was modified concurrently")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) emit(ctx context.Context, action string, c *models.Consent, description string) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, action,
			"consent_id", c.ID.String(),
			"org_id", c.OrgID.String(),
			"status", string(c.Status),
			"log_type", "audit",
		)
	}
	if s.audit == nil {
		return
	}

	entry := audit.Entry{
		OrgID:        c.OrgID,
		ActorType:    audit.ActorTypeSystem,
		Action:       action,
		ResourceType: string(permission.ResourceConsent),
		ResourceID:   c.ID.String(),
		Sensitivity:  string(permission.SensitivityPart2),
		Description:  description,
		CreatedAt:    requestcontext.Now(ctx),
	}
	if actor, ok := requestcontext.Actor(ctx); ok {
		entry.ActorID = actor.ID.String()
		entry.ActorType = string(actor.Kind)
	}
	if !s.audit.Enqueue(ctx, entry) && s.logger != nil {
		s.logger.ErrorContext(ctx, "CRITICAL: consent audit entry dropped",
			"action", action,
			"consent_id", c.ID.String(),
		)
	}
}
