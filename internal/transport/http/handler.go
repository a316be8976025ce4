// Package httptransport is the HTTP adapter over the access pipeline. Every
// route funnels through one pipeline run so the decision and its audit
// entry are produced the same way for all callers.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"carecore/internal/access"
	"carecore/internal/audit"
	"carecore/internal/auth"
	consentModels "carecore/internal/consent/models"
	"carecore/internal/permission"
	"carecore/internal/pipeline"
	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
	"carecore/pkg/platform/httputil"
	"carecore/pkg/requestcontext"
)

type Runner interface {
	Run(ctx context.Context, op pipeline.Operation, handler pipeline.Handler) (access.Decision, error)
}

// ConsentLedger is the subset of the consent service the routes drive.
type ConsentLedger interface {
	Get(ctx context.Context, id domain.ConsentID) (*consentModels.Consent, error)
	Create(ctx context.Context, req consentModels.CreateRequest) (*consentModels.Consent, error)
	Activate(ctx context.Context, id domain.ConsentID, signedAt time.Time) (*consentModels.Consent, error)
	Revoke(ctx context.Context, id domain.ConsentID, reason string, actor domain.ActorID) (*consentModels.Consent, error)
	Renew(ctx context.Context, id domain.ConsentID, newExpiration time.Time) (*consentModels.Consent, error)
}

type ChainVerifier interface {
	VerifyChain(ctx context.Context, orgID domain.OrgID, from, to time.Time) (audit.VerifyResult, error)
}

type Handler struct {
	logger   *slog.Logger
	pipeline Runner
	consents ConsentLedger
	verifier ChainVerifier
}

func NewHandler(p Runner, consents ConsentLedger, verifier ChainVerifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		pipeline: p,
		consents: consents,
		verifier: verifier,
	}
}

// Register mounts the v1 routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/decisions", h.handleDecide)
		r.Route("/orgs/{orgID}", func(r chi.Router) {
			r.Get("/audit/verify", h.handleVerifyChain)
			r.Post("/consents", h.handleCreateConsent)
			r.Post("/consents/{consentID}/activate", h.handleActivateConsent)
			r.Post("/consents/{consentID}/revoke", h.handleRevokeConsent)
			r.Post("/consents/{consentID}/renew", h.handleRenewConsent)
		})
	})
}

// handleDecide answers "may this caller do this?" without running any
// business logic. Denials are a 200 with allow=false.
func (h *Handler) handleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req decideRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	sanitize(&req)
	resource, err := req.toResource()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	decision, err := h.pipeline.Run(ctx, pipeline.Operation{
		Token:       bearer(r),
		Resource:    resource,
		Description: "decision requested",
	}, func(context.Context, access.Decision) (*pipeline.Change, error) {
		return nil, nil
	})
	if err != nil && decision.Reason == "" {
		h.logFailure(ctx, "decision request failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDecisionResponse(decision))
}

func (h *Handler) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := domain.ParseOrgID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var result audit.VerifyResult
	_, err = h.pipeline.Run(ctx, pipeline.Operation{
		Token: bearer(r),
		Resource: access.Resource{
			OrgID:  orgID,
			Type:   permission.ResourceAuditLog,
			Action: permission.ActionRead,
		},
		Description: "audit chain verified",
	}, func(ctx context.Context, _ access.Decision) (*pipeline.Change, error) {
		var verr error
		result, verr = h.verifier.VerifyChain(ctx, orgID, from, to)
		return nil, verr
	})
	if err != nil {
		h.logFailure(ctx, "audit chain verification failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVerifyResponse(result))
}

func (h *Handler) handleCreateConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := domain.ParseOrgID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req createConsentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	sanitize(&req)
	residentID, err := domain.ParseResidentID(req.ResidentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var created *consentModels.Consent
	decision, err := h.pipeline.Run(ctx, pipeline.Operation{
		Token: bearer(r),
		Resource: access.Resource{
			OrgID:           orgID,
			Type:            permission.ResourceConsent,
			Action:          permission.ActionCreate,
			OwnerResidentID: residentID,
		},
		Description: "consent created",
	}, func(ctx context.Context, _ access.Decision) (*pipeline.Change, error) {
		var cerr error
		created, cerr = h.consents.Create(ctx, consentModels.CreateRequest{
			OrgID:              orgID,
			ResidentID:         residentID,
			Recipient:          req.Recipient,
			Purpose:            req.Purpose,
			ScopeOfInformation: req.ScopeOfInformation,
			ExpiresAt:          req.ExpiresAt,
		})
		if cerr != nil {
			return nil, cerr
		}
		return &pipeline.Change{NewValue: created.ID.String() + ":" + string(created.Status)}, nil
	})
	if err != nil {
		h.logFailure(ctx, "consent creation failed", err)
		httputil.WriteError(w, err)
		return
	}
	h.writeConsent(w, http.StatusCreated, created, decision.Redaction)
}

func (h *Handler) handleActivateConsent(w http.ResponseWriter, r *http.Request) {
	var req activateConsentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.updateConsent(w, r, "consent activated", func(ctx context.Context, id domain.ConsentID, _ domain.Actor) (*consentModels.Consent, error) {
		signedAt := requestcontext.Now(ctx)
		if req.SignedAt != nil {
			signedAt = *req.SignedAt
		}
		return h.consents.Activate(ctx, id, signedAt)
	})
}

func (h *Handler) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	var req revokeConsentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	sanitize(&req)
	h.updateConsent(w, r, "consent revoked", func(ctx context.Context, id domain.ConsentID, actor domain.Actor) (*consentModels.Consent, error) {
		return h.consents.Revoke(ctx, id, req.Reason, actor.ID)
	})
}

func (h *Handler) handleRenewConsent(w http.ResponseWriter, r *http.Request) {
	var req renewConsentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.ExpiresAt.IsZero() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "expires_at is required"))
		return
	}
	h.updateConsent(w, r, "consent renewed", func(ctx context.Context, id domain.ConsentID, _ domain.Actor) (*consentModels.Consent, error) {
		return h.consents.Renew(ctx, id, req.ExpiresAt)
	})
}

type consentMutation func(ctx context.Context, id domain.ConsentID, actor domain.Actor) (*consentModels.Consent, error)

// updateConsent guards a state change on an existing consent. The consent
// is loaded only after the caller is allowed to update consents in the
// path's organization, and one from another organization reads as missing.
func (h *Handler) updateConsent(w http.ResponseWriter, r *http.Request, description string, mutate consentMutation) {
	ctx := r.Context()
	orgID, err := domain.ParseOrgID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	consentID, err := domain.ParseConsentID(chi.URLParam(r, "consentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var updated *consentModels.Consent
	decision, err := h.pipeline.Run(ctx, pipeline.Operation{
		Token: bearer(r),
		Resource: access.Resource{
			OrgID:  orgID,
			Type:   permission.ResourceConsent,
			ID:     domain.ResourceID(consentID.String()),
			Action: permission.ActionUpdate,
		},
		Description: description,
	}, func(ctx context.Context, _ access.Decision) (*pipeline.Change, error) {
		current, gerr := h.consents.Get(ctx, consentID)
		if gerr != nil {
			return nil, gerr
		}
		if current.OrgID != orgID {
			return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
		}
		actor, _ := requestcontext.Actor(ctx)
		var merr error
		updated, merr = mutate(ctx, consentID, actor)
		if merr != nil {
			return nil, merr
		}
		return &pipeline.Change{OldValue: string(current.Status), NewValue: string(updated.Status)}, nil
	})
	if err != nil {
		h.logFailure(ctx, description+" failed", err)
		httputil.WriteError(w, err)
		return
	}
	h.writeConsent(w, http.StatusOK, updated, decision.Redaction)
}

// writeConsent strips the fields a Part2 redaction obligation names before
// the consent leaves the process.
func (h *Handler) writeConsent(w http.ResponseWriter, status int, c *consentModels.Consent, obligation *access.Redaction) {
	body, err := redacted(toConsentResponse(c), obligation)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode consent"))
		return
	}
	httputil.WriteJSON(w, status, body)
}

func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	code := dErrors.CodeOf(err)
	level := slog.LevelInfo
	if code == dErrors.CodeInternal || code == dErrors.CodeDecryptionFailed {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"code", string(code),
		"error", err,
	)
}

func bearer(r *http.Request) string {
	token, _ := auth.BearerToken(r.Header.Get("Authorization"))
	return token
}

// parseRange reads the optional RFC 3339 from/to query parameters. A
// missing from starts at the beginning of the chain and a missing to ends at
// the request time.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	var from time.Time
	to := requestcontext.Now(r.Context())
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, dErrors.New(dErrors.CodeInvalidInput, "from must be RFC 3339")
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, dErrors.New(dErrors.CodeInvalidInput, "to must be RFC 3339")
		}
		to = t
	}
	if to.Before(from) {
		return from, to, dErrors.New(dErrors.CodeInvalidInput, "to must not be before from")
	}
	return from, to, nil
}
