// Package auth turns bearer tokens into authenticated actors.
package auth

import (
	"context"
	"log/slog"
	"strings"

	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
	"carecore/pkg/requestcontext"
)

type Authenticator struct {
	tokens      *TokenService
	revocations RevocationList
	logger      *slog.Logger
}

type Option func(*Authenticator)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithRevocationList enables jti revocation checks.
func WithRevocationList(list RevocationList) Option {
	return func(a *Authenticator) {
		a.revocations = list
	}
}

func NewAuthenticator(tokens *TokenService, opts ...Option) *Authenticator {
	a := &Authenticator{tokens: tokens, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

// Authenticate validates the token and returns the actor it names. Every
// failure carries CodeUnauthorized except a revocation store outage, which
// is CodeInternal.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (domain.Actor, error) {
	if token == "" {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token")
	}
	claims, err := a.tokens.Validate(token)
	if err != nil {
		a.logger.WarnContext(ctx, "unauthorized access - invalid token",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return domain.Actor{}, err
	}

	if a.revocations != nil {
		if claims.ID == "" {
			return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token has no id")
		}
		revoked, err := a.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to check token revocation",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			return domain.Actor{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to validate token")
		}
		if revoked {
			a.logger.WarnContext(ctx, "unauthorized access - token revoked",
				"jti", claims.ID,
				"request_id", requestcontext.RequestID(ctx),
			)
			return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token has been revoked")
		}
	}
	return claims.Actor()
}

// Revoke invalidates a token for the rest of its lifetime.
func (a *Authenticator) Revoke(ctx context.Context, token string) error {
	if a.revocations == nil {
		return dErrors.New(dErrors.CodeInternal, "token revocation is not configured")
	}
	claims, err := a.tokens.Validate(token)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Time.Sub(a.tokens.now())
	if err := a.revocations.Revoke(ctx, claims.ID, ttl); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke token")
	}
	return nil
}
