package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
)

// Claims is the access token payload. Subject carries the actor id.
type Claims struct {
	Kind      string `json:"kind"`
	Role      string `json:"role"`
	OrgID     string `json:"org_id"`
	ScopeType string `json:"scope_type,omitempty"`
	ScopeID   string `json:"scope_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 access tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

func NewTokenService(signingKey, issuer, audience string) *TokenService {
	return &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
}

// Issue signs a token for actor valid for ttl.
func (s *TokenService) Issue(actor domain.Actor, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Kind:  string(actor.Kind),
		Role:  actor.Role,
		OrgID: actor.OrgID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	}
	if actor.Scope != nil {
		claims.ScopeType = string(actor.Scope.Type)
		claims.ScopeID = actor.Scope.ID.String()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signed, nil
}

// Validate checks signature, expiry, issuer and audience.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// Actor rebuilds the principal from validated claims. Malformed identifiers
// are unauthorized, not invalid input: the caller cannot fix them.
func (c *Claims) Actor() (domain.Actor, error) {
	actorID, err := domain.ParseActorID(c.Subject)
	if err != nil {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token subject is invalid")
	}
	orgID, err := domain.ParseOrgID(c.OrgID)
	if err != nil {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token organization is invalid")
	}
	kind := domain.ActorKind(c.Kind)
	if kind != domain.ActorKindStaffUser && kind != domain.ActorKindResident {
		return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token actor kind is invalid")
	}
	actor := domain.Actor{ID: actorID, Kind: kind, Role: c.Role, OrgID: orgID}
	if c.ScopeType != "" {
		scopeID, err := uuid.Parse(c.ScopeID)
		if err != nil {
			return domain.Actor{}, dErrors.New(dErrors.CodeUnauthorized, "token scope is invalid")
		}
		actor.Scope = &domain.Scope{Type: domain.ScopeType(c.ScopeType), ID: scopeID}
	}
	return actor, nil
}
