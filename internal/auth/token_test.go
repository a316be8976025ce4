package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
)

func testActor() domain.Actor {
	return domain.Actor{
		ID:    domain.NewActorID(),
		Kind:  domain.ActorKindStaffUser,
		Role:  "house_manager",
		OrgID: domain.NewOrgID(),
		Scope: &domain.Scope{Type: domain.ScopeHouse, ID: uuid.New()},
	}
}

func TestIssueAndValidate(t *testing.T) {
	tokens := NewTokenService("test-signing-key", "carecore", "carecore-api")
	actor := testActor()

	token, err := tokens.Issue(actor, time.Hour)
	require.NoError(t, err)

	claims, err := tokens.Validate(token)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)

	got, err := claims.Actor()
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestValidateRejects(t *testing.T) {
	tokens := NewTokenService("test-signing-key", "carecore", "carecore-api")
	actor := testActor()

	expired, err := tokens.Issue(actor, -time.Minute)
	require.NoError(t, err)
	otherIssuer, err := NewTokenService("test-signing-key", "someone-else", "carecore-api").Issue(actor, time.Hour)
	require.NoError(t, err)
	otherAudience, err := NewTokenService("test-signing-key", "carecore", "other-api").Issue(actor, time.Hour)
	require.NoError(t, err)
	otherKey, err := NewTokenService("another-key", "carecore", "carecore-api").Issue(actor, time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		message string
	}{
		{"garbage", "not-a-token", "invalid token"},
		{"expired", expired, "token has expired"},
		{"wrong issuer", otherIssuer, "invalid token"},
		{"wrong audience", otherAudience, "invalid token"},
		{"wrong key", otherKey, "invalid token"},
		{"unsigned", none, "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokens.Validate(tt.token)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
			assert.Equal(t, tt.message, dErrors.MessageOf(err))
		})
	}
}

func TestClaimsActorRejectsMalformedIdentifiers(t *testing.T) {
	valid := Claims{
		Kind:             string(domain.ActorKindResident),
		OrgID:            domain.NewOrgID().String(),
		RegisteredClaims: jwt.RegisteredClaims{Subject: domain.NewActorID().String()},
	}
	_, err := valid.Actor()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Claims)
	}{
		{"subject", func(c *Claims) { c.Subject = "nope" }},
		{"org", func(c *Claims) { c.OrgID = "" }},
		{"kind", func(c *Claims) { c.Kind = "robot" }},
		{"scope", func(c *Claims) {
			c.ScopeType = "house"
			c.ScopeID = "x"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			_, err := c.Actor()
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		})
	}
}
