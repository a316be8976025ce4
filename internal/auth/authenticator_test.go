package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	dErrors "carecore/pkg/domain-errors"
)

type AuthenticatorSuite struct {
	suite.Suite
	ctx    context.Context
	redis  *miniredis.Miniredis
	tokens *TokenService
	auth   *Authenticator
}

func TestAuthenticatorSuite(t *testing.T) {
	suite.Run(t, new(AuthenticatorSuite))
}

func (s *AuthenticatorSuite) SetupTest() {
	s.ctx = context.Background()
	s.redis = miniredis.RunT(s.T())
	client := redis.NewClient(&redis.Options{Addr: s.redis.Addr()})
	s.T().Cleanup(func() { _ = client.Close() })

	s.tokens = NewTokenService("test-signing-key", "carecore", "carecore-api")
	s.auth = NewAuthenticator(s.tokens, WithRevocationList(NewRedisRevocationList(client)))
}

func (s *AuthenticatorSuite) TestAuthenticate() {
	actor := testActor()
	token, err := s.tokens.Issue(actor, time.Hour)
	s.Require().NoError(err)

	got, err := s.auth.Authenticate(s.ctx, token)
	s.Require().NoError(err)
	s.Equal(actor.ID, got.ID)
	s.Equal(actor.OrgID, got.OrgID)

	_, err = s.auth.Authenticate(s.ctx, "")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = s.auth.Authenticate(s.ctx, "garbage")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *AuthenticatorSuite) TestRevokedTokenIsRejectedUntilExpiry() {
	token, err := s.tokens.Issue(testActor(), time.Hour)
	s.Require().NoError(err)

	s.Require().NoError(s.auth.Revoke(s.ctx, token))
	_, err = s.auth.Authenticate(s.ctx, token)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Equal("token has been revoked", dErrors.MessageOf(err))

	claims, err := s.tokens.Validate(token)
	s.Require().NoError(err)
	ttl := s.redis.TTL(revokedTokenKeyPrefix + claims.ID)
	s.Greater(ttl, 59*time.Minute)
	s.LessOrEqual(ttl, time.Hour)
}

func (s *AuthenticatorSuite) TestRevocationOutageIsInternal() {
	token, err := s.tokens.Issue(testActor(), time.Hour)
	s.Require().NoError(err)
	s.redis.Close()

	_, err = s.auth.Authenticate(s.ctx, token)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *AuthenticatorSuite) TestWithoutRevocationList() {
	plain := NewAuthenticator(s.tokens)
	token, err := s.tokens.Issue(testActor(), time.Hour)
	s.Require().NoError(err)

	_, err = plain.Authenticate(s.ctx, token)
	s.NoError(err)
	s.True(dErrors.HasCode(plain.Revoke(s.ctx, token), dErrors.CodeInternal))
}

func (s *AuthenticatorSuite) TestBearerToken() {
	token, ok := BearerToken("Bearer abc.def")
	s.True(ok)
	s.Equal("abc.def", token)

	_, ok = BearerToken("Basic Zm9v")
	s.False(ok)
	_, ok = BearerToken("Bearer ")
	s.False(ok)
}

func (s *AuthenticatorSuite) TestLocalRevocationListExpires() {
	list := NewLocalRevocationList()
	now := time.Now()
	list.now = func() time.Time { return now }

	s.Require().NoError(list.Revoke(s.ctx, "jti-1", time.Minute))
	revoked, err := list.IsRevoked(s.ctx, "jti-1")
	s.Require().NoError(err)
	s.True(revoked)

	now = now.Add(2 * time.Minute)
	revoked, err = list.IsRevoked(s.ctx, "jti-1")
	s.Require().NoError(err)
	s.False(revoked)
}
