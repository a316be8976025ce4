// Package encryption provides per-organization field encryption, keyed
// digests, the audit chain secret and PBKDF2 value hashing.
//
// Every organization gets its own 256-bit data encryption key derived from
// the platform master secret with HKDF-SHA256 (salt = org id). Ciphertexts are
// AES-256-GCM, encoded as base64(nonce || ciphertext || tag).
package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/hkdf"

	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
)

// HKDF info labels. Changing one rotates every key derived under it.
const (
	infoDEK         = "carecore/dek/v1"
	infoDigest      = "carecore/digest/v1"
	infoAuditSecret = "carecore/audit-chain/v1"
)

const (
	keySize       = 32
	nonceSize     = 12
	tagSize       = 16
	minMasterSize = 32
)

// FailureHook is told about every decryption failure. Hooks must not block.
type FailureHook func(ctx context.Context, orgID domain.OrgID, err error)

// Service encrypts and decrypts protected fields.
type Service struct {
	master  []byte
	cache   *KeyCache
	random  io.Reader
	logger  *slog.Logger
	metrics *Metrics
	hooks   []FailureHook
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithFailureHook adds a hook run on each decryption failure.
func WithFailureHook(h FailureHook) Option {
	return func(s *Service) {
		if h != nil {
			s.hooks = append(s.hooks, h)
		}
	}
}

// WithRandom replaces the nonce source. Tests only.
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		s.random = r
	}
}

// New validates the master secret and returns a Service using cache.
func New(master []byte, cache *KeyCache, opts ...Option) (*Service, error) {
	if len(master) < minMasterSize {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("master secret must be at least %d bytes", minMasterSize))
	}
	if cache == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "key cache is required")
	}
	s := &Service{
		master: append([]byte(nil), master...),
		cache:  cache,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddFailureHook registers a hook after construction, for wiring that
// depends on components built later (the audit writer).
func (s *Service) AddFailureHook(h FailureHook) {
	if h != nil {
		s.hooks = append(s.hooks, h)
	}
}

// DeriveKey returns the org's data encryption key.
func (s *Service) DeriveKey(orgID domain.OrgID) ([]byte, error) {
	return s.derive(orgID, infoDEK)
}

func (s *Service) derive(orgID domain.OrgID, info string) ([]byte, error) {
	if orgID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "org id is required for key derivation")
	}
	if k, ok := s.cache.get(orgID, info); ok {
		return k, nil
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.master, orgID.Bytes(), []byte(info)), key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "derive key")
	}
	return s.cache.put(orgID, info, key), nil
}

func (s *Service) aead(orgID domain.OrgID) (cipher.AEAD, error) {
	key, err := s.DeriveKey(orgID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "new cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "new gcm")
	}
	return gcm, nil
}

// EncryptField seals plaintext under the org's key with a fresh nonce.
func (s *Service) EncryptField(plaintext string, orgID domain.OrgID) (string, error) {
	gcm, err := s.aead(orgID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "generate nonce")
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	s.metrics.incEncrypted()
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptField opens a blob produced by EncryptField for the same org. Any
// failure yields CodeDecryptionFailed and is reported to the failure hooks;
// no partial plaintext is ever returned.
func (s *Service) DecryptField(ctx context.Context, blob string, orgID domain.OrgID) (string, error) {
	plaintext, err := s.open(blob, orgID)
	if err != nil {
		s.reportFailure(ctx, orgID, err)
		return "", dErrors.Wrap(err, dErrors.CodeDecryptionFailed, "field could not be decrypted")
	}
	return plaintext, nil
}

func (s *Service) open(blob string, orgID domain.OrgID) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	if len(raw) < nonceSize+tagSize {
		return "", fmt.Errorf("payload too short: %d bytes", len(raw))
	}
	gcm, err := s.aead(orgID)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plaintext), nil
}

func (s *Service) reportFailure(ctx context.Context, orgID domain.OrgID, err error) {
	s.metrics.incDecryptFailure()
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "SECURITY: field decryption failed",
			"org_id", orgID.String(),
			"error", err,
		)
	}
	for _, h := range s.hooks {
		h(ctx, orgID, err)
	}
}

// Digest returns a hex HMAC-SHA256 of value under an org-scoped subkey. Equal
// inputs within one org produce equal digests, so encrypted columns can be
// matched without decryption.
func (s *Service) Digest(value string, orgID domain.OrgID) (string, error) {
	key, err := s.derive(orgID, infoDigest)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// AuditSecret returns the org's audit chain HMAC secret.
func (s *Service) AuditSecret(_ context.Context, orgID domain.OrgID) ([]byte, error) {
	return s.derive(orgID, infoAuditSecret)
}
