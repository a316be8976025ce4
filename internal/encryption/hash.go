package encryption

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	dErrors "carecore/pkg/domain-errors"
)

const (
	hashScheme     = "pbkdf2-sha512"
	hashIterations = 100_000
	hashSaltSize   = 16
	hashKeySize    = 64
)

// HashValue derives a salted PBKDF2-SHA512 hash for one-way storage (PINs,
// recovery codes). Format: pbkdf2-sha512$<iterations>$<salt>$<hash>.
func HashValue(value string) (string, error) {
	if value == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "value cannot be empty")
	}
	salt := make([]byte, hashSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("could not generate salt: %w", err)
	}
	sum := pbkdf2.Key([]byte(value), salt, hashIterations, hashKeySize, sha512.New)
	return strings.Join([]string{
		hashScheme,
		strconv.Itoa(hashIterations),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	}, "$"), nil
}

// VerifyHash reports whether value matches an encoded hash from HashValue.
// A malformed encoding is CodeInvalidInput; a mismatch is (false, nil).
func VerifyHash(value, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashScheme {
		return false, dErrors.New(dErrors.CodeInvalidInput, "unrecognized hash format")
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false, dErrors.New(dErrors.CodeInvalidInput, "invalid hash iterations")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, dErrors.New(dErrors.CodeInvalidInput, "invalid hash salt")
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false, dErrors.New(dErrors.CodeInvalidInput, "invalid hash digest")
	}
	got := pbkdf2.Key([]byte(value), salt, iterations, len(want), sha512.New)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
