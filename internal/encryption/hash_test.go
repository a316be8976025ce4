package encryption

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "carecore/pkg/domain-errors"
)

func TestHashValue(t *testing.T) {
	encoded, err := HashValue("4821")
	require.NoError(t, err)

	parts := strings.Split(encoded, "$")
	require.Len(t, parts, 4)
	assert.Equal(t, "pbkdf2-sha512", parts[0])
	assert.Equal(t, "100000", parts[1])

	t.Run("verifies the original value", func(t *testing.T) {
		ok, err := VerifyHash("4821", encoded)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("rejects a different value", func(t *testing.T) {
		ok, err := VerifyHash("4822", encoded)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("salts every hash", func(t *testing.T) {
		again, err := HashValue("4821")
		require.NoError(t, err)
		assert.NotEqual(t, encoded, again)
	})
}

func TestHashValueRejectsEmpty(t *testing.T) {
	_, err := HashValue("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestVerifyHashMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"bcrypt$10$abc$def",
		"pbkdf2-sha512$notanumber$c2FsdA$aGFzaA",
		"pbkdf2-sha512$0$c2FsdA$aGFzaA",
		"pbkdf2-sha512$1000$!!$aGFzaA",
		"pbkdf2-sha512$1000$c2FsdA$",
	} {
		_, err := VerifyHash("x", encoded)
		assert.Truef(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "encoded=%q", encoded)
	}
}
