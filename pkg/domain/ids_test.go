package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "carecore/pkg/domain-errors"
)

func TestParseID_TrustBoundary(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE consents;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Empty string", "", true},
		{"Whitespace only", "   ", true},
		{"Nil UUID", uuid.Nil.String(), true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOrgID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	valid := uuid.New().String()

	_, errOrg := ParseOrgID(valid)
	_, errActor := ParseActorID(valid)
	_, errResident := ParseResidentID(valid)
	_, errConsent := ParseConsentID(valid)
	_, errEntry := ParseAuditEntryID(valid)
	require.NoError(t, errOrg)
	require.NoError(t, errActor)
	require.NoError(t, errResident)
	require.NoError(t, errConsent)
	require.NoError(t, errEntry)

	for _, input := range []string{"", "invalid", uuid.Nil.String()} {
		_, errOrg := ParseOrgID(input)
		_, errActor := ParseActorID(input)
		_, errResident := ParseResidentID(input)
		_, errConsent := ParseConsentID(input)
		_, errEntry := ParseAuditEntryID(input)
		require.Error(t, errOrg)
		require.Error(t, errActor)
		require.Error(t, errResident)
		require.Error(t, errConsent)
		require.Error(t, errEntry)
	}
}

func TestActor_ActsAs(t *testing.T) {
	residentID := NewResidentID()

	self := Actor{ID: ActorID(residentID), Kind: ActorKindResident}
	assert.True(t, self.ActsAs(residentID))

	staffWithSameID := Actor{ID: ActorID(residentID), Kind: ActorKindStaffUser}
	assert.False(t, staffWithSameID.ActsAs(residentID), "only resident principals own resident records")

	assert.False(t, self.ActsAs(ResidentID{}), "nil owner never matches")
	assert.False(t, self.ActsAs(NewResidentID()))
}

func TestOrgID_Bytes(t *testing.T) {
	org := NewOrgID()
	u := uuid.UUID(org)
	assert.Equal(t, u[:], org.Bytes())
	assert.Len(t, org.Bytes(), 16)
}
