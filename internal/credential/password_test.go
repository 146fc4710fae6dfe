package credential_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filehub/authd/internal/credential"
)

func TestHashPassword_VerifyPassword_RoundTrip(t *testing.T) {
	hash, err := credential.HashPassword("Correct-Horse1!")
	require.NoError(t, err)
	assert.True(t, credential.VerifyPassword("Correct-Horse1!", hash))
	assert.False(t, credential.VerifyPassword("wrong-password", hash))
}

func TestHashPassword_IsSaltedPerCall(t *testing.T) {
	a, err := credential.HashPassword("Correct-Horse1!")
	require.NoError(t, err)
	b, err := credential.HashPassword("Correct-Horse1!")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyPassword_RejectsMalformedHash(t *testing.T) {
	assert.False(t, credential.VerifyPassword("anything", "not-a-phc-hash"))
	assert.False(t, credential.VerifyPassword("anything", "$argon2id$v=19$m=bad$salt$hash"))
}

func TestPasswordPolicy_Validate(t *testing.T) {
	policy := credential.DefaultPasswordPolicy()

	cases := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"too short", "Ab1!", true},
		{"missing symbol", "Abcdefgh1", true},
		{"missing digit", "Abcdefgh!", true},
		{"missing upper", "abcdefgh1!", true},
		{"missing lower", "ABCDEFGH1!", true},
		{"weak dictionary word", "Password1!", true},
		{"strong password", "Xq7$mvKt93!zL", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := policy.Validate(c.password, "someuser", "")
			if c.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPasswordPolicy_Validate_RejectsReuse(t *testing.T) {
	policy := credential.DefaultPasswordPolicy()
	prevHash, err := credential.HashPassword("Xq7$mvKt93!zL")
	require.NoError(t, err)

	err = policy.Validate("Xq7$mvKt93!zL", "someuser", prevHash)
	assert.Error(t, err)

	err = policy.Validate("Different9#Pass", "someuser", prevHash)
	assert.NoError(t, err)
}
