package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPasswordWithCost("secret", bcrypt.MinCost)
	require.NoError(t, err)

	require.True(t, VerifyPassword(hash, "secret"))
	require.False(t, VerifyPassword(hash, "incorrect"))
	require.True(t, IsBcryptHash(hash))
}

func TestHashPasswordClampsCost(t *testing.T) {
	hash, err := HashPasswordWithCost("secret", 1)
	require.NoError(t, err)

	cost, err := BcryptCost(hash)
	require.NoError(t, err)
	require.Equal(t, bcrypt.MinCost, cost)
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	require.False(t, VerifyPassword("", ""))
	require.False(t, VerifyPassword("not-a-hash", "secret"))
	require.False(t, VerifyPassword("$2a$10$short", "secret"))
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(32)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotContains(t, token, "=")

	other, err := GenerateToken(32)
	require.NoError(t, err)
	require.NotEqual(t, token, other)
}

func TestGenerateTokenEnforcesMinimumEntropy(t *testing.T) {
	_, err := GenerateToken(8)
	require.ErrorIs(t, err, ErrTokenTooShort)
}

func TestHashTokenIsDeterministicHex(t *testing.T) {
	a := HashToken("value")
	require.Equal(t, a, HashToken("value"))
	require.Len(t, a, 64)
	require.Equal(t, strings.ToLower(a), a)
	require.NotEqual(t, a, HashToken("other"))
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, ConstantTimeEqual("abc", "abc"))
	require.False(t, ConstantTimeEqual("abc", "abd"))
	require.False(t, ConstantTimeEqual("abc", "abcd"))
}
