package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.True(t, CheckPasswordHash("correct horse battery staple", hash))
	assert.False(t, CheckPasswordHash("wrong password", hash))
}

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")

	token, err := issuer.GenerateToken(1234, "alice", false)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := issuer.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.False(t, claims.Guest)
}

func TestGuestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")

	token, err := issuer.GenerateToken(54321, "guest-abc", true)
	require.NoError(t, err)

	claims, err := issuer.ParseToken(token)
	require.NoError(t, err)
	assert.True(t, claims.Guest)
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := NewTokenIssuer("secret-a").GenerateToken(1, "alice", false)
	require.NoError(t, err)

	_, err = NewTokenIssuer("secret-b").ParseToken(token)
	assert.Error(t, err)
}

func TestParseTokenGarbage(t *testing.T) {
	_, err := NewTokenIssuer("secret").ParseToken("not.a.token")
	assert.Error(t, err)
}

func TestNewGuestIdentity(t *testing.T) {
	for i := 0; i < 20; i++ {
		id, name := NewGuestIdentity()
		assert.GreaterOrEqual(t, id, int64(10000))
		assert.LessOrEqual(t, id, int64(99999))
		assert.True(t, strings.HasPrefix(name, "guest-"))
	}
}
