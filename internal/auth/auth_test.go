package auth

import (
	"testing"
	"time"

	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret: "test-secret",
		JWTExpiry: time.Hour,
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("trust-no-one")
	require.NoError(t, err)
	assert.NotEqual(t, "trust-no-one", hash)

	assert.True(t, CheckPassword(hash, "trust-no-one"))
	assert.False(t, CheckPassword(hash, "wrong-password"))
	assert.False(t, CheckPassword("not-a-hash", "trust-no-one"))
}

func TestTokenRoundTrip(t *testing.T) {
	cfg := testConfig()

	token, err := GenerateToken(cfg, 42, "player@example.com", true)
	require.NoError(t, err)

	claims, err := ValidateToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "player@example.com", claims.Email)
	assert.True(t, claims.IsStaff)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	cfg := testConfig()

	token, err := GenerateToken(cfg, 1, "a@example.com", false)
	require.NoError(t, err)

	other := &config.Config{JWTSecret: "different-secret", JWTExpiry: time.Hour}
	_, err = ValidateToken(other, token)
	assert.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret", JWTExpiry: -time.Minute}

	token, err := GenerateToken(cfg, 1, "a@example.com", false)
	require.NoError(t, err)

	_, err = ValidateToken(cfg, token)
	assert.Error(t, err)
}

func TestValidateTokenGarbage(t *testing.T) {
	_, err := ValidateToken(testConfig(), "not.a.token")
	assert.Error(t, err)
}

func TestExtractTokenFromHeader(t *testing.T) {
	token, err := ExtractTokenFromHeader("Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	token, err = ExtractTokenFromHeader("bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	_, err = ExtractTokenFromHeader("abc123")
	assert.Error(t, err)

	_, err = ExtractTokenFromHeader("Basic abc123")
	assert.Error(t, err)
}
