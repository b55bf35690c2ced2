package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/inventory-backend/internal/config"
	"github.com/your-org/inventory-backend/internal/pkg/auth"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "Inventory Backend"},
		JWT: config.JWTConfig{
			Secret:             "test-secret-key-that-is-long-enough-123",
			AccessTokenExpiry:  time.Hour,
			RefreshTokenExpiry: 24 * time.Hour,
		},
		Security: config.SecurityConfig{BcryptCost: 4}, // min cost, tests only
	}
}

func TestJWT_AccessTokenRoundTrip(t *testing.T) {
	mgr := auth.NewJWTManager(testConfig())

	token, err := mgr.GenerateAccessToken(42, "ops@example.com", true)
	require.NoError(t, err)

	claims, err := mgr.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.OperatorID)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, "operator:42", claims.Subject)
}

func TestJWT_RefreshTokenIsNotAnAccessToken(t *testing.T) {
	mgr := auth.NewJWTManager(testConfig())

	refresh, err := mgr.GenerateRefreshToken(42, "ops@example.com")
	require.NoError(t, err)

	_, err = mgr.ValidateAccessToken(refresh)
	assert.Error(t, err)

	claims, err := mgr.ValidateRefreshToken(refresh)
	require.NoError(t, err)
	assert.False(t, claims.IsAdmin, "refresh tokens never carry admin status")
}

func TestJWT_WrongSecretRejected(t *testing.T) {
	mgr := auth.NewJWTManager(testConfig())
	token, err := mgr.GenerateAccessToken(1, "ops@example.com", false)
	require.NoError(t, err)

	other := testConfig()
	other.JWT.Secret = "a-completely-different-secret-key-456"
	_, err = auth.NewJWTManager(other).ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestExtractTokenFromHeader(t *testing.T) {
	assert.Equal(t, "abc", auth.ExtractTokenFromHeader("Bearer abc"))
	assert.Equal(t, "", auth.ExtractTokenFromHeader("abc"))
	assert.Equal(t, "", auth.ExtractTokenFromHeader(""))
}

func TestPassword_HashAndVerify(t *testing.T) {
	pm := auth.NewPasswordManager(testConfig())

	hash, err := pm.HashPassword("Sup3rSecret")
	require.NoError(t, err)
	assert.NotEqual(t, "Sup3rSecret", hash)

	assert.NoError(t, pm.VerifyPassword("Sup3rSecret", hash))
	assert.Error(t, pm.VerifyPassword("wrong", hash))
}

func TestPassword_StrengthRules(t *testing.T) {
	pm := auth.NewPasswordManager(testConfig())

	assert.Error(t, pm.ValidatePassword("Ab1"), "too short")
	assert.Error(t, pm.ValidatePassword("alllowercase1"), "no uppercase")
	assert.Error(t, pm.ValidatePassword("ALLUPPERCASE1"), "no lowercase")
	assert.Error(t, pm.ValidatePassword("NoNumbersHere"), "no number")
	assert.NoError(t, pm.ValidatePassword("GoodPass1"))
}

func TestGenerateTemporaryPassword_PassesValidation(t *testing.T) {
	pm := auth.NewPasswordManager(testConfig())

	tmp, err := pm.GenerateTemporaryPassword()
	require.NoError(t, err)
	assert.NoError(t, pm.ValidatePassword(tmp))
}
