package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "jwt-test-secret"

func init() {
	SetJWTSecret(testSecret)
}

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken(42, "qa-lead", "admin", 2)
	require.NoError(t, err)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "qa-lead", claims.Username)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "testcasecraft", claims.Issuer)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestParseToken_Rejects(t *testing.T) {
	expired, err := GenerateToken(1, "qa", "user", -1)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: 1}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":       "",
		"garbage":     "not.a.token",
		"expired":     expired,
		"alg none":    none,
		"other alg":   hs512,
		"bad segment": "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.e30.c2ln",
	} {
		_, err := ParseToken(token)
		assert.Error(t, err, name)
	}
}

func TestParseToken_SecretRotation(t *testing.T) {
	t.Cleanup(func() { SetJWTSecret(testSecret) })

	SetJWTSecret("before-rotation")
	token, err := GenerateToken(1, "qa", "user", 1)
	require.NoError(t, err)

	SetJWTSecret("after-rotation")
	_, err = ParseToken(token)
	assert.Error(t, err)
}
